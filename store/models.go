package store

import "time"

// Processing states shared by Transcription and Job rows. Terminal states are
// final: repository update methods refuse to move a row out of completed or
// failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Media origins.
const (
	OriginUpload   = "upload"
	OriginDownload = "download"
)

// Job kinds.
const (
	JobKindDownload   = "download"
	JobKindTranscribe = "transcribe"
)

// UnknownTopicName is the reserved taxonomy label assigned when
// classification cannot map content onto any canonical topic. The seed
// migration guarantees it exists.
const UnknownTopicName = "Unknown"

// MediaFile is a stored audio blob owned by one user. (owner_id,
// content_hash) is unique per the dedup invariant; the on-disk blob at
// StoredPath exists iff the row does.
type MediaFile struct {
	ID              int64
	OwnerID         string
	StoredPath      string
	DisplayName     string
	ByteSize        int64
	MIME            string
	DurationSeconds *float64
	ContentHash     string
	Origin          string
	OriginURL       string
	OriginPlatform  string
	CreatedAt       time.Time
}

// Segment is one time-aligned span emitted by the speech model.
type Segment struct {
	StartS     float64 `json:"start"`
	EndS       float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcription holds the speech-model output for one media file. OwnerID is
// denormalized from the parent MediaFile so search and topic queries avoid a
// join.
type Transcription struct {
	ID                int64
	MediaFileID       int64
	OwnerID           string
	FullText          string
	Segments          []Segment
	Language          string
	ModelName         string
	ModelVersion      string
	AvgConfidence     *float64
	ProcessingSeconds *float64
	Status            string
	ErrorText         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Chunk is one topic-coherent slice of a transcription. Indexes are dense
// (0..N-1) and character ranges tile the transcript exactly.
type Chunk struct {
	ID              int64
	TranscriptionID int64
	ChunkIndex      int
	Text            string
	StartS          float64
	EndS            float64
	StartChar       int
	EndChar         int
	TopicSummary    string
	Keywords        []string
	Confidence      float64
	Embedding       []float32
	CreatedAt       time.Time
}

// Topic is an admin-curated label node in a tree. The parent relation is
// kept acyclic at write time.
type Topic struct {
	ID          int64
	Name        string
	Description string
	ParentID    *int64
	CreatedAt   time.Time
}

// Collection is a user-curated ordered grouping of transcriptions.
type Collection struct {
	ID        int64
	OwnerID   string
	Name      string
	Type      string
	IsPublic  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TranscriptionTopic links a transcription to a canonical topic with
// assignment provenance. A nil AssignedBy means the link was AI-assigned.
type TranscriptionTopic struct {
	TranscriptionID int64
	TopicID         int64
	AIConfidence    *float64
	AIReasoning     string
	AssignedBy      *string
	UserReviewed    bool
	CreatedAt       time.Time
}

// TranscriptionCollection is an ordered collection membership.
type TranscriptionCollection struct {
	TranscriptionID int64
	CollectionID    int64
	Position        *int
	AssignedBy      *string
	CreatedAt       time.Time
}

// Job is the durable handle for one pipeline run. Only workflow code writes
// it after creation.
type Job struct {
	ID              int64
	OwnerID         string
	Kind            string
	Status          string
	ErrorText       string
	MediaFileID     *int64
	TranscriptionID *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
