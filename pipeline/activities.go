// Package pipeline holds the durable workflows that drive media through
// download, transcription, chunking, topic assignment and embedding, plus
// the activities they execute. Workflows own orchestration and terminal
// state; activities own side effects and are written to be retried.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"goa.design/clue/log"

	"github.com/mixware/mxwhisper/chunk"
	"github.com/mixware/mxwhisper/config"
	"github.com/mixware/mxwhisper/embed"
	"github.com/mixware/mxwhisper/fetch"
	"github.com/mixware/mxwhisper/media"
	"github.com/mixware/mxwhisper/progress"
	"github.com/mixware/mxwhisper/store"
	"github.com/mixware/mxwhisper/transcribe"
)

// Progress milestones on the transcribe job's 0-100 scale. Speech-to-text
// owns the widest band because it dominates wall time.
const (
	pctTranscribeStart = 5
	pctTranscribeEnd   = 70
	pctChunked         = 80
	pctTopicsAssigned  = 88
	pctEmbedded        = 95
)

// TopicClassifier is the slice of the topics package the pipeline needs.
type TopicClassifier interface {
	Classify(ctx context.Context, summaries, available []string) ([]string, error)
}

// Activities bundles every dependency the pipeline's activities touch. One
// instance is registered per worker process.
type Activities struct {
	cfg        *config.Config
	db         *store.DB
	content    *media.Store
	fetcher    fetch.Extractor
	stt        transcribe.Transcriber
	chunker    *chunk.Chunker
	embedder   embed.Embedder
	classifier TopicClassifier
	bus        progress.Bus
}

// NewActivities wires the activity set.
func NewActivities(
	cfg *config.Config,
	db *store.DB,
	content *media.Store,
	fetcher fetch.Extractor,
	stt transcribe.Transcriber,
	chunker *chunk.Chunker,
	embedder embed.Embedder,
	classifier TopicClassifier,
	bus progress.Bus,
) *Activities {
	return &Activities{
		cfg:        cfg,
		db:         db,
		content:    content,
		fetcher:    fetcher,
		stt:        stt,
		chunker:    chunker,
		embedder:   embedder,
		classifier: classifier,
		bus:        bus,
	}
}

func (a *Activities) publish(ctx context.Context, jobID int64, ev progress.Event) {
	if err := a.bus.Publish(ctx, jobID, ev); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "progress publish failed"},
			log.KV{K: "job", V: jobID}, log.KV{K: "err", V: err.Error()})
	}
}

// MarkJobProcessing flips the job to processing and announces it.
func (a *Activities) MarkJobProcessing(ctx context.Context, jobID int64) error {
	if err := a.db.Jobs.SetProcessing(ctx, jobID); err != nil {
		return err
	}
	a.publish(ctx, jobID, progress.Processing(0))
	return nil
}

// DownloadInput parameterizes the download activity.
type DownloadInput struct {
	JobID   int64
	OwnerID string
	URL     string
}

// DownloadOutput reports the ingested media file.
type DownloadOutput struct {
	MediaFileID int64
	Duplicate   bool
	Title       string
}

// Download pulls the remote audio into staging and ingests it into the
// content store. Extraction progress maps onto 0-90 of the job scale; the
// remaining 10 covers ingestion.
func (a *Activities) Download(ctx context.Context, in DownloadInput) (*DownloadOutput, error) {
	u, err := fetch.ValidateURL(in.URL)
	if err != nil {
		// Bad input never heals on retry.
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidURL", err)
	}
	platform := fetch.DetectPlatform(u)

	res, err := a.fetcher.Extract(ctx, in.URL, a.content.StagingDir(), func(pct int) {
		activity.RecordHeartbeat(ctx, pct)
		a.publish(ctx, in.JobID, progress.Processing(pct*90/100))
	})
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", platform, err)
	}

	title := res.Title
	if title == "" {
		title = filepath.Base(res.Path)
	}
	m, dup, err := a.content.Ingest(ctx, a.db, media.IngestParams{
		OwnerID:     in.OwnerID,
		DisplayName: title,
		StagingPath: res.Path,
		Origin:      store.OriginDownload,
		OriginURL:   in.URL,
		Platform:    platform,
	})
	if err != nil {
		return nil, err
	}
	if dup {
		log.Info(ctx, log.KV{K: "msg", V: "download deduplicated"},
			log.KV{K: "media_file", V: m.ID})
	}
	return &DownloadOutput{MediaFileID: m.ID, Duplicate: dup, Title: title}, nil
}

// CreateTranscription inserts the pending transcription row for a media
// file. Split out of Download so the workflow can attach the id to the job
// record before transcription starts.
func (a *Activities) CreateTranscription(ctx context.Context, ownerID string, mediaFileID int64) (int64, error) {
	t := &store.Transcription{
		MediaFileID: mediaFileID,
		OwnerID:     ownerID,
		ModelName:   "whisper-" + a.cfg.WhisperModelSize,
	}
	if err := a.db.Transcriptions.Create(ctx, nil, t); err != nil {
		return 0, err
	}
	return t.ID, nil
}

// TranscribeInput parameterizes the speech-to-text activity.
type TranscribeInput struct {
	JobID           int64
	TranscriptionID int64
	MediaFileID     int64
}

// Transcribe runs the speech model over the stored audio and persists the
// result. Retries overwrite the same transcription row.
func (a *Activities) Transcribe(ctx context.Context, in TranscribeInput) error {
	if err := a.db.Transcriptions.SetProcessing(ctx, in.TranscriptionID); err != nil {
		return err
	}
	m, err := a.db.MediaFiles.Get(ctx, in.MediaFileID)
	if err != nil {
		return err
	}
	a.publish(ctx, in.JobID, progress.Processing(pctTranscribeStart))

	started := time.Now()
	span := pctTranscribeEnd - pctTranscribeStart
	res, err := a.stt.Transcribe(ctx, m.StoredPath, func(pct int) {
		activity.RecordHeartbeat(ctx, pct)
		a.publish(ctx, in.JobID, progress.Processing(pctTranscribeStart+pct*span/100))
	})
	if err != nil {
		return fmt.Errorf("transcribe media file %d: %w", in.MediaFileID, err)
	}

	elapsed := time.Since(started).Seconds()
	t := &store.Transcription{
		ID:                in.TranscriptionID,
		FullText:          res.Text,
		Segments:          res.Segments,
		Language:          res.Language,
		ModelName:         "whisper-" + a.cfg.WhisperModelSize,
		ProcessingSeconds: &elapsed,
	}
	if avg := avgConfidence(res.Segments); avg > 0 {
		t.AvgConfidence = &avg
	}
	if err := a.db.Transcriptions.SetResult(ctx, t); err != nil {
		return err
	}
	a.publish(ctx, in.JobID, progress.Processing(pctTranscribeEnd))
	return nil
}

func avgConfidence(segs []store.Segment) float64 {
	if len(segs) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range segs {
		sum += s.Confidence
	}
	return sum / float64(len(segs))
}

// StageInput identifies the transcription a post-transcribe stage works on.
type StageInput struct {
	JobID           int64
	TranscriptionID int64
}

// Chunk splits the stored transcript and replaces the transcription's chunk
// set. Model streaming deltas drive activity heartbeats, so a wedged model
// call times out instead of hanging the workflow.
func (a *Activities) Chunk(ctx context.Context, in StageInput) error {
	t, err := a.db.Transcriptions.Get(ctx, in.TranscriptionID)
	if err != nil {
		return err
	}
	stop := pacemaker(ctx, a.cfg.HeartbeatInterval)
	chunks, used, err := a.chunker.Split(ctx, t.FullText, t.Segments, func() {
		activity.RecordHeartbeat(ctx)
	})
	stop()
	if err != nil {
		return fmt.Errorf("chunk transcription %d: %w", in.TranscriptionID, err)
	}
	for _, c := range chunks {
		c.TranscriptionID = in.TranscriptionID
	}
	if err := a.db.Chunks.Replace(ctx, in.TranscriptionID, chunks); err != nil {
		return err
	}
	log.Info(ctx, log.KV{K: "msg", V: "transcription chunked"},
		log.KV{K: "transcription", V: in.TranscriptionID},
		log.KV{K: "strategy", V: used},
		log.KV{K: "chunks", V: len(chunks)})
	a.publish(ctx, in.JobID, progress.Processing(pctChunked))
	return nil
}

// AssignTopics classifies the transcription against the curated taxonomy
// and links the matches. Unmatched content falls back to Unknown, so every
// completed transcription carries at least one topic.
func (a *Activities) AssignTopics(ctx context.Context, in StageInput) error {
	summaries, err := a.db.Chunks.Summaries(ctx, in.TranscriptionID)
	if err != nil {
		return err
	}
	all, err := a.db.Topics.List(ctx)
	if err != nil {
		return err
	}
	available := make([]string, len(all))
	for i, t := range all {
		available[i] = t.Name
	}

	names, err := a.classifier.Classify(ctx, summaries, available)
	if err != nil {
		return fmt.Errorf("classify transcription %d: %w", in.TranscriptionID, err)
	}
	ids, err := a.db.Topics.ResolveNames(ctx, names)
	if err != nil {
		return err
	}
	if _, err := a.db.Topics.Assign(ctx, in.TranscriptionID, ids, aiProvenance(names)); err != nil {
		return err
	}
	a.publish(ctx, in.JobID, progress.Processing(pctTopicsAssigned))
	return nil
}

// aiProvenance builds the provenance stamped on AI topic links. A real match
// carries full confidence from the classifier; the Unknown fallback carries
// none.
func aiProvenance(names []string) store.TranscriptionTopic {
	for _, n := range names {
		if n != store.UnknownTopicName {
			conf := 1.0
			return store.TranscriptionTopic{
				AIConfidence: &conf,
				AIReasoning:  "assigned by LLM from chunk summaries",
			}
		}
	}
	return store.TranscriptionTopic{}
}

// Embed vectorizes every chunk of the transcription in one batch and writes
// all vectors atomically.
func (a *Activities) Embed(ctx context.Context, in StageInput) error {
	chunks, err := a.db.Chunks.ListByTranscription(ctx, in.TranscriptionID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		a.publish(ctx, in.JobID, progress.Processing(pctEmbedded))
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	stop := pacemaker(ctx, a.cfg.HeartbeatInterval)
	vecs, err := a.embedder.Embed(ctx, texts)
	stop()
	if err != nil {
		return fmt.Errorf("embed transcription %d: %w", in.TranscriptionID, err)
	}
	byID := make(map[int64][]float32, len(chunks))
	for i, c := range chunks {
		byID[c.ID] = vecs[i]
	}
	if err := a.db.Chunks.SetEmbeddings(ctx, byID); err != nil {
		return err
	}
	a.publish(ctx, in.JobID, progress.Processing(pctEmbedded))
	return nil
}

// CompleteJobInput parameterizes the terminal success write.
type CompleteJobInput struct {
	JobID           int64
	MediaFileID     *int64
	TranscriptionID *int64
}

// CompleteJob records the terminal success state and emits the completed
// event, attaching the transcript when one was produced.
func (a *Activities) CompleteJob(ctx context.Context, in CompleteJobInput) error {
	if err := a.db.Jobs.Complete(ctx, in.JobID, in.MediaFileID); err != nil {
		return err
	}
	transcript := ""
	if in.TranscriptionID != nil {
		if t, err := a.db.Transcriptions.Get(ctx, *in.TranscriptionID); err == nil {
			transcript = t.FullText
		}
	}
	a.publish(ctx, in.JobID, progress.Completed(transcript))
	return nil
}

// FailJobInput parameterizes the terminal failure write.
type FailJobInput struct {
	JobID           int64
	TranscriptionID *int64
	Reason          string
}

// FailJob records the terminal failure on the job (and the transcription
// when one exists) and emits the failed event. Reasons are truncated to keep
// the row and the event readable.
func (a *Activities) FailJob(ctx context.Context, in FailJobInput) error {
	reason := strings.TrimSpace(in.Reason)
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	if err := a.db.Jobs.Fail(ctx, in.JobID, reason); err != nil {
		return err
	}
	if in.TranscriptionID != nil {
		if err := a.db.Transcriptions.MarkFailed(ctx, *in.TranscriptionID, reason); err != nil {
			return err
		}
	}
	a.publish(ctx, in.JobID, progress.Failed(reason))
	return nil
}
