// Package service is the application facade: it owns job creation, workflow
// kickoff, ownership checks and read paths, keeping transport handlers thin.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/mixware/mxwhisper/config"
	"github.com/mixware/mxwhisper/fetch"
	"github.com/mixware/mxwhisper/media"
	"github.com/mixware/mxwhisper/pipeline"
	"github.com/mixware/mxwhisper/progress"
	"github.com/mixware/mxwhisper/search"
	"github.com/mixware/mxwhisper/store"
	"github.com/mixware/mxwhisper/transcribe"
)

// Service wires storage, the content store, the progress bus and the
// workflow client behind one API.
type Service struct {
	cfg      *config.Config
	db       *store.DB
	content  *media.Store
	temporal client.Client
	bus      progress.Bus
	searcher *search.Searcher
}

// New builds the facade.
func New(cfg *config.Config, db *store.DB, content *media.Store, temporal client.Client, bus progress.Bus, searcher *search.Searcher) *Service {
	return &Service{
		cfg:      cfg,
		db:       db,
		content:  content,
		temporal: temporal,
		bus:      bus,
		searcher: searcher,
	}
}

// CreateDownloadJob validates the URL, records a pending download job and
// starts its workflow. A workflow that cannot be started fails the job
// immediately so it never sits pending forever.
func (s *Service) CreateDownloadJob(ctx context.Context, ownerID, rawURL string, transcribeAfter bool) (*store.Job, error) {
	if _, err := fetch.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	job := &store.Job{OwnerID: ownerID, Kind: store.JobKindDownload}
	if err := s.db.Jobs.Create(ctx, nil, job); err != nil {
		return nil, err
	}
	_, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID(job),
		TaskQueue: s.cfg.TaskQueue,
	}, pipeline.DownloadWorkflowName, pipeline.DownloadWorkflowInput{
		JobID:      job.ID,
		OwnerID:    ownerID,
		URL:        rawURL,
		Transcribe: transcribeAfter,
	})
	if err != nil {
		return nil, s.failUnstarted(ctx, job, err)
	}
	log.Info(ctx, log.KV{K: "msg", V: "download job started"},
		log.KV{K: "job", V: job.ID}, log.KV{K: "owner", V: ownerID})
	return job, nil
}

// Upload stages and ingests an uploaded payload, returning the media file
// and whether it deduplicated onto an existing one.
func (s *Service) Upload(ctx context.Context, ownerID, displayName string, r io.Reader) (*store.MediaFile, bool, error) {
	staged, err := s.content.Stage(r)
	if err != nil {
		return nil, false, err
	}
	return s.content.Ingest(ctx, s.db, media.IngestParams{
		OwnerID:     ownerID,
		DisplayName: displayName,
		StagingPath: staged,
		Origin:      store.OriginUpload,
	})
}

// CreateTranscribeJob records a pending transcription and job for an owned
// media file and starts the workflow.
func (s *Service) CreateTranscribeJob(ctx context.Context, ownerID string, mediaFileID int64) (*store.Job, error) {
	m, err := s.db.MediaFiles.Get(ctx, mediaFileID)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}

	t := &store.Transcription{
		MediaFileID: m.ID,
		OwnerID:     ownerID,
		ModelName:   "whisper-" + s.cfg.WhisperModelSize,
	}
	if err := s.db.Transcriptions.Create(ctx, nil, t); err != nil {
		return nil, err
	}
	job := &store.Job{OwnerID: ownerID, Kind: store.JobKindTranscribe, TranscriptionID: &t.ID}
	if err := s.db.Jobs.Create(ctx, nil, job); err != nil {
		return nil, err
	}

	_, err = s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID(job),
		TaskQueue: s.cfg.TaskQueue,
	}, pipeline.TranscribeWorkflowName, pipeline.TranscribeWorkflowInput{
		JobID:           job.ID,
		OwnerID:         ownerID,
		MediaFileID:     m.ID,
		TranscriptionID: t.ID,
	})
	if err != nil {
		return nil, s.failUnstarted(ctx, job, err)
	}
	log.Info(ctx, log.KV{K: "msg", V: "transcribe job started"},
		log.KV{K: "job", V: job.ID}, log.KV{K: "media_file", V: m.ID})
	return job, nil
}

// GetJob returns an owned job.
func (s *Service) GetJob(ctx context.Context, ownerID string, jobID int64) (*store.Job, error) {
	job, err := s.db.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return job, nil
}

// ListJobs returns the owner's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]*store.Job, error) {
	return s.db.Jobs.ListByOwner(ctx, ownerID, limit, offset)
}

// SubscribeProgress attaches to an owned job's progress stream. Subscribing
// to an already terminal job yields one synthetic terminal event so late
// subscribers never hang.
func (s *Service) SubscribeProgress(ctx context.Context, ownerID string, jobID int64) (<-chan progress.Event, func(), error) {
	job, err := s.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.IsTerminal() {
		ch := make(chan progress.Event, 1)
		if job.Status == store.StatusCompleted {
			ch <- progress.Completed("")
		} else {
			ch <- progress.Failed(job.ErrorText)
		}
		close(ch)
		return ch, func() {}, nil
	}
	return s.bus.Subscribe(ctx, jobID)
}

// Search runs a semantic query over the owner's embedded chunks.
func (s *Service) Search(ctx context.Context, ownerID, query string, limit int) ([]search.Result, error) {
	return s.searcher.Search(ctx, ownerID, query, limit)
}

// GetTranscription returns an owned transcription.
func (s *Service) GetTranscription(ctx context.Context, ownerID string, id int64) (*store.Transcription, error) {
	t, err := s.db.Transcriptions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return t, nil
}

// ExportSRT renders an owned transcription as SubRip subtitles.
func (s *Service) ExportSRT(ctx context.Context, ownerID string, id int64) (string, error) {
	t, err := s.GetTranscription(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	if t.Status != store.StatusCompleted {
		return "", fmt.Errorf("transcription %d is %s, not completed", id, t.Status)
	}
	return transcribe.FormatSRT(t.Segments), nil
}

// ListMedia returns the owner's media files, newest first.
func (s *Service) ListMedia(ctx context.Context, ownerID string, limit, offset int) ([]*store.MediaFile, error) {
	return s.db.MediaFiles.ListByOwner(ctx, ownerID, limit, offset)
}

// DeleteMedia removes an owned media file, its derived rows and its blob.
func (s *Service) DeleteMedia(ctx context.Context, ownerID string, id int64) error {
	return s.content.Delete(ctx, s.db, ownerID, id)
}

func workflowID(job *store.Job) string {
	return fmt.Sprintf("%s-job-%d", job.Kind, job.ID)
}

// failUnstarted records a workflow start failure on the job and returns a
// wrapped error.
func (s *Service) failUnstarted(ctx context.Context, job *store.Job, cause error) error {
	if err := s.db.Jobs.Fail(ctx, job.ID, "workflow start failed: "+cause.Error()); err != nil {
		log.Error(ctx, errors.Join(cause, err),
			log.KV{K: "msg", V: "job stuck pending after failed workflow start"},
			log.KV{K: "job", V: job.ID})
	}
	return fmt.Errorf("start workflow for job %d: %w", job.ID, cause)
}
