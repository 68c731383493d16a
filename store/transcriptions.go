package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TranscriptionRepo persists Transcription rows. Segments are stored as a
// JSONB document alongside the full text.
type TranscriptionRepo struct {
	db *DB
}

const transcriptionCols = `id, media_file_id, owner_id, COALESCE(full_text, ''),
	COALESCE(segments, '[]'::jsonb), COALESCE(language, ''),
	COALESCE(model_name, ''), COALESCE(model_version, ''), avg_confidence,
	processing_seconds, status, COALESCE(error_text, ''), created_at, updated_at`

func scanTranscription(row pgx.Row) (*Transcription, error) {
	var t Transcription
	var segs []byte
	err := row.Scan(&t.ID, &t.MediaFileID, &t.OwnerID, &t.FullText, &segs,
		&t.Language, &t.ModelName, &t.ModelVersion, &t.AvgConfidence,
		&t.ProcessingSeconds, &t.Status, &t.ErrorText, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(segs, &t.Segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return &t, nil
}

// Create inserts a pending transcription for the media file.
func (r *TranscriptionRepo) Create(ctx context.Context, q querier, t *Transcription) error {
	if q == nil {
		q = r.db.Pool
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	err := q.QueryRow(ctx, `
		INSERT INTO transcriptions (media_file_id, owner_id, status, model_name)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, created_at, updated_at`,
		t.MediaFileID, t.OwnerID, t.Status, t.ModelName,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transcription: %w", err)
	}
	return nil
}

// Get returns the row by id.
func (r *TranscriptionRepo) Get(ctx context.Context, id int64) (*Transcription, error) {
	return scanTranscription(r.db.Pool.QueryRow(ctx,
		`SELECT `+transcriptionCols+` FROM transcriptions WHERE id = $1`, id))
}

// SetProcessing moves a pending row to processing. Terminal rows are left
// untouched.
func (r *TranscriptionRepo) SetProcessing(ctx context.Context, id int64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE transcriptions SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, StatusProcessing, StatusCompleted, StatusFailed)
	return err
}

// SetResult writes the speech model output and marks the row completed. A
// retried transcribe activity overwrites the same row, so the update is a
// full replacement of the result columns.
func (r *TranscriptionRepo) SetResult(ctx context.Context, t *Transcription) error {
	segs, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		UPDATE transcriptions
		SET full_text = $2, segments = $3, language = NULLIF($4, ''),
		    model_name = NULLIF($5, ''), model_version = NULLIF($6, ''),
		    avg_confidence = $7, processing_seconds = $8,
		    status = $9, error_text = NULL, updated_at = now()
		WHERE id = $1`,
		t.ID, t.FullText, segs, t.Language, t.ModelName, t.ModelVersion,
		t.AvgConfidence, t.ProcessingSeconds, StatusCompleted)
	if err != nil {
		return fmt.Errorf("store transcription result: %w", err)
	}
	return nil
}

// MarkFailed records the failure reason. Completed rows are not demoted.
func (r *TranscriptionRepo) MarkFailed(ctx context.Context, id int64, errText string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE transcriptions SET status = $2, error_text = $3, updated_at = now()
		WHERE id = $1 AND status <> $4`,
		id, StatusFailed, errText, StatusCompleted)
	return err
}

// ListByMediaFile returns the media file's transcriptions, newest first.
func (r *TranscriptionRepo) ListByMediaFile(ctx context.Context, mediaFileID int64) ([]*Transcription, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+transcriptionCols+` FROM transcriptions
		 WHERE media_file_id = $1 ORDER BY created_at DESC`, mediaFileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Transcription
	for rows.Next() {
		t, err := scanTranscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
