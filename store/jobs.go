package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// JobRepo persists Job rows. Jobs are orchestration handles: the API creates
// them pending, workflow code is the only writer afterwards, and every update
// method refuses to touch a terminal row.
type JobRepo struct {
	db *DB
}

const jobCols = `id, owner_id, kind, status, COALESCE(error_text, ''),
	media_file_id, transcription_id, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.OwnerID, &j.Kind, &j.Status, &j.ErrorText,
		&j.MediaFileID, &j.TranscriptionID, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Create inserts a pending job.
func (r *JobRepo) Create(ctx context.Context, q querier, j *Job) error {
	if q == nil {
		q = r.db.Pool
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	err := q.QueryRow(ctx, `
		INSERT INTO jobs (owner_id, kind, status, transcription_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		j.OwnerID, j.Kind, j.Status, j.TranscriptionID,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns the job by id.
func (r *JobRepo) Get(ctx context.Context, id int64) (*Job, error) {
	return scanJob(r.db.Pool.QueryRow(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE id = $1`, id))
}

// SetProcessing marks the job processing unless it already terminated.
func (r *JobRepo) SetProcessing(ctx context.Context, id int64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, StatusProcessing, StatusCompleted, StatusFailed)
	return err
}

// Complete marks the job completed, optionally attaching the produced media
// file. Terminal rows stay as they are, which makes the workflow epilogue's
// single terminal write idempotent.
func (r *JobRepo) Complete(ctx context.Context, id int64, mediaFileID *int64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error_text = NULL,
			media_file_id = COALESCE($3, media_file_id), updated_at = now()
		WHERE id = $1 AND status NOT IN ($2, $4)`,
		id, StatusCompleted, mediaFileID, StatusFailed)
	return err
}

// Fail records the terminal failure reason.
func (r *JobRepo) Fail(ctx context.Context, id int64, errText string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error_text = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ($2, $4)`,
		id, StatusFailed, errText, StatusCompleted)
	return err
}

// ListByOwner returns the owner's jobs, newest first.
func (r *JobRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Job, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+jobCols+` FROM jobs
		 WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
