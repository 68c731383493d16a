package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MediaFileRepo persists MediaFile rows.
type MediaFileRepo struct {
	db *DB
}

// ErrDuplicateContent is returned by Create when (owner_id, content_hash)
// already exists. Callers resolve the race by re-reading the existing row.
var ErrDuplicateContent = errors.New("duplicate content hash for owner")

const mediaFileCols = `id, owner_id, stored_path, display_name, byte_size,
	COALESCE(mime, ''), duration_seconds, content_hash, origin,
	COALESCE(origin_url, ''), COALESCE(origin_platform, ''), created_at`

func scanMediaFile(row pgx.Row) (*MediaFile, error) {
	var m MediaFile
	err := row.Scan(&m.ID, &m.OwnerID, &m.StoredPath, &m.DisplayName, &m.ByteSize,
		&m.MIME, &m.DurationSeconds, &m.ContentHash, &m.Origin,
		&m.OriginURL, &m.OriginPlatform, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts the row and fills in ID and CreatedAt. A unique violation on
// (owner, hash) surfaces as ErrDuplicateContent.
func (r *MediaFileRepo) Create(ctx context.Context, q querier, m *MediaFile) error {
	if q == nil {
		q = r.db.Pool
	}
	err := q.QueryRow(ctx, `
		INSERT INTO media_files (owner_id, stored_path, display_name, byte_size,
			mime, duration_seconds, content_hash, origin, origin_url, origin_platform)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
		RETURNING id, created_at`,
		m.OwnerID, m.StoredPath, m.DisplayName, m.ByteSize, m.MIME,
		m.DurationSeconds, m.ContentHash, m.Origin, m.OriginURL, m.OriginPlatform,
	).Scan(&m.ID, &m.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateContent
	}
	if err != nil {
		return fmt.Errorf("insert media file: %w", err)
	}
	return nil
}

// Get returns the row by id.
func (r *MediaFileRepo) Get(ctx context.Context, id int64) (*MediaFile, error) {
	return scanMediaFile(r.db.Pool.QueryRow(ctx,
		`SELECT `+mediaFileCols+` FROM media_files WHERE id = $1`, id))
}

// FindByOwnerHash looks up the dedup key.
func (r *MediaFileRepo) FindByOwnerHash(ctx context.Context, ownerID, hash string) (*MediaFile, error) {
	return scanMediaFile(r.db.Pool.QueryRow(ctx,
		`SELECT `+mediaFileCols+` FROM media_files WHERE owner_id = $1 AND content_hash = $2`,
		ownerID, hash))
}

// ListByOwner returns the owner's files, newest first.
func (r *MediaFileRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*MediaFile, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+mediaFileCols+` FROM media_files
		 WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*MediaFile
	for rows.Next() {
		m, err := scanMediaFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes the owner's row; dependent transcriptions, chunks and link
// rows cascade. Returns the stored path so the caller can unlink the blob
// after the transaction commits, and ErrNotFound when the row does not exist
// or belongs to someone else.
func (r *MediaFileRepo) Delete(ctx context.Context, ownerID string, id int64) (string, error) {
	var path string
	err := r.db.Pool.QueryRow(ctx,
		`DELETE FROM media_files WHERE id = $1 AND owner_id = $2 RETURNING stored_path`,
		id, ownerID).Scan(&path)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete media file: %w", err)
	}
	return path, nil
}
