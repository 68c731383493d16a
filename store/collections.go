package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CollectionRepo persists user-curated collections and their ordered
// transcription memberships.
type CollectionRepo struct {
	db *DB
}

const collectionCols = `id, owner_id, name, COALESCE(type, ''), is_public, created_at, updated_at`

func scanCollection(row pgx.Row) (*Collection, error) {
	var c Collection
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Type, &c.IsPublic, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a collection.
func (r *CollectionRepo) Create(ctx context.Context, c *Collection) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO collections (owner_id, name, type, is_public)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING id, created_at, updated_at`,
		c.OwnerID, c.Name, c.Type, c.IsPublic,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

// Get returns the collection when it is owned by ownerID or public.
func (r *CollectionRepo) Get(ctx context.Context, ownerID string, id int64) (*Collection, error) {
	return scanCollection(r.db.Pool.QueryRow(ctx,
		`SELECT `+collectionCols+` FROM collections
		 WHERE id = $1 AND (owner_id = $2 OR is_public)`, id, ownerID))
}

// ListByOwner returns the owner's collections, newest first.
func (r *CollectionRepo) ListByOwner(ctx context.Context, ownerID string) ([]*Collection, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+collectionCols+` FROM collections
		 WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes an owned collection; memberships cascade.
func (r *CollectionRepo) Delete(ctx context.Context, ownerID string, id int64) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM collections WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTranscription appends the transcription at the end of the collection
// unless a position is given. Re-adding an existing member updates its
// position instead of duplicating the link.
func (r *CollectionRepo) AddTranscription(ctx context.Context, collectionID, transcriptionID int64, position *int, assignedBy *string) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		pos := position
		if pos == nil {
			var next int
			if err := tx.QueryRow(ctx, `
				SELECT COALESCE(MAX(position), -1) + 1 FROM transcription_collections
				WHERE collection_id = $1`, collectionID).Scan(&next); err != nil {
				return err
			}
			pos = &next
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO transcription_collections (transcription_id, collection_id, position, assigned_by)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (transcription_id, collection_id)
			DO UPDATE SET position = EXCLUDED.position`,
			transcriptionID, collectionID, pos, assignedBy)
		if err != nil {
			return fmt.Errorf("add transcription to collection: %w", err)
		}
		return nil
	})
}

// RemoveTranscription drops a membership.
func (r *CollectionRepo) RemoveTranscription(ctx context.Context, collectionID, transcriptionID int64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM transcription_collections
		WHERE collection_id = $1 AND transcription_id = $2`, collectionID, transcriptionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Members returns the collection's transcription ids in position order.
func (r *CollectionRepo) Members(ctx context.Context, collectionID int64) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT transcription_id FROM transcription_collections
		WHERE collection_id = $1
		ORDER BY position NULLS LAST, created_at`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
