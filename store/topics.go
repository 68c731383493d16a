package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// TopicRepo persists the admin-curated topic taxonomy and transcription
// assignments.
type TopicRepo struct {
	db *DB
}

// ErrTopicCycle is returned when a parent update would make the tree cyclic.
var ErrTopicCycle = errors.New("topic parent update would create a cycle")

// ErrReservedTopic guards the Unknown topic against rename and delete.
var ErrReservedTopic = errors.New("the Unknown topic is reserved")

const topicCols = `id, name, COALESCE(description, ''), parent_id, created_at`

func scanTopic(row pgx.Row) (*Topic, error) {
	var t Topic
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.ParentID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a topic node, validating the parent exists.
func (r *TopicRepo) Create(ctx context.Context, t *Topic) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO topics (name, description, parent_id)
		VALUES ($1, NULLIF($2, ''), $3)
		RETURNING id, created_at`,
		t.Name, t.Description, t.ParentID,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	return nil
}

// List returns all topics ordered by name.
func (r *TopicRepo) List(ctx context.Context) ([]*Topic, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+topicCols+` FROM topics ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns a topic by id.
func (r *TopicRepo) Get(ctx context.Context, id int64) (*Topic, error) {
	return scanTopic(r.db.Pool.QueryRow(ctx,
		`SELECT `+topicCols+` FROM topics WHERE id = $1`, id))
}

// GetByName performs a case-insensitive name lookup.
func (r *TopicRepo) GetByName(ctx context.Context, name string) (*Topic, error) {
	return scanTopic(r.db.Pool.QueryRow(ctx,
		`SELECT `+topicCols+` FROM topics WHERE lower(name) = lower($1)`, name))
}

// Unknown returns the reserved fallback topic.
func (r *TopicRepo) Unknown(ctx context.Context) (*Topic, error) {
	return r.GetByName(ctx, UnknownTopicName)
}

// SetParent re-parents a topic after checking that the new parent is not a
// descendant of (or equal to) the node. The check walks the parent chain from
// newParent upward; reaching id means the move would close a cycle.
func (r *TopicRepo) SetParent(ctx context.Context, id int64, newParent *int64) error {
	if newParent != nil {
		cursor := *newParent
		for {
			if cursor == id {
				return ErrTopicCycle
			}
			var next *int64
			err := r.db.Pool.QueryRow(ctx,
				`SELECT parent_id FROM topics WHERE id = $1`, cursor).Scan(&next)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("parent topic %d: %w", cursor, ErrNotFound)
			}
			if err != nil {
				return err
			}
			if next == nil {
				break
			}
			cursor = *next
		}
	}
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE topics SET parent_id = $2 WHERE id = $1`, id, newParent)
	return err
}

// Delete removes a topic. The Unknown topic cannot be deleted.
func (r *TopicRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM topics WHERE id = $1 AND name <> $2`, id, UnknownTopicName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		t, getErr := r.Get(ctx, id)
		if getErr == nil && t.Name == UnknownTopicName {
			return ErrReservedTopic
		}
		return ErrNotFound
	}
	return nil
}

// Assign links the transcription to each topic id, skipping links that
// already exist so topic assignment is idempotent across activity retries.
// Returns the number of links actually inserted.
func (r *TopicRepo) Assign(ctx context.Context, transcriptionID int64, topicIDs []int64, a TranscriptionTopic) (int, error) {
	inserted := 0
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, topicID := range topicIDs {
			tag, err := tx.Exec(ctx, `
				INSERT INTO transcription_topics
					(transcription_id, topic_id, ai_confidence, ai_reasoning, assigned_by, user_reviewed)
				VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
				ON CONFLICT (transcription_id, topic_id) DO NOTHING`,
				transcriptionID, topicID, a.AIConfidence, a.AIReasoning, a.AssignedBy, a.UserReviewed)
			if err != nil {
				return fmt.Errorf("assign topic %d: %w", topicID, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	return inserted, err
}

// ListForTranscription returns the assigned topics in name order.
func (r *TopicRepo) ListForTranscription(ctx context.Context, transcriptionID int64) ([]*Topic, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT t.id, t.name, COALESCE(t.description, ''), t.parent_id, t.created_at
		FROM topics t
		JOIN transcription_topics tt ON tt.topic_id = t.id
		WHERE tt.transcription_id = $1
		ORDER BY t.name`, transcriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ResolveNames maps topic names to ids, case-insensitively. Names with no
// canonical match resolve to the Unknown topic; the result is deduplicated
// and never empty as long as at least one name is supplied.
func (r *TopicRepo) ResolveNames(ctx context.Context, names []string) ([]int64, error) {
	unknown, err := r.Unknown(ctx)
	if err != nil {
		return nil, fmt.Errorf("load Unknown topic: %w", err)
	}
	seen := make(map[int64]bool)
	var out []int64
	for _, name := range names {
		id := unknown.ID
		if t, err := r.GetByName(ctx, strings.TrimSpace(name)); err == nil {
			id = t.ID
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
