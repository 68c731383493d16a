package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepo persists Chunk rows.
type ChunkRepo struct {
	db *DB
}

const chunkCols = `id, transcription_id, chunk_index, text,
	COALESCE(start_s, 0), COALESCE(end_s, 0),
	COALESCE(start_char, 0), COALESCE(end_char, 0),
	COALESCE(topic_summary, ''), keywords, COALESCE(confidence, 0),
	embedding, created_at`

func scanChunk(row pgx.Row) (*Chunk, error) {
	var c Chunk
	var emb *pgvector.Vector
	err := row.Scan(&c.ID, &c.TranscriptionID, &c.ChunkIndex, &c.Text,
		&c.StartS, &c.EndS, &c.StartChar, &c.EndChar, &c.TopicSummary,
		&c.Keywords, &c.Confidence, &emb, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if emb != nil {
		c.Embedding = emb.Slice()
	}
	return &c, nil
}

// Replace deletes any existing chunks for the transcription and inserts the
// new set in one transaction. Chunk retries call this, which is what keeps
// chunk_index dense across re-runs. Embeddings are left NULL for the embed
// stage.
func (r *ChunkRepo) Replace(ctx context.Context, transcriptionID int64, chunks []*Chunk) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM chunks WHERE transcription_id = $1`, transcriptionID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		for _, c := range chunks {
			err := tx.QueryRow(ctx, `
				INSERT INTO chunks (transcription_id, chunk_index, text, start_s, end_s,
					start_char, end_char, topic_summary, keywords, confidence)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
				RETURNING id, created_at`,
				transcriptionID, c.ChunkIndex, c.Text, c.StartS, c.EndS,
				c.StartChar, c.EndChar, c.TopicSummary, c.Keywords, c.Confidence,
			).Scan(&c.ID, &c.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
			}
		}
		return nil
	})
}

// ListByTranscription returns the transcription's chunks in index order.
func (r *ChunkRepo) ListByTranscription(ctx context.Context, transcriptionID int64) ([]*Chunk, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+chunkCols+` FROM chunks
		 WHERE transcription_id = $1 ORDER BY chunk_index`, transcriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Summaries returns the non-empty topic summaries in index order. The topic
// classifier feeds these to the LLM.
func (r *ChunkRepo) Summaries(ctx context.Context, transcriptionID int64) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT topic_summary FROM chunks
		WHERE transcription_id = $1 AND topic_summary IS NOT NULL AND topic_summary <> ''
		ORDER BY chunk_index`, transcriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetEmbeddings writes one vector per chunk id in a single transaction so
// embedding completeness is externally atomic.
func (r *ChunkRepo) SetEmbeddings(ctx context.Context, vectors map[int64][]float32) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		for id, vec := range vectors {
			v := pgvector.NewVector(vec)
			tag, err := tx.Exec(ctx,
				`UPDATE chunks SET embedding = $2 WHERE id = $1`, id, v)
			if err != nil {
				return fmt.Errorf("set embedding for chunk %d: %w", id, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("set embedding: chunk %d vanished", id)
			}
		}
		return nil
	})
}
