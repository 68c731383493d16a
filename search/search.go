// Package search answers semantic queries over embedded chunks. The query
// text is embedded with the same model as the chunks and matched by cosine
// distance against the owner's vectors; results carry similarity = 1 -
// distance so callers can threshold on a [0,1]-ish score.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/mixware/mxwhisper/embed"
	"github.com/mixware/mxwhisper/store"
)

// ErrEmptyQuery rejects blank search input.
var ErrEmptyQuery = errors.New("search query is empty")

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Result is one matching chunk with provenance back to its media file.
type Result struct {
	ChunkID         int64    `json:"chunk_id"`
	TranscriptionID int64    `json:"transcription_id"`
	MediaFileID     int64    `json:"media_file_id"`
	MediaFileName   string   `json:"media_file_name"`
	Text            string   `json:"text"`
	TopicSummary    string   `json:"topic_summary,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	StartS          float64  `json:"start"`
	EndS            float64  `json:"end"`
	Similarity      float64  `json:"similarity"`
}

// Searcher runs semantic queries for one owner at a time.
type Searcher struct {
	db       *store.DB
	embedder embed.Embedder
}

// New builds a Searcher over the given store and embedder.
func New(db *store.DB, embedder embed.Embedder) *Searcher {
	return &Searcher{db: db, embedder: embedder}
}

// Search embeds the query and returns the owner's closest chunks, best
// first. Chunks without embeddings are invisible to search.
func (s *Searcher) Search(ctx context.Context, ownerID, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit = clampLimit(limit)

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qv := pgvector.NewVector(vecs[0])

	rows, err := s.db.Pool.Query(ctx, `
		SELECT c.id, c.transcription_id, t.media_file_id, m.display_name, c.text,
			COALESCE(c.topic_summary, ''), c.keywords,
			COALESCE(c.start_s, 0), COALESCE(c.end_s, 0),
			1 - (c.embedding <=> $1) AS similarity
		FROM chunks c
		JOIN transcriptions t ON t.id = c.transcription_id
		JOIN media_files m ON m.id = t.media_file_id
		WHERE m.owner_id = $2 AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1
		LIMIT $3`, qv, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ChunkID, &r.TranscriptionID, &r.MediaFileID,
			&r.MediaFileName, &r.Text, &r.TopicSummary, &r.Keywords,
			&r.StartS, &r.EndS, &r.Similarity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
