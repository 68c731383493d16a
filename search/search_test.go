package search

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRejectsEmptyQuery(t *testing.T) {
	s := New(nil, nil)
	_, err := s.Search(context.Background(), "user-1", "   ", 10)
	require.ErrorIs(t, err, ErrEmptyQuery)
}

func TestResultJSONShape(t *testing.T) {
	b, err := json.Marshal(Result{
		ChunkID:       3,
		MediaFileName: "A Great Talk.mp3",
		Keywords:      []string{"databases", "indexes"},
		Similarity:    0.91,
	})
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `"media_file_name":"A Great Talk.mp3"`)
	assert.Contains(t, s, `"keywords":["databases","indexes"]`)

	// Chunks without summaries or keywords keep those fields out entirely.
	b, err = json.Marshal(Result{ChunkID: 4})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "keywords")
	assert.NotContains(t, string(b), "topic_summary")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, clampLimit(0))
	assert.Equal(t, defaultLimit, clampLimit(-5))
	assert.Equal(t, 25, clampLimit(25))
	assert.Equal(t, maxLimit, clampLimit(10_000))
}
