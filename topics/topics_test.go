package topics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixware/mxwhisper/store"
)

var available = []string{"Technology", "Cooking", "History", "Science Fiction", "Unknown"}

func TestMatchNamesCommaSeparated(t *testing.T) {
	got := MatchNames("Technology, Cooking", available)
	assert.Equal(t, []string{"Technology", "Cooking"}, got)
}

func TestMatchNamesQuotedAndListed(t *testing.T) {
	got := MatchNames("1. \"Science Fiction\"\n2. 'History'", available)
	assert.Equal(t, []string{"Science Fiction", "History"}, got)
}

func TestMatchNamesCaseInsensitive(t *testing.T) {
	got := MatchNames("technology, HISTORY", available)
	assert.Equal(t, []string{"Technology", "History"}, got)
}

func TestMatchNamesProseFallback(t *testing.T) {
	got := MatchNames("This content is best described by the Cooking topic.", available)
	assert.Equal(t, []string{"Cooking"}, got)
}

func TestMatchNamesDiscardsInvented(t *testing.T) {
	got := MatchNames("Quantum Gardening, Cooking", available)
	assert.Equal(t, []string{"Cooking"}, got)
}

func TestMatchNamesNothingMatches(t *testing.T) {
	got := MatchNames("Underwater Basket Weaving", available)
	assert.Equal(t, []string{store.UnknownTopicName}, got)
}

func TestMatchNamesDeduplicates(t *testing.T) {
	got := MatchNames("Cooking, cooking, COOKING", available)
	assert.Equal(t, []string{"Cooking"}, got)
}

func chatServer(t *testing.T, reply string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestClassify(t *testing.T) {
	srv := chatServer(t, "Technology, History")
	defer srv.Close()

	c := NewClassifier(srv.URL+"/v1", "", "test-model")
	got, err := c.Classify(context.Background(),
		[]string{"The rise of the transistor", "Computing in the 1960s"}, available)
	require.NoError(t, err)
	assert.Equal(t, []string{"Technology", "History"}, got)
}

func TestClassifyNoSummaries(t *testing.T) {
	c := NewClassifier("http://127.0.0.1:1/v1", "", "test-model")
	got, err := c.Classify(context.Background(), nil, available)
	require.NoError(t, err)
	assert.Equal(t, []string{store.UnknownTopicName}, got)
}
