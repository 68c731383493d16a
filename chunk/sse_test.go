package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseHandler(t *testing.T, events []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestSSEClientStream(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"reasoning":"thinking"}}]}`,
		`{"choices":[{"delta":{"content":"{\"chunks\""}}]}`,
		`not valid json, skipped`,
		`{"choices":[{"delta":{"content":": []}"}}]}`,
	}))
	defer srv.Close()

	c := NewSSEClient(srv.URL+"/v1", "test-model", "", Timeouts{})
	var deltas []Delta
	content, err := c.Stream(context.Background(), "sys", "user", func(d Delta) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, `{"chunks": []}`, content)
	require.Len(t, deltas, 3)
	assert.Equal(t, "thinking", deltas[0].Reasoning)
	assert.Equal(t, "", deltas[0].Content)
}

func TestSSEClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewSSEClient(srv.URL+"/v1", "test-model", "key", Timeouts{})
	_, err := c.Stream(context.Background(), "sys", "user", nil)
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestSSEClientTimeouts(t *testing.T) {
	c := NewSSEClient("http://localhost:11434/v1", "m", "", Timeouts{
		Request: time.Minute,
		Connect: 2 * time.Second,
		Read:    3 * time.Second,
	})
	assert.Equal(t, time.Minute, c.httpc.Timeout)
	tr, ok := c.httpc.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, tr.ResponseHeaderTimeout)

	// Zero values pick the defaults instead of disabling the limits.
	d := NewSSEClient("http://localhost:11434/v1", "m", "", Timeouts{})
	assert.Equal(t, defaultRequestTimeout, d.httpc.Timeout)
	dtr, ok := d.httpc.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, defaultReadTimeout, dtr.ResponseHeaderTimeout)

	// The health probe keeps its own tight budget.
	htr, ok := d.healthc.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, healthReadTimeout, htr.ResponseHeaderTimeout)
}

func TestSSEClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer srv.Close()

	c := NewSSEClient(srv.URL+"/v1", "test-model", "", Timeouts{})
	require.NoError(t, c.Health(context.Background()))

	srv.Close()
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestStatusErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &StatusError{Code: 429, Body: "slow down"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 429, se.Code)
}
