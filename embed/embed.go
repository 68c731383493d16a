// Package embed turns chunk text into fixed-dimension vectors via an
// OpenAI-compatible embeddings endpoint.
package embed

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// maxInputChars bounds the text sent per embedding input. Longer chunk text
// is truncated, not rejected; the vector still represents the bulk of the
// chunk.
const maxInputChars = 5000

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client calls an OpenAI-compatible embeddings API.
type Client struct {
	api   *openai.Client
	model string
	dim   int
}

// New builds a Client against baseURL (including the /v1 suffix). apiKey may
// be empty for local endpoints. dim is the expected vector dimension; any
// mismatch from the endpoint is an error rather than a silently corrupt
// index.
func New(baseURL, apiKey, model string, dim int) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &Client{api: openai.NewClientWithConfig(cfg), model: model, dim: dim}
}

// Dim returns the configured vector dimension.
func (c *Client) Dim() int { return c.dim }

// Embed returns one vector per text. Blank texts map to zero vectors without
// touching the endpoint; the rest go out as a single batch request.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var batch []string
	var batchIdx []int
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			out[i] = make([]float32, c.dim)
			continue
		}
		if len(t) > maxInputChars {
			t = t[:maxInputChars]
		}
		batch = append(batch, t)
		batchIdx = append(batchIdx, i)
	}
	if len(batch) == 0 {
		return out, nil
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: batch,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embeddings endpoint returned %d vectors for %d inputs", len(resp.Data), len(batch))
	}
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(batchIdx) {
			return nil, fmt.Errorf("embeddings endpoint returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) != c.dim {
			return nil, fmt.Errorf("embedding dimension %d, want %d", len(d.Embedding), c.dim)
		}
		out[batchIdx[d.Index]] = d.Embedding
	}
	return out, nil
}
