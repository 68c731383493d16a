package chunk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Delta is one streamed increment from the model. Reasoning deltas carry the
// model's thinking tokens; they prove liveness but contribute nothing to the
// answer.
type Delta struct {
	Content   string
	Reasoning string
}

// Streamer issues a streaming chat completion and invokes onDelta for every
// increment, returning the accumulated content.
type Streamer interface {
	Stream(ctx context.Context, system, user string, onDelta func(Delta)) (string, error)
}

// StatusError is a non-200 response from the model endpoint. The chunker
// treats 4xx codes as permanent and everything else as transient.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat completion: status %d: %s", e.Code, e.Body)
}

// Timeouts bounds the streaming call. Zero values fall back to defaults
// sized for long transcripts.
type Timeouts struct {
	Request time.Duration // whole call, connect through last byte
	Connect time.Duration // TCP dial
	Read    time.Duration // wait for response headers
}

const (
	defaultRequestTimeout = 5 * time.Minute
	defaultConnectTimeout = time.Minute
	defaultReadTimeout    = 4 * time.Minute

	// The health probe keeps its own tight budget so a dead endpoint is
	// reported in seconds, not after the streaming timeouts.
	healthConnectTimeout = 5 * time.Second
	healthReadTimeout    = 10 * time.Second
)

// SSEClient is a minimal client for OpenAI-compatible streaming chat
// endpoints. It exists because reasoning deltas arrive on a nonstandard
// field that typed SDK clients drop, and the pipeline needs them to
// heartbeat through long model silences.
type SSEClient struct {
	baseURL string
	model   string
	apiKey  string
	httpc   *http.Client
	healthc *http.Client
}

// NewSSEClient targets baseURL (e.g. "http://localhost:11434/v1") with the
// given model. apiKey may be empty for local endpoints.
func NewSSEClient(baseURL, model, apiKey string, t Timeouts) *SSEClient {
	if t.Request <= 0 {
		t.Request = defaultRequestTimeout
	}
	if t.Connect <= 0 {
		t.Connect = defaultConnectTimeout
	}
	if t.Read <= 0 {
		t.Read = defaultReadTimeout
	}
	return &SSEClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: t.Request,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: t.Connect}).DialContext,
				ResponseHeaderTimeout: t.Read,
			},
		},
		healthc: &http.Client{
			Timeout: healthConnectTimeout + healthReadTimeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: healthConnectTimeout}).DialContext,
				ResponseHeaderTimeout: healthReadTimeout,
			},
		},
	}
}

// Health probes the endpoint's model listing with a 5 second connect and a
// 10 second response budget, so a dead endpoint is detected before a long
// streaming call is attempted.
func (c *SSEClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.healthc.Do(req)
	if err != nil {
		return fmt.Errorf("model endpoint unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model endpoint health: status %d", resp.StatusCode)
	}
	return nil
}

type chatStreamRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream posts a streaming chat completion and decodes server-sent events
// until the [DONE] sentinel. Malformed events are skipped. Non-200 responses
// come back as *StatusError.
func (c *SSEClient) Stream(ctx context.Context, system, user string, onDelta func(Delta)) (string, error) {
	body, err := json.Marshal(chatStreamRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: true,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			d := Delta{Content: choice.Delta.Content, Reasoning: choice.Delta.Reasoning}
			if d.Content == "" && d.Reasoning == "" {
				continue
			}
			content.WriteString(d.Content)
			if onDelta != nil {
				onDelta(d)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read event stream: %w", err)
	}
	return content.String(), nil
}
