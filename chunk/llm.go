package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/mixware/mxwhisper/store"
)

const chunkPromptFmt = `You are a transcript analyst. Divide the transcript into topically coherent chunks.

Rules:
- Identify each chunk by character positions into the transcript: "start_pos" inclusive, "end_pos" exclusive. Positions are integers.
- Chunks must cover the entire transcript in order with no gaps and no overlap: the first chunk starts at 0, the last ends at %d, and each chunk starts exactly where the previous one ended.
- Aim for %d to %d tokens per chunk. Each chunk covers one topic or discussion thread.
- Respond with a single JSON object and nothing else:
{"chunks": [{"start_pos": 0, "end_pos": 0, "topic": "...", "keywords": ["..."], "confidence": 0.0}]}
- "topic" is a one-sentence summary. "keywords" holds 3 to 5 terms. "confidence" is your certainty in [0,1] that the boundaries are correct.`

// Retry knobs for the model call. Variables so tests can shrink the delays.
var (
	llmAttempts       = 3
	llmBackoffInitial = time.Second
	llmBackoffMax     = 10 * time.Second
)

// chunkProposal is the shape the model is asked to return.
type chunkProposal struct {
	Chunks []struct {
		StartPos   int      `json:"start_pos"`
		EndPos     int      `json:"end_pos"`
		Topic      string   `json:"topic"`
		Keywords   []string `json:"keywords"`
		Confidence float64  `json:"confidence"`
	} `json:"chunks"`
}

// llmChunks asks the model for boundaries. Only transient failures retry
// with exponential backoff: unreachable or 5xx endpoints. A malformed or
// invalid answer from a healthy endpoint is permanent, as is a 4xx status;
// both fail immediately so the caller can fall back to sentence chunking.
func (c *Chunker) llmChunks(ctx context.Context, transcript string, heartbeat func()) ([]*store.Chunk, error) {
	if c.llm == nil {
		return nil, errors.New("no model client configured")
	}
	prompt := fmt.Sprintf(chunkPromptFmt, len(transcript), c.minTokens, c.maxTokens)
	attempts := c.maxRetries
	if attempts <= 0 {
		attempts = llmAttempts
	}
	backoff := llmBackoffInitial
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > llmBackoffMax {
				backoff = llmBackoffMax
			}
		}
		if h, ok := c.llm.(interface{ Health(context.Context) error }); ok {
			if err := h.Health(ctx); err != nil {
				lastErr = err
				log.Warn(ctx, log.KV{K: "msg", V: "chunking model endpoint unhealthy"},
					log.KV{K: "attempt", V: attempt}, log.KV{K: "err", V: err.Error()})
				continue
			}
		}
		raw, err := c.llm.Stream(ctx, prompt, transcript, func(Delta) {
			if heartbeat != nil {
				heartbeat()
			}
		})
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
				return nil, fmt.Errorf("llm chunking rejected by endpoint: %w", err)
			}
			lastErr = err
			log.Warn(ctx, log.KV{K: "msg", V: "chunking model call failed"},
				log.KV{K: "attempt", V: attempt}, log.KV{K: "err", V: err.Error()})
			continue
		}
		chunks, err := parseProposal(raw, transcript)
		if err != nil {
			// A bad answer from a healthy endpoint does not improve on
			// retry; let the sentence fallback take over.
			return nil, fmt.Errorf("llm chunking answer rejected: %w", err)
		}
		return chunks, nil
	}
	return nil, fmt.Errorf("llm chunking failed after %d attempts: %w", attempts, lastErr)
}

// Reasoning blocks models wrap their thinking in before the answer.
var thinkBlockRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile("(?is)```think.*?```"),
}

var thinkOpenRe = regexp.MustCompile(`(?is)<think(?:ing)?>.*$`)

// stripThink removes reasoning blocks from the model output, including an
// unterminated trailing block.
func stripThink(s string) string {
	for _, re := range thinkBlockRes {
		s = re.ReplaceAllString(s, "")
	}
	return thinkOpenRe.ReplaceAllString(s, "")
}

// extractJSON returns the first balanced top-level JSON object in s, tracking
// string literals and escapes so braces inside values do not confuse the
// depth count.
func extractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("no JSON object in model output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		b := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unbalanced JSON object in model output")
}

// parseProposal validates the raw model output against the transcript and
// converts it into ordered chunks. The proposed ranges must tile the
// transcript exactly: the first chunk starts at 0, the last ends at the
// transcript length, and every chunk starts where the previous one ended.
// Validation is all-or-nothing: one bad range rejects the whole answer.
func parseProposal(raw, transcript string) ([]*store.Chunk, error) {
	cleaned := stripThink(raw)
	obj, err := extractJSON(cleaned)
	if err != nil {
		return nil, err
	}
	var proposal chunkProposal
	if err := json.Unmarshal([]byte(obj), &proposal); err != nil {
		return nil, fmt.Errorf("decode chunk proposal: %w", err)
	}
	if len(proposal.Chunks) == 0 {
		return nil, errors.New("model proposed no chunks")
	}

	chunks := make([]*store.Chunk, 0, len(proposal.Chunks))
	prevEnd := 0
	for i, p := range proposal.Chunks {
		if p.StartPos != prevEnd {
			return nil, fmt.Errorf("chunk %d starts at %d, expected %d", i, p.StartPos, prevEnd)
		}
		if p.EndPos <= p.StartPos || p.EndPos > len(transcript) {
			return nil, fmt.Errorf("chunk %d range [%d,%d) is invalid for transcript length %d",
				i, p.StartPos, p.EndPos, len(transcript))
		}
		conf := p.Confidence
		if conf < 0 || conf > 1 {
			conf = 0
		}
		chunks = append(chunks, &store.Chunk{
			ChunkIndex:   i,
			Text:         transcript[p.StartPos:p.EndPos],
			StartChar:    p.StartPos,
			EndChar:      p.EndPos,
			TopicSummary: strings.TrimSpace(p.Topic),
			Keywords:     p.Keywords,
			Confidence:   conf,
		})
		prevEnd = p.EndPos
	}
	if prevEnd != len(transcript) {
		return nil, fmt.Errorf("chunks end at %d, transcript length is %d", prevEnd, len(transcript))
	}
	return chunks, nil
}
