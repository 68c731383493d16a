// Package chunk splits a transcript into topically coherent pieces. Three
// strategies exist: "llm" asks a language model for topic boundaries and
// falls back to "sentence" when the model's answer cannot be validated,
// "sentence" packs sentences into size-bounded windows with a short overlap
// carried between neighbors, and "single" emits the whole transcript as one
// chunk. All strategies produce chunks with ordered, non-overlapping
// character ranges whose timestamps come from the original segments.
package chunk

import (
	"context"
	"strings"

	"goa.design/clue/log"

	"github.com/mixware/mxwhisper/config"
	"github.com/mixware/mxwhisper/store"
)

// Options tunes a Chunker. Token counts are estimates (four characters per
// token); MaxRetries bounds model call attempts for the llm strategy and
// falls back to a small default when zero.
type Options struct {
	Strategy      string
	MinTokens     int
	MaxTokens     int
	OverlapTokens int
	MaxRetries    int
}

// Chunker splits transcripts according to a configured strategy.
type Chunker struct {
	strategy      string
	minTokens     int
	maxTokens     int
	overlapTokens int
	maxRetries    int
	llm           Streamer
}

// New builds a Chunker. llm may be nil when the strategy never consults a
// model.
func New(opts Options, llm Streamer) *Chunker {
	return &Chunker{
		strategy:      opts.Strategy,
		minTokens:     opts.MinTokens,
		maxTokens:     opts.MaxTokens,
		overlapTokens: opts.OverlapTokens,
		maxRetries:    opts.MaxRetries,
		llm:           llm,
	}
}

// Split chunks the transcript. The returned strategy names what actually
// produced the chunks, which differs from the configured strategy when the
// model path fell back to sentences. An empty transcript yields zero chunks
// and no error, so a silent recording still completes. heartbeat is invoked
// while the model streams so long-running calls can prove liveness; it may
// be nil.
func (c *Chunker) Split(ctx context.Context, transcript string, segments []store.Segment, heartbeat func()) ([]*store.Chunk, string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, c.strategy, nil
	}

	var (
		chunks []*store.Chunk
		used   = c.strategy
		err    error
	)
	switch c.strategy {
	case config.StrategyLLM:
		chunks, err = c.llmChunks(ctx, transcript, heartbeat)
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "llm chunking failed, falling back to sentences"},
				log.KV{K: "err", V: err.Error()})
			chunks = sentenceChunks(transcript, c.maxTokens, c.overlapTokens)
			used = config.StrategySentence
		}
	case config.StrategySentence:
		chunks = sentenceChunks(transcript, c.maxTokens, c.overlapTokens)
	default:
		chunks = []*store.Chunk{{
			ChunkIndex: 0,
			Text:       transcript,
			StartChar:  0,
			EndChar:    len(transcript),
		}}
		used = config.StrategySingle
	}

	applyTimestamps(chunks, segments)
	return chunks, used, nil
}
