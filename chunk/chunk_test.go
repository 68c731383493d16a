package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixware/mxwhisper/config"
	"github.com/mixware/mxwhisper/store"
)

func TestSentenceSpans(t *testing.T) {
	text := "First sentence. Second one! Third?? And a trailing fragment"
	spans := sentenceSpans(text)
	var got []string
	for _, s := range spans {
		got = append(got, text[s.start:s.end])
	}
	assert.Equal(t, []string{
		"First sentence.", "Second one!", "Third??", "And a trailing fragment",
	}, got)
}

func TestSentenceSpansAbbreviationStaysWhole(t *testing.T) {
	// A period not followed by whitespace does not end a sentence.
	text := "Visit example.com for details. Thanks."
	spans := sentenceSpans(text)
	require.Len(t, spans, 2)
	assert.Equal(t, "Visit example.com for details.", text[spans[0].start:spans[0].end])
}

func TestSentenceChunksPacking(t *testing.T) {
	// Each sentence is ~10 tokens (39 chars); a 25-token budget fits two.
	s := strings.Repeat("a", 38) + "."
	transcript := s + " " + s + " " + s + " " + s + " " + s
	chunks := sentenceChunks(transcript, 25, 0)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, transcript[c.StartChar:c.EndChar], c.Text)
	}
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, len(transcript), chunks[2].EndChar)
}

func TestSentenceChunksOversizedSentence(t *testing.T) {
	long := strings.Repeat("b", 400) + "."
	chunks := sentenceChunks(long+" Short one.", 50, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, long, chunks[0].Text)
	assert.Equal(t, "Short one.", chunks[1].Text)
}

func TestSentenceChunksOverlapCarriesTail(t *testing.T) {
	// Three 39-char sentences, an 80-char window and a 40-char overlap
	// budget: the second chunk repeats the sentence that closed the first.
	a := strings.Repeat("a", 38) + "."
	b := strings.Repeat("b", 38) + "."
	c := strings.Repeat("c", 38) + "."
	transcript := a + " " + b + " " + c
	chunks := sentenceChunks(transcript, 20, 10)
	require.Len(t, chunks, 2)
	assert.Equal(t, a+" "+b, chunks[0].Text)
	assert.Equal(t, b+" "+c, chunks[1].Text)
	// Character ranges keep tiling forward even though the text overlaps.
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, chunks[0].EndChar+1, chunks[1].StartChar)
	assert.Equal(t, chunks[1].StartChar+len(chunks[1].Text), chunks[1].EndChar)
}

func TestSentenceChunksZeroOverlapTiles(t *testing.T) {
	a := strings.Repeat("a", 38) + "."
	b := strings.Repeat("b", 38) + "."
	transcript := a + " " + b
	chunks := sentenceChunks(transcript, 10, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, a, chunks[0].Text)
	assert.Equal(t, b, chunks[1].Text)
	assert.Equal(t, transcript[chunks[1].StartChar:chunks[1].EndChar], chunks[1].Text)
}

func TestStripThink(t *testing.T) {
	assert.Equal(t, "answer",
		stripThink("<think>pondering deeply</think>answer"))
	assert.Equal(t, "answer",
		stripThink("<thinking>pondering</thinking>answer"))
	assert.Equal(t, "answer",
		stripThink("```think\npondering\n```answer"))
	assert.Equal(t, "answer",
		stripThink("<THINK>case\ninsensitive</THINK>answer"))
	assert.Equal(t, "before ",
		stripThink("before <think>never closed"))
	assert.Equal(t, "before ",
		stripThink("before <thinking>never closed"))
	assert.Equal(t, "a b",
		strings.Join(strings.Fields(stripThink("<think>x</think>a<think>y</think> b")), " "))
}

func TestExtractJSON(t *testing.T) {
	obj, err := extractJSON(`Here you go: {"chunks": [{"topic": "a \"quoted\" {brace}"}]} trailing`)
	require.NoError(t, err)
	assert.Equal(t, `{"chunks": [{"topic": "a \"quoted\" {brace}"}]}`, obj)

	_, err = extractJSON("no object here")
	require.Error(t, err)
	_, err = extractJSON(`{"unbalanced": {`)
	require.Error(t, err)
}

// 97 bytes; sentence starts fall at 0, 25, 50 and 76.
const testTranscript = "We begin with databases. Indexes make reads fast. Then we pivot to cooking. Salt early and often."

func TestParseProposalValid(t *testing.T) {
	raw := fmt.Sprintf(`<think>splitting</think>{"chunks": [
		{"start_pos": 0, "end_pos": 50,
		 "topic": "Database indexing", "keywords": ["databases", "indexes"], "confidence": 0.9},
		{"start_pos": 50, "end_pos": %d,
		 "topic": "Cooking advice", "keywords": ["cooking", "salt"], "confidence": 0.8}
	]}`, len(testTranscript))
	chunks, err := parseProposal(raw, testTranscript)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 50, chunks[0].EndChar)
	assert.Equal(t, 50, chunks[1].StartChar)
	assert.Equal(t, len(testTranscript), chunks[1].EndChar)
	assert.Equal(t, "Database indexing", chunks[0].TopicSummary)
	assert.Equal(t, []string{"cooking", "salt"}, chunks[1].Keywords)
	for _, c := range chunks {
		assert.Equal(t, testTranscript[c.StartChar:c.EndChar], c.Text)
	}
}

func TestParseProposalRejectsUncoveredPrefix(t *testing.T) {
	raw := fmt.Sprintf(`{"chunks": [{"start_pos": 6, "end_pos": %d, "topic": "x"}]}`,
		len(testTranscript))
	_, err := parseProposal(raw, testTranscript)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starts at 6")
}

func TestParseProposalRejectsUncoveredTail(t *testing.T) {
	raw := fmt.Sprintf(`{"chunks": [{"start_pos": 0, "end_pos": %d, "topic": "x"}]}`,
		len(testTranscript)-29)
	_, err := parseProposal(raw, testTranscript)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcript length")
}

func TestParseProposalRejectsGap(t *testing.T) {
	raw := fmt.Sprintf(`{"chunks": [
		{"start_pos": 0, "end_pos": 50},
		{"start_pos": 55, "end_pos": %d}
	]}`, len(testTranscript))
	_, err := parseProposal(raw, testTranscript)
	require.Error(t, err)
}

func TestParseProposalRejectsOverlap(t *testing.T) {
	raw := fmt.Sprintf(`{"chunks": [
		{"start_pos": 0, "end_pos": 55},
		{"start_pos": 50, "end_pos": %d}
	]}`, len(testTranscript))
	_, err := parseProposal(raw, testTranscript)
	require.Error(t, err)
}

func TestParseProposalRejectsOutOfRange(t *testing.T) {
	raw := fmt.Sprintf(`{"chunks": [{"start_pos": 0, "end_pos": %d}]}`,
		len(testTranscript)+10)
	_, err := parseProposal(raw, testTranscript)
	require.Error(t, err)

	_, err = parseProposal(`{"chunks": [{"start_pos": 0, "end_pos": 0}]}`, testTranscript)
	require.Error(t, err)
}

func TestParseProposalRejectsFractionalPositions(t *testing.T) {
	_, err := parseProposal(`{"chunks": [{"start_pos": 0, "end_pos": 49.5}]}`, testTranscript)
	require.Error(t, err)
}

func TestParseProposalRejectsEmpty(t *testing.T) {
	_, err := parseProposal(`{"chunks": []}`, testTranscript)
	require.Error(t, err)
}

func segmentsFor(texts []string, step float64) []store.Segment {
	segs := make([]store.Segment, len(texts))
	at := 0.0
	for i, t := range texts {
		segs[i] = store.Segment{StartS: at, EndS: at + step, Text: t}
		at += step
	}
	return segs
}

func TestApplyTimestamps(t *testing.T) {
	segs := segmentsFor([]string{
		"We begin with databases.",
		"Indexes make reads fast.",
		"Then we pivot to cooking.",
		"Salt early and often.",
	}, 10)
	chunks := []*store.Chunk{
		{StartChar: 0, EndChar: 49},                   // first two segments
		{StartChar: 50, EndChar: len(testTranscript)}, // last two
	}
	applyTimestamps(chunks, segs)
	assert.InDelta(t, 0, chunks[0].StartS, 0.001)
	assert.InDelta(t, 20, chunks[0].EndS, 0.001)
	assert.InDelta(t, 20, chunks[1].StartS, 0.001)
	assert.InDelta(t, 40, chunks[1].EndS, 0.001)
}

type fakeStreamer struct {
	response string
	err      error
	deltas   []Delta
	calls    int
}

func (f *fakeStreamer) Stream(_ context.Context, _, _ string, onDelta func(Delta)) (string, error) {
	f.calls++
	for _, d := range f.deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	return f.response, f.err
}

func TestSplitLLM(t *testing.T) {
	llm := &fakeStreamer{
		response: fmt.Sprintf(`{"chunks": [
			{"start_pos": 0, "end_pos": 50, "topic": "DBs", "keywords": ["db"], "confidence": 0.9},
			{"start_pos": 50, "end_pos": %d, "topic": "Food", "keywords": ["salt"], "confidence": 0.7}
		]}`, len(testTranscript)),
		deltas: []Delta{{Reasoning: "hmm"}, {Content: "{"}},
	}
	c := New(Options{Strategy: config.StrategyLLM, MinTokens: 5, MaxTokens: 100}, llm)

	beats := 0
	segs := segmentsFor([]string{
		"We begin with databases.", "Indexes make reads fast.",
		"Then we pivot to cooking.", "Salt early and often.",
	}, 5)
	chunks, used, err := c.Split(context.Background(), testTranscript, segs, func() { beats++ })
	require.NoError(t, err)
	assert.Equal(t, config.StrategyLLM, used)
	assert.Equal(t, 2, beats)
	require.Len(t, chunks, 2)
	assert.InDelta(t, 0, chunks[0].StartS, 0.001)
	assert.InDelta(t, 10, chunks[0].EndS, 0.001)
	assert.InDelta(t, 20, chunks[1].EndS, 0.001)
}

func TestSplitLLMFallsBackToSentences(t *testing.T) {
	orig := llmBackoffInitial
	llmBackoffInitial = time.Millisecond
	defer func() { llmBackoffInitial = orig }()

	llm := &fakeStreamer{err: errors.New("model down")}
	c := New(Options{Strategy: config.StrategyLLM, MinTokens: 5, MaxTokens: 100}, llm)
	chunks, used, err := c.Split(context.Background(), testTranscript, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.StrategySentence, used)
	assert.NotEmpty(t, chunks)
	// Transient failures burn every configured attempt before falling back.
	assert.Equal(t, llmAttempts, llm.calls)
}

func TestSplitLLMRespectsMaxRetries(t *testing.T) {
	orig := llmBackoffInitial
	llmBackoffInitial = time.Millisecond
	defer func() { llmBackoffInitial = orig }()

	llm := &fakeStreamer{err: errors.New("model down")}
	c := New(Options{Strategy: config.StrategyLLM, MinTokens: 5, MaxTokens: 100, MaxRetries: 2}, llm)
	_, used, err := c.Split(context.Background(), testTranscript, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.StrategySentence, used)
	assert.Equal(t, 2, llm.calls)
}

func TestSplitLLMBadAnswerFallsBackWithoutRetry(t *testing.T) {
	// A well-formed answer whose first chunk skips the opening characters
	// is invalid; it must not be retried, just replaced by sentences.
	llm := &fakeStreamer{
		response: fmt.Sprintf(`{"chunks": [{"start_pos": 5, "end_pos": %d, "topic": "x"}]}`,
			len(testTranscript)),
	}
	c := New(Options{Strategy: config.StrategyLLM, MinTokens: 5, MaxTokens: 100}, llm)
	chunks, used, err := c.Split(context.Background(), testTranscript, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.StrategySentence, used)
	assert.NotEmpty(t, chunks)
	assert.Equal(t, 1, llm.calls)
}

func TestSplitLLMClientErrorNotRetried(t *testing.T) {
	llm := &fakeStreamer{err: &StatusError{Code: 404, Body: "no such model"}}
	c := New(Options{Strategy: config.StrategyLLM, MinTokens: 5, MaxTokens: 100}, llm)
	_, used, err := c.Split(context.Background(), testTranscript, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.StrategySentence, used)
	assert.Equal(t, 1, llm.calls)
}

func TestSplitSingle(t *testing.T) {
	c := New(Options{Strategy: config.StrategySingle, MinTokens: 5, MaxTokens: 100}, nil)
	chunks, used, err := c.Split(context.Background(), "  "+testTranscript+"  ", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.StrategySingle, used)
	require.Len(t, chunks, 1)
	assert.Equal(t, testTranscript, chunks[0].Text)
	assert.Equal(t, len(testTranscript), chunks[0].EndChar)
}

func TestSplitEmptyYieldsNoChunks(t *testing.T) {
	c := New(Options{Strategy: config.StrategyLLM, MinTokens: 5, MaxTokens: 100}, nil)
	chunks, used, err := c.Split(context.Background(), "   ", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, config.StrategyLLM, used)
}
