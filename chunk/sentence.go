package chunk

import (
	"strings"

	"github.com/mixware/mxwhisper/store"
)

// charsPerToken is the rough character cost of one token, used to turn the
// configured token budgets into byte budgets.
const charsPerToken = 4

// span is a sentence's byte range within the transcript.
type span struct {
	start, end int
}

// sentenceSpans cuts text at sentence-ending punctuation followed by
// whitespace (or end of text), keeping the punctuation with the sentence.
// Spans exclude surrounding whitespace. Text with no terminator comes back
// as a single span.
func sentenceSpans(text string) []span {
	var out []span
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '.' && text[i] != '!' && text[i] != '?' {
			continue
		}
		// Swallow runs of terminators ("?!", "...").
		for i+1 < len(text) && (text[i+1] == '.' || text[i+1] == '!' || text[i+1] == '?') {
			i++
		}
		if i+1 < len(text) && !isSpace(text[i+1]) {
			continue
		}
		if s, ok := trimSpan(text, start, i+1); ok {
			out = append(out, s)
		}
		start = i + 1
	}
	if s, ok := trimSpan(text, start, len(text)); ok {
		out = append(out, s)
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

func trimSpan(text string, start, end int) (span, bool) {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	if start == end {
		return span{}, false
	}
	return span{start: start, end: end}, true
}

// sentenceChunks packs sentences into windows of roughly maxTokens, carrying
// up to overlapTokens of trailing sentences into the next window so context
// spans chunk boundaries. A window closes when the next sentence would push
// it past the budget; an oversized single sentence becomes its own chunk
// rather than being split mid-sentence. Overlapped text repeats across
// neighboring chunks while the recorded character ranges keep tiling
// forward, so ranges stay ordered for timestamp mapping.
func sentenceChunks(transcript string, maxTokens, overlapTokens int) []*store.Chunk {
	spans := sentenceSpans(transcript)
	if len(spans) == 0 {
		return nil
	}
	targetSize := maxTokens * charsPerToken
	overlapSize := overlapTokens * charsPerToken

	var chunks []*store.Chunk
	charPos := 0
	flush := func(win []span) {
		parts := make([]string, len(win))
		for i, s := range win {
			parts[i] = transcript[s.start:s.end]
		}
		text := strings.Join(parts, " ")
		chunks = append(chunks, &store.Chunk{
			ChunkIndex: len(chunks),
			Text:       text,
			StartChar:  charPos,
			EndChar:    charPos + len(text),
		})
		charPos += len(text) + 1
	}

	var win []span
	winLen := 0
	for _, s := range spans {
		n := s.end - s.start
		if winLen+n > targetSize && len(win) > 0 {
			flush(win)
			// Carry trailing sentences up to the overlap budget into the
			// next window.
			var carry []span
			carried := 0
			for i := len(win) - 1; i >= 0; i-- {
				l := win[i].end - win[i].start
				if carried+l > overlapSize {
					break
				}
				carry = append([]span{win[i]}, carry...)
				carried += l
			}
			win = append(carry, s)
			winLen = carried + n
			continue
		}
		win = append(win, s)
		winLen += n
	}
	flush(win)
	return chunks
}
