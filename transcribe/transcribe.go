// Package transcribe turns audio files into timestamped text. The production
// driver shells out to whisper.cpp; the interface keeps the pipeline testable
// without a model on disk.
package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixware/mxwhisper/store"
)

// Result is a completed transcription.
type Result struct {
	Text     string
	Language string
	Segments []store.Segment
}

// Transcriber produces a Result from an audio file on disk. The progress
// callback receives percentages in [0,100] and may be nil.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, progress func(pct int)) (*Result, error)
}

// FormatSRT renders segments as SubRip subtitles, 1-indexed with
// HH:MM:SS,mmm timestamps.
func FormatSRT(segments []store.Segment) string {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTime(s.StartS), srtTime(s.EndS), strings.TrimSpace(s.Text))
	}
	return b.String()
}

func srtTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
