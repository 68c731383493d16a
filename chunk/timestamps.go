package chunk

import (
	"github.com/mixware/mxwhisper/store"
)

// applyTimestamps maps each chunk's character range back to segment
// timestamps. The transcript is the segment texts joined with single spaces,
// so a single walk over the segments assigns every chunk a start time from
// the segment containing its first character and an end time from the
// segment containing its last. Chunks reaching past the reconstructed text
// clamp to the final segment.
func applyTimestamps(chunks []*store.Chunk, segments []store.Segment) {
	if len(segments) == 0 {
		return
	}

	// Segment i covers bytes [starts[i], starts[i]+len(text)).
	starts := make([]int, len(segments))
	offset := 0
	for i, s := range segments {
		if i > 0 {
			offset++ // joining space
		}
		starts[i] = offset
		offset += len(s.Text)
	}

	seg := 0
	for _, c := range chunks {
		for seg+1 < len(segments) && starts[seg+1] <= c.StartChar {
			seg++
		}
		c.StartS = segments[seg].StartS

		endSeg := seg
		for endSeg+1 < len(segments) && starts[endSeg+1] < c.EndChar {
			endSeg++
		}
		c.EndS = segments[endSeg].EndS
	}
}
