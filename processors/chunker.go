package processors

import (
	"sort"
	"strings"

	"videoChat/core"
)

// ChunkTranscript merges transcript segments into overlapping windows of
// windowSec duration stepped by windowSec-overlapSec. A window's text is every
// segment overlapping [start, start+window); a window that overlaps exactly the
// same segments as the previously emitted one adds nothing and is skipped.
// Windows with no speech produce no chunk.
func ChunkTranscript(segments []core.Segment, windowSec, overlapSec int) []core.Chunk {
	if len(segments) == 0 || windowSec <= 0 {
		return nil
	}
	step := float64(windowSec - overlapSec)
	if step <= 0 {
		step = float64(windowSec)
	}
	window := float64(windowSec)

	sorted := make([]core.Segment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	lastEnd := sorted[len(sorted)-1].End

	var chunks []core.Chunk
	prevSet := ""
	for start := 0.0; start < lastEnd; start += step {
		end := start + window
		var texts []string
		var key []byte
		covEnd := start
		for i, seg := range sorted {
			if seg.End <= start || seg.Start >= end {
				continue
			}
			texts = append(texts, seg.Text)
			key = append(key, byte(i), byte(i>>8))
			if seg.End > covEnd {
				covEnd = seg.End
			}
		}
		if len(texts) == 0 {
			continue
		}
		set := string(key)
		if set == prevSet {
			continue
		}
		prevSet = set
		chunkEnd := end
		if covEnd < chunkEnd {
			chunkEnd = covEnd
		}
		chunks = append(chunks, core.Chunk{
			Modality: core.ModalityText,
			Text:     strings.Join(texts, " "),
			Start:    start,
			End:      chunkEnd,
		})
	}
	return chunks
}

// BuildChunks assembles the full retrieval unit set for one video: transcript
// windows first, then one image chunk per sampled frame. Ordinals are assigned
// in that fixed order so re-ingesting an unchanged video reproduces the exact
// same chunk identities.
func BuildChunks(segments []core.Segment, frames []core.Frame, windowSec, overlapSec int) []core.Chunk {
	chunks := ChunkTranscript(segments, windowSec, overlapSec)

	framesSorted := make([]core.Frame, len(frames))
	copy(framesSorted, frames)
	sort.Slice(framesSorted, func(i, j int) bool {
		return framesSorted[i].TimestampSec < framesSorted[j].TimestampSec
	})
	for _, f := range framesSorted {
		chunks = append(chunks, core.Chunk{
			Modality:  core.ModalityImage,
			FramePath: f.Path,
			Start:     f.TimestampSec,
			End:       f.TimestampSec,
		})
	}
	for i := range chunks {
		chunks[i].Ordinal = i
	}
	return chunks
}
