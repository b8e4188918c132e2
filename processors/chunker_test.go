package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoChat/core"
)

// Two 12s speech segments separated by a 2s silence gap, chunked with a 10s
// window and 2s overlap, must yield the [0,10) [8,18) [16,26) windows; the
// trailing window would repeat the second segment and is skipped.
func TestChunkTranscriptSlidingWindow(t *testing.T) {
	segments := []core.Segment{
		{Start: 0, End: 12, Text: "first segment"},
		{Start: 14, End: 26, Text: "second segment"},
	}

	chunks := ChunkTranscript(segments, 10, 2)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0.0, chunks[0].Start)
	assert.Equal(t, 10.0, chunks[0].End)
	assert.Equal(t, "first segment", chunks[0].Text)

	assert.Equal(t, 8.0, chunks[1].Start)
	assert.Equal(t, 18.0, chunks[1].End)
	assert.Equal(t, "first segment second segment", chunks[1].Text)

	assert.Equal(t, 16.0, chunks[2].Start)
	assert.Equal(t, 26.0, chunks[2].End)
	assert.Equal(t, "second segment", chunks[2].Text)

	for _, c := range chunks {
		assert.Equal(t, core.ModalityText, c.Modality)
	}
}

func TestChunkTranscriptSilentWindowsProduceNoChunk(t *testing.T) {
	segments := []core.Segment{
		{Start: 0, End: 5, Text: "intro"},
		{Start: 20, End: 25, Text: "outro"},
	}
	chunks := ChunkTranscript(segments, 10, 2)
	require.Len(t, chunks, 2)
	assert.Equal(t, "intro", chunks[0].Text)
	assert.Equal(t, "outro", chunks[1].Text)
}

func TestChunkTranscriptEmpty(t *testing.T) {
	assert.Empty(t, ChunkTranscript(nil, 10, 2))
	assert.Empty(t, ChunkTranscript([]core.Segment{}, 10, 2))
}

func TestBuildChunksOrdinalsAreDeterministic(t *testing.T) {
	segments := []core.Segment{
		{Start: 0, End: 12, Text: "first segment"},
		{Start: 14, End: 26, Text: "second segment"},
	}
	frames := make([]core.Frame, 0, 6)
	for i := 0; i < 6; i++ {
		frames = append(frames, core.Frame{Index: i, TimestampSec: float64(i * 5), Path: "frame.jpg"})
	}

	first := BuildChunks(segments, frames, 10, 2)
	second := BuildChunks(segments, frames, 10, 2)
	require.Equal(t, first, second)

	require.Len(t, first, 9) // 3 text windows + 6 frames
	for i, c := range first {
		assert.Equal(t, i, c.Ordinal)
	}
	assert.Equal(t, core.ModalityText, first[0].Modality)
	assert.Equal(t, core.ModalityImage, first[3].Modality)
	// image chunks in timestamp order after the text windows
	for i := 3; i < 9; i++ {
		assert.Equal(t, float64((i-3)*5), first[i].Start)
	}
}

func TestBuildChunksNoSpeech(t *testing.T) {
	frames := []core.Frame{{Index: 0, TimestampSec: 0, Path: "a.jpg"}}
	chunks := BuildChunks(nil, frames, 10, 2)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.ModalityImage, chunks[0].Modality)
}
