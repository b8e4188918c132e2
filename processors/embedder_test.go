package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoChat/core"
)

func TestHashVectorDeterministicAndNormalized(t *testing.T) {
	a := hashVector("the same input", 8)
	b := hashVector("the same input", 8)
	c := hashVector("a different input", 8)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.InDelta(t, 1.0, core.Cosine(a, b), 1e-6)
}

func TestEmbedChunksOrderedAndComplete(t *testing.T) {
	chunks := []core.Chunk{
		{Ordinal: 0, Modality: core.ModalityText, Text: "alpha", Start: 0, End: 10},
		{Ordinal: 1, Modality: core.ModalityText, Text: "beta", Start: 8, End: 18},
		{Ordinal: 2, Modality: core.ModalityImage, FramePath: "frames/00001.jpg", Start: 0, End: 0},
		{Ordinal: 3, Modality: core.ModalityImage, FramePath: "frames/00002.jpg", Start: 5, End: 5},
	}
	text := &MockTextEmbedder{Dim: 8}
	image := &MockImageEmbedder{Dim: 8}

	records := EmbedChunks(context.Background(), "vid1", chunks, text, image, 3, 1)
	require.Len(t, records, 4)
	for i, r := range records {
		assert.Equal(t, i, r.Ordinal)
		assert.Equal(t, "vid1", r.VideoID)
		assert.Equal(t, core.ChunkID("vid1", i), r.ChunkID)
		assert.Len(t, r.Vector, 8)
	}
	assert.Equal(t, "alpha", records[0].Content)
	assert.Equal(t, "frames/00001.jpg", records[2].Content)
	assert.Equal(t, "frames/00001.jpg", records[2].FramePath)
}

func TestEmbedChunksIsIdempotent(t *testing.T) {
	chunks := []core.Chunk{
		{Ordinal: 0, Modality: core.ModalityText, Text: "alpha"},
		{Ordinal: 1, Modality: core.ModalityImage, FramePath: "frames/00001.jpg"},
	}
	text := &MockTextEmbedder{Dim: 8}
	image := &MockImageEmbedder{Dim: 8}

	first := EmbedChunks(context.Background(), "vid1", chunks, text, image, 2, 0)
	second := EmbedChunks(context.Background(), "vid1", chunks, text, image, 2, 0)
	assert.Equal(t, first, second)
}

func TestEmbedChunksDropsPersistentlyFailingChunk(t *testing.T) {
	chunks := []core.Chunk{
		{Ordinal: 0, Modality: core.ModalityText, Text: "good one"},
		{Ordinal: 1, Modality: core.ModalityText, Text: "poison pill"},
		{Ordinal: 2, Modality: core.ModalityText, Text: "another good one"},
	}
	text := &MockTextEmbedder{Dim: 8, FailOn: "poison"}

	records := EmbedChunks(context.Background(), "vid1", chunks, text, &MockImageEmbedder{Dim: 8}, 1, 2)
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].Ordinal)
	assert.Equal(t, 2, records[1].Ordinal)
	// 1 each for the good chunks plus 1+2 retries for the failing one
	assert.Equal(t, 5, text.Requests)
}

func TestEmbedWithRetryStopsOnPermanentError(t *testing.T) {
	text := &failingEmbedder{err: core.ErrDimensionMismatch}
	_, err := embedWithRetry(context.Background(), core.Chunk{Modality: core.ModalityText, Text: "x"}, text, nil, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	// non-transient errors are not retried
	assert.Equal(t, 1, text.calls)
}

func TestEmbedWithRetryUnknownModality(t *testing.T) {
	_, err := embedWithRetry(context.Background(), core.Chunk{Modality: "audio"}, &MockTextEmbedder{Dim: 4}, &MockImageEmbedder{Dim: 4}, 0)
	assert.Error(t, err)
}

type failingEmbedder struct {
	err   error
	calls int
}

func (f *failingEmbedder) Dimension() int { return 4 }

func (f *failingEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	f.calls++
	return nil, f.err
}
