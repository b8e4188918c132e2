package chat

import (
	"context"
	"fmt"
	"math"
	"sort"

	"videoChat/core"
	"videoChat/processors"
	"videoChat/storage"
)

// ModalityWeights scales per-modality similarity before the merged ranking.
type ModalityWeights map[core.Modality]float64

func (w ModalityWeights) weight(m core.Modality) float64 {
	if v, ok := w[m]; ok {
		return v
	}
	return 1.0
}

// Retriever performs ranked multimodal search against one video's index.
type Retriever struct {
	videos   storage.VideoStore
	index    storage.VectorIndex
	embedder processors.TextEmbedder
	weights  ModalityWeights
}

func NewRetriever(videos storage.VideoStore, index storage.VectorIndex, embedder processors.TextEmbedder, weights ModalityWeights) *Retriever {
	return &Retriever{videos: videos, index: index, embedder: embedder, weights: weights}
}

// Retrieve embeds the query once, runs k-NN independently against the text and
// image subsets and merges by weighted score. Ordering is deterministic: score
// descending, then distance of the chunk start to lastReferenced ascending,
// then ordinal ascending. A video that is not ready yields ErrVideoNotReady;
// an empty index yields an empty list and no error.
func (r *Retriever) Retrieve(ctx context.Context, videoID, query string, k int, lastReferenced float64) ([]core.ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1")
	}
	v, err := r.videos.Get(videoID)
	if err != nil {
		return nil, err
	}
	if v.Status != core.StatusReady {
		return nil, fmt.Errorf("%w: video %s is %s", core.ErrVideoNotReady, videoID, v.Status)
	}

	vec, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var merged []core.ScoredChunk
	for _, modality := range []core.Modality{core.ModalityText, core.ModalityImage} {
		hits, err := r.index.Query(ctx, videoID, vec, modality, k)
		if err != nil {
			return nil, fmt.Errorf("query %s subset: %w", modality, err)
		}
		w := r.weights.weight(modality)
		for _, h := range hits {
			h.Score *= w
			merged = append(merged, h)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		da := math.Abs(a.Start - lastReferenced)
		db := math.Abs(b.Start - lastReferenced)
		if da != db {
			return da < db
		}
		return a.Ordinal < b.Ordinal
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}
