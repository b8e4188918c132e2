package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"videoChat/core"
)

// VectorIndex is the per-video similarity store over embedded chunks.
//
// Replace installs the complete record set for a video in one atomic step:
// concurrent queries observe either the previous complete set or the new one,
// never a mix. DeleteVideo is idempotent. Inserts validate vector
// dimensionality per modality and fail with core.ErrDimensionMismatch on a
// mismatch rather than corrupting the index.
type VectorIndex interface {
	Replace(ctx context.Context, videoID string, records []core.EmbeddingRecord) error
	Query(ctx context.Context, videoID string, vector []float32, modality core.Modality, k int) ([]core.ScoredChunk, error)
	DeleteVideo(ctx context.Context, videoID string) error
	Count(ctx context.Context, videoID string) (int, error)
}

// Dimensions fixes the expected vector length per modality for one deployment.
type Dimensions map[core.Modality]int

func (d Dimensions) validate(records []core.EmbeddingRecord) error {
	for _, r := range records {
		want, ok := d[r.Modality]
		if !ok {
			return fmt.Errorf("%w: unknown modality %q", core.ErrDimensionMismatch, r.Modality)
		}
		if len(r.Vector) != want {
			return fmt.Errorf("%w: chunk %s has %d dimensions, want %d",
				core.ErrDimensionMismatch, r.ChunkID, len(r.Vector), want)
		}
	}
	return nil
}

// MemoryVectorIndex keeps everything in process. It is the default backend
// and the one tests run against. The per-video slice is swapped under the
// write lock, so readers never see a half-replaced video.
type MemoryVectorIndex struct {
	dims Dimensions
	mu   sync.RWMutex
	byID map[string][]core.EmbeddingRecord
}

func NewMemoryVectorIndex(dims Dimensions) *MemoryVectorIndex {
	return &MemoryVectorIndex{dims: dims, byID: make(map[string][]core.EmbeddingRecord)}
}

func (m *MemoryVectorIndex) Replace(_ context.Context, videoID string, records []core.EmbeddingRecord) error {
	if err := m.dims.validate(records); err != nil {
		return err
	}
	cp := make([]core.EmbeddingRecord, len(records))
	copy(cp, records)
	m.mu.Lock()
	m.byID[videoID] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryVectorIndex) Query(_ context.Context, videoID string, vector []float32, modality core.Modality, k int) ([]core.ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1")
	}
	m.mu.RLock()
	records := m.byID[videoID]
	m.mu.RUnlock()

	hits := make([]core.ScoredChunk, 0, k)
	for _, r := range records {
		if r.Modality != modality {
			continue
		}
		hits = append(hits, core.ScoredChunk{
			ChunkID:   r.ChunkID,
			Ordinal:   r.Ordinal,
			Modality:  r.Modality,
			Score:     core.Cosine(vector, r.Vector),
			Start:     r.Start,
			End:       r.End,
			Content:   r.Content,
			FramePath: r.FramePath,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryVectorIndex) DeleteVideo(_ context.Context, videoID string) error {
	m.mu.Lock()
	delete(m.byID, videoID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryVectorIndex) Count(_ context.Context, videoID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID[videoID]), nil
}
