package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"videoChat/core"
)

// MilvusVectorIndex is the Milvus-backed implementation, selected with
// STORE=milvus. Per-video isolation uses a scalar filter on video_id; Replace
// deletes the old rows and inserts the new batch followed by a flush. Like the
// pgvector backend it requires one shared dimensionality across modalities.
type MilvusVectorIndex struct {
	mc   client.Client
	coll string
	dims Dimensions
	dim  int
}

func NewMilvusVectorIndex(ctx context.Context, addr, username, password, apiKey, coll string, dims Dimensions) (*MilvusVectorIndex, error) {
	dim := 0
	for _, d := range dims {
		if dim != 0 && d != dim {
			return nil, fmt.Errorf("milvus backend requires equal dimensions per modality, got %v", dims)
		}
		dim = d
	}
	if dim == 0 {
		return nil, fmt.Errorf("no modality dimensions configured")
	}
	if coll == "" {
		coll = "video_chunks"
	}
	mc, err := client.NewClient(ctx, client.Config{Address: addr, Username: username, Password: password, APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	s := &MilvusVectorIndex{mc: mc, coll: coll, dims: dims, dim: dim}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusVectorIndex) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("chunk_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(80))
		schema.WithField(entity.NewField().WithName("ordinal").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("modality").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8))
		schema.WithField(entity.NewField().WithName("start_sec").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end_sec").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("content").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("frame_path").WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))
		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func videoFilter(videoID string) string {
	return fmt.Sprintf("video_id == \"%s\"", strings.ReplaceAll(videoID, "\"", "\\\""))
}

func (s *MilvusVectorIndex) Replace(ctx context.Context, videoID string, records []core.EmbeddingRecord) error {
	if err := s.dims.validate(records); err != nil {
		return err
	}
	if err := s.mc.Delete(ctx, s.coll, "", videoFilter(videoID)); err != nil {
		return fmt.Errorf("clear previous records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	n := len(records)
	videoIDs := make([]string, 0, n)
	chunkIDs := make([]string, 0, n)
	ordinals := make([]int64, 0, n)
	modalities := make([]string, 0, n)
	starts := make([]float64, 0, n)
	ends := make([]float64, 0, n)
	contents := make([]string, 0, n)
	framePaths := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	for _, r := range records {
		videoIDs = append(videoIDs, r.VideoID)
		chunkIDs = append(chunkIDs, r.ChunkID)
		ordinals = append(ordinals, int64(r.Ordinal))
		modalities = append(modalities, string(r.Modality))
		starts = append(starts, r.Start)
		ends = append(ends, r.End)
		contents = append(contents, r.Content)
		framePaths = append(framePaths, r.FramePath)
		vectors = append(vectors, r.Vector)
	}
	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("video_id", videoIDs),
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnInt64("ordinal", ordinals),
		entity.NewColumnVarChar("modality", modalities),
		entity.NewColumnDouble("start_sec", starts),
		entity.NewColumnDouble("end_sec", ends),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnVarChar("frame_path", framePaths),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	if err := s.mc.Flush(ctx, s.coll, false); err != nil {
		return fmt.Errorf("flush collection: %w", err)
	}
	return nil
}

func (s *MilvusVectorIndex) Query(ctx context.Context, videoID string, vector []float32, modality core.Modality, k int) ([]core.ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1")
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, want %d",
			core.ErrDimensionMismatch, len(vector), s.dim)
	}
	sp, _ := entity.NewIndexHNSWSearchParam(74)
	filter := fmt.Sprintf("%s && modality == \"%s\"", videoFilter(videoID), modality)
	res, err := s.mc.Search(ctx, s.coll, []string{}, filter,
		[]string{"chunk_id", "ordinal", "start_sec", "end_sec", "content", "frame_path"},
		[]entity.Vector{entity.FloatVector(vector)}, "vector", entity.COSINE, k, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []core.ScoredChunk
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			h := core.ScoredChunk{Modality: modality, Score: float64(r.Scores[i])}
			if c, ok := cols["chunk_id"].(*entity.ColumnVarChar); ok && i < len(c.Data()) {
				h.ChunkID = c.Data()[i]
			}
			if c, ok := cols["ordinal"].(*entity.ColumnInt64); ok && i < len(c.Data()) {
				h.Ordinal = int(c.Data()[i])
			}
			if c, ok := cols["start_sec"].(*entity.ColumnDouble); ok && i < len(c.Data()) {
				h.Start = c.Data()[i]
			}
			if c, ok := cols["end_sec"].(*entity.ColumnDouble); ok && i < len(c.Data()) {
				h.End = c.Data()[i]
			}
			if c, ok := cols["content"].(*entity.ColumnVarChar); ok && i < len(c.Data()) {
				h.Content = c.Data()[i]
			}
			if c, ok := cols["frame_path"].(*entity.ColumnVarChar); ok && i < len(c.Data()) {
				h.FramePath = c.Data()[i]
			}
			hits = append(hits, h)
		}
	}
	return hits, nil
}

func (s *MilvusVectorIndex) DeleteVideo(ctx context.Context, videoID string) error {
	if err := s.mc.Delete(ctx, s.coll, "", videoFilter(videoID)); err != nil {
		return fmt.Errorf("delete video records: %w", err)
	}
	return nil
}

func (s *MilvusVectorIndex) Count(ctx context.Context, videoID string) (int, error) {
	rs, err := s.mc.Query(ctx, s.coll, nil, videoFilter(videoID), []string{"chunk_id"})
	if err != nil {
		return 0, fmt.Errorf("count video records: %w", err)
	}
	for _, c := range rs {
		if c.Name() == "chunk_id" {
			return c.Len(), nil
		}
	}
	return 0, nil
}

// Close drops the Milvus connection.
func (s *MilvusVectorIndex) Close() error {
	return s.mc.Close()
}
