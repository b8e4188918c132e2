package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"videoChat/core"
)

// PgVectorIndex stores embeddings in PostgreSQL with the pgvector extension.
// Replace runs as one transaction (delete + batch insert), so concurrent
// queries see either the old or the new complete set for a video.
//
// The backend uses a single vector column; all modalities must share one
// dimensionality (the caption-based image embedder guarantees that).
type PgVectorIndex struct {
	pool *pgxpool.Pool
	dims Dimensions
	dim  int
}

func NewPgVectorIndex(ctx context.Context, url string, dims Dimensions) (*PgVectorIndex, error) {
	dim := 0
	for _, d := range dims {
		if dim != 0 && d != dim {
			return nil, fmt.Errorf("pgvector backend requires equal dimensions per modality, got %v", dims)
		}
		dim = d
	}
	if dim == 0 {
		return nil, fmt.Errorf("no modality dimensions configured")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgVectorIndex{pool: pool, dims: dims, dim: dim}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgVectorIndex) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS video_chunks (
			id BIGSERIAL PRIMARY KEY,
			video_id VARCHAR(64) NOT NULL,
			chunk_id VARCHAR(80) NOT NULL,
			ordinal INT NOT NULL,
			modality VARCHAR(8) NOT NULL,
			start_sec DOUBLE PRECISION NOT NULL,
			end_sec DOUBLE PRECISION NOT NULL,
			content TEXT NOT NULL,
			frame_path TEXT,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now(),
			UNIQUE(video_id, ordinal)
		);`, s.dim)
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create video_chunks table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_video_chunks_video ON video_chunks(video_id);",
		"CREATE INDEX IF NOT EXISTS idx_video_chunks_video_modality ON video_chunks(video_id, modality);",
		"CREATE INDEX IF NOT EXISTS idx_video_chunks_embedding ON video_chunks USING hnsw (embedding vector_cosine_ops);",
	}
	for _, q := range indexes {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			log.Printf("Warning: failed to create index: %v", err)
		}
	}
	return nil
}

func (s *PgVectorIndex) Replace(ctx context.Context, videoID string, records []core.EmbeddingRecord) error {
	if err := s.dims.validate(records); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM video_chunks WHERE video_id = $1", videoID); err != nil {
		return fmt.Errorf("clear previous records: %w", err)
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`INSERT INTO video_chunks
			(video_id, chunk_id, ordinal, modality, start_sec, end_sec, content, frame_path, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.VideoID, r.ChunkID, r.Ordinal, string(r.Modality), r.Start, r.End,
			r.Content, r.FramePath, pgvector.NewVector(r.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PgVectorIndex) Query(ctx context.Context, videoID string, vector []float32, modality core.Modality, k int) ([]core.ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1")
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, want %d",
			core.ErrDimensionMismatch, len(vector), s.dim)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, ordinal, modality, start_sec, end_sec, content, COALESCE(frame_path, ''),
		       1 - (embedding <=> $1) AS score
		FROM video_chunks
		WHERE video_id = $2 AND modality = $3
		ORDER BY embedding <=> $1, ordinal
		LIMIT $4`,
		pgvector.NewVector(vector), videoID, string(modality), k)
	if err != nil {
		return nil, fmt.Errorf("query video_chunks: %w", err)
	}
	defer rows.Close()

	var hits []core.ScoredChunk
	for rows.Next() {
		var h core.ScoredChunk
		var mod string
		if err := rows.Scan(&h.ChunkID, &h.Ordinal, &mod, &h.Start, &h.End, &h.Content, &h.FramePath, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.Modality = core.Modality(mod)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PgVectorIndex) DeleteVideo(ctx context.Context, videoID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM video_chunks WHERE video_id = $1", videoID); err != nil {
		return fmt.Errorf("delete video records: %w", err)
	}
	return nil
}

func (s *PgVectorIndex) Count(ctx context.Context, videoID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM video_chunks WHERE video_id = $1", videoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count video records: %w", err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *PgVectorIndex) Close() {
	s.pool.Close()
}
