package core

import (
	"fmt"
	"time"
)

// VideoStatus is the lifecycle state of an uploaded video.
type VideoStatus string

const (
	StatusUploaded   VideoStatus = "uploaded"
	StatusProcessing VideoStatus = "processing"
	StatusReady      VideoStatus = "ready"
	StatusFailed     VideoStatus = "failed"
)

// Video is the durable record for one uploaded video. Only the ingestion
// pipeline mutates it; once ready or failed it is immutable except for deletion.
type Video struct {
	ID               string      `json:"id"`
	Filename         string      `json:"filename"`
	OriginalFilename string      `json:"original_filename"`
	Path             string      `json:"path"`
	FileSize         int64       `json:"file_size"`
	Duration         float64     `json:"duration"`
	FPS              float64     `json:"fps"`
	Resolution       string      `json:"resolution"`
	FrameCount       int         `json:"frame_count"`
	Status           VideoStatus `json:"status"`
	FailureReason    string      `json:"failure_reason,omitempty"`
	UploadedAt       time.Time   `json:"uploaded_at"`
	ProcessedAt      *time.Time  `json:"processed_at,omitempty"`
}

// Frame is one sampled still image, ordered by timestamp.
type Frame struct {
	Index        int     `json:"index"`
	TimestampSec float64 `json:"timestamp_sec"`
	Path         string  `json:"path"`
}

// Segment is a timestamped transcript span. Segments are ordered and
// non-overlapping before chunking.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Modality tags a chunk as text or image content.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// Chunk is the smallest retrievable unit: a transcript window or a single
// frame. Chunks are immutable and addressed by (video id, ordinal) so that
// re-ingestion of an unchanged video reproduces the same set.
type Chunk struct {
	Ordinal   int      `json:"ordinal"`
	Modality  Modality `json:"modality"`
	Text      string   `json:"text,omitempty"`
	FramePath string   `json:"frame_path,omitempty"`
	Start     float64  `json:"start"`
	End       float64  `json:"end"`
}

// ChunkID derives the content-addressable chunk identifier.
func ChunkID(videoID string, ordinal int) string {
	return fmt.Sprintf("%s_%04d", videoID, ordinal)
}

// EmbeddingRecord is one embedded chunk as stored in the vector index.
type EmbeddingRecord struct {
	VideoID   string    `json:"video_id"`
	ChunkID   string    `json:"chunk_id"`
	Ordinal   int       `json:"ordinal"`
	Modality  Modality  `json:"modality"`
	Vector    []float32 `json:"vector"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Content   string    `json:"content"`
	FramePath string    `json:"frame_path,omitempty"`
}

// ScoredChunk is a retrieval hit: a chunk reference plus its weighted score.
type ScoredChunk struct {
	ChunkID   string   `json:"chunk_id"`
	Ordinal   int      `json:"ordinal"`
	Modality  Modality `json:"modality"`
	Score     float64  `json:"score"`
	Start     float64  `json:"start"`
	End       float64  `json:"end"`
	Content   string   `json:"content"`
	FramePath string   `json:"frame_path,omitempty"`
}

// Message is one turn in a chat session. Sessions are append-only.
type Message struct {
	ID            string    `json:"id"`
	Role          string    `json:"role"` // "user" or "assistant"
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	ContextChunks []string  `json:"context_chunks,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession is the per-(video, session) conversation log. LastReferenced is
// the start timestamp of the top context chunk from the most recent answer and
// seeds the retrieval tie-break for the next question.
type ChatSession struct {
	VideoID        string    `json:"video_id"`
	SessionID      string    `json:"session_id"`
	LastReferenced float64   `json:"last_referenced"`
	Messages       []Message `json:"messages"`
}
