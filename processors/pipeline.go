package processors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"videoChat/config"
	"videoChat/core"
	"videoChat/storage"
)

// Pipeline orchestrates extraction, transcription, chunking, embedding and the
// final index swap for uploaded videos. Each video runs as a background task;
// a bounded semaphore limits how many ingest concurrently. Status transitions
// are persisted to the video record, so progress and failure are observable.
type Pipeline struct {
	cfg       *config.Config
	videos    storage.VideoStore
	index     storage.VectorIndex
	extractor MediaExtractor
	asr       SpeechToText
	text      TextEmbedder
	image     ImageEmbedder

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPipeline(cfg *config.Config, videos storage.VideoStore, index storage.VectorIndex,
	extractor MediaExtractor, asr SpeechToText, text TextEmbedder, image ImageEmbedder) *Pipeline {
	workers := cfg.MaxConcurrentIngests
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		cfg:       cfg,
		videos:    videos,
		index:     index,
		extractor: extractor,
		asr:       asr,
		text:      text,
		image:     image,
		sem:       make(chan struct{}, workers),
	}
}

// Enqueue starts background ingestion for a video and returns immediately.
// Callers poll the video status for completion.
func (p *Pipeline) Enqueue(videoID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		if err := p.Ingest(context.Background(), videoID); err != nil {
			log.Printf("video %s: ingestion failed: %v", videoID, err)
		}
	}()
}

// Wait blocks until all in-flight ingestions finish.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Ingest runs the full pipeline for one video synchronously. Re-ingesting a
// ready or failed video is idempotent: chunk ordinals are deterministic and
// the index swap replaces the prior record set atomically.
func (p *Pipeline) Ingest(ctx context.Context, videoID string) error {
	v, err := p.videos.Get(videoID)
	if err != nil {
		return err
	}

	if _, err := p.videos.Update(videoID, func(v *core.Video) {
		v.Status = core.StatusProcessing
		v.FailureReason = ""
	}); err != nil {
		return err
	}
	log.Printf("video %s: processing started", videoID)

	jobDir := filepath.Join(p.cfg.DataDir, "media", videoID)

	// Step 1: metadata and frame sampling. A corrupt file fails the video.
	meta, err := p.extractor.Probe(ctx, v.Path)
	if err != nil {
		return p.fail(videoID, "extraction", err)
	}
	frames, err := p.extractor.ExtractFrames(ctx, v.Path, filepath.Join(jobDir, "frames"),
		p.cfg.FrameIntervalSec, p.cfg.MaxFrames)
	if err != nil {
		return p.fail(videoID, "extraction", err)
	}
	log.Printf("video %s: sampled %d frames (%.1fs @ 1/%ds)", videoID, len(frames), meta.Duration, p.cfg.FrameIntervalSec)

	// Step 2: transcription. No audio stream means zero segments, not an
	// error; a failing transcriber fails the video.
	var segments []core.Segment
	if meta.HasAudio {
		audioPath := filepath.Join(jobDir, "audio.wav")
		if err := p.extractor.ExtractAudio(ctx, v.Path, audioPath); err != nil {
			return p.fail(videoID, "extraction", err)
		}
		segments, err = p.asr.Transcribe(ctx, audioPath)
		if err != nil {
			return p.fail(videoID, "transcription", err)
		}
	}
	if err := p.videos.SaveTranscript(videoID, segments); err != nil {
		if errors.Is(err, core.ErrVideoNotFound) {
			log.Printf("video %s: deleted during transcription, discarding output", videoID)
			return nil
		}
		return p.fail(videoID, "transcription", err)
	}
	log.Printf("video %s: transcribed %d segments", videoID, len(segments))

	// Steps 3-4: chunk and embed. Individual chunk failures drop the chunk.
	chunks := BuildChunks(segments, frames, p.cfg.ChunkWindowSec, p.cfg.ChunkOverlapSec)
	records := EmbedChunks(ctx, videoID, chunks, p.text, p.image, p.cfg.EmbedWorkers, p.cfg.EmbedRetries)
	if dropped := len(chunks) - len(records); dropped > 0 {
		log.Printf("video %s: %d of %d chunks unembeddable, excluded", videoID, dropped, len(chunks))
	}

	// Step 5: atomic index swap. If the video was deleted while we worked,
	// discard the output instead of resurrecting it.
	if _, err := p.videos.Get(videoID); errors.Is(err, core.ErrVideoNotFound) {
		log.Printf("video %s: deleted during ingestion, discarding output", videoID)
		return nil
	}
	if err := p.index.Replace(ctx, videoID, records); err != nil {
		return p.fail(videoID, "index", err)
	}
	if _, err := p.videos.Get(videoID); errors.Is(err, core.ErrVideoNotFound) {
		log.Printf("video %s: deleted during index swap, removing records", videoID)
		return p.index.DeleteVideo(ctx, videoID)
	}

	now := time.Now()
	_, err = p.videos.Update(videoID, func(v *core.Video) {
		v.Status = core.StatusReady
		v.Duration = meta.Duration
		v.FPS = meta.FPS
		v.Resolution = meta.Resolution()
		v.FrameCount = len(frames)
		v.ProcessedAt = &now
	})
	if err != nil {
		return err
	}
	log.Printf("video %s: ready (%d chunks indexed)", videoID, len(records))
	return nil
}

// fail marks the video failed with a user-reportable reason. Failed is
// terminal; no embedding records exist for the video afterwards.
func (p *Pipeline) fail(videoID, stage string, cause error) error {
	err := fmt.Errorf("%s failed: %w", stage, cause)
	if _, uerr := p.videos.Update(videoID, func(v *core.Video) {
		v.Status = core.StatusFailed
		v.FailureReason = err.Error()
	}); uerr != nil && !errors.Is(uerr, core.ErrVideoNotFound) {
		log.Printf("video %s: could not record failure: %v", videoID, uerr)
	}
	return err
}
