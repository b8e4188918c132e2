package processors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoChat/config"
	"videoChat/core"
	"videoChat/storage"
)

// fakeExtractor replays canned metadata, frames and audio without ffmpeg.
type fakeExtractor struct {
	meta      VideoMeta
	frames    []core.Frame
	probeErr  error
	framesErr error
	audioErr  error

	probeCalls int

	// onFrames runs during ExtractFrames, after probing; tests use it to
	// race a delete against the in-flight ingestion.
	onFrames func()
}

func (f *fakeExtractor) Probe(context.Context, string) (VideoMeta, error) {
	f.probeCalls++
	if f.probeErr != nil {
		return VideoMeta{}, f.probeErr
	}
	return f.meta, nil
}

func (f *fakeExtractor) ExtractAudio(context.Context, string, string) error {
	return f.audioErr
}

func (f *fakeExtractor) ExtractFrames(context.Context, string, string, int, int) ([]core.Frame, error) {
	if f.onFrames != nil {
		f.onFrames()
	}
	if f.framesErr != nil {
		return nil, f.framesErr
	}
	return f.frames, nil
}

// fakeASR returns a fixed transcript regardless of the audio file.
type fakeASR struct {
	segments []core.Segment
	err      error
}

func (f fakeASR) Transcribe(context.Context, string) ([]core.Segment, error) {
	return f.segments, f.err
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataDir:              t.TempDir(),
		FrameIntervalSec:     5,
		MaxFrames:            300,
		ChunkWindowSec:       10,
		ChunkOverlapSec:      2,
		EmbedWorkers:         2,
		EmbedRetries:         1,
		MaxConcurrentIngests: 2,
	}
}

func newTestPipeline(t *testing.T, extractor MediaExtractor, asr SpeechToText) (*Pipeline, storage.VideoStore, *storage.MemoryVectorIndex) {
	cfg := testConfig(t)
	videos, err := storage.NewFileVideoStore(cfg.DataDir)
	require.NoError(t, err)
	index := storage.NewMemoryVectorIndex(storage.Dimensions{
		core.ModalityText:  8,
		core.ModalityImage: 8,
	})
	p := NewPipeline(cfg, videos, index,
		extractor, asr, &MockTextEmbedder{Dim: 8}, &MockImageEmbedder{Dim: 8})
	return p, videos, index
}

func saveUploaded(t *testing.T, videos storage.VideoStore, id string) {
	require.NoError(t, videos.Save(core.Video{
		ID:         id,
		Filename:   id + ".mp4",
		Path:       "/nonexistent/" + id + ".mp4",
		Status:     core.StatusUploaded,
		UploadedAt: time.Now(),
	}))
}

func TestIngestSuccess(t *testing.T) {
	extractor := &fakeExtractor{
		meta: VideoMeta{Duration: 26, FPS: 30, Width: 1280, Height: 720, HasAudio: true},
		frames: []core.Frame{
			{Index: 0, TimestampSec: 0, Path: "f0.jpg"},
			{Index: 1, TimestampSec: 5, Path: "f1.jpg"},
		},
	}
	asr := fakeASR{segments: []core.Segment{
		{Start: 0, End: 12, Text: "first segment"},
		{Start: 14, End: 26, Text: "second segment"},
	}}
	p, videos, index := newTestPipeline(t, extractor, asr)
	saveUploaded(t, videos, "vid1")

	require.NoError(t, p.Ingest(context.Background(), "vid1"))

	v, err := videos.Get("vid1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, v.Status)
	assert.Equal(t, 26.0, v.Duration)
	assert.Equal(t, 30.0, v.FPS)
	assert.Equal(t, "1280x720", v.Resolution)
	assert.Equal(t, 2, v.FrameCount)
	assert.Empty(t, v.FailureReason)
	require.NotNil(t, v.ProcessedAt)

	// 3 text windows + 2 frames
	n, err := index.Count(context.Background(), "vid1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// one ffprobe per ingest
	assert.Equal(t, 1, extractor.probeCalls)

	segments, err := videos.Transcript("vid1")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "first segment", segments[0].Text)
	assert.Equal(t, 26.0, segments[1].End)
}

func TestIngestFailureKeepsStructuralCause(t *testing.T) {
	extractor := &fakeExtractor{probeErr: core.ErrNoMediaStreams}
	p, videos, _ := newTestPipeline(t, extractor, fakeASR{})
	saveUploaded(t, videos, "vid1")

	err := p.Ingest(context.Background(), "vid1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNoMediaStreams)
}

func TestIngestProbeFailureMarksVideoFailed(t *testing.T) {
	extractor := &fakeExtractor{probeErr: core.ErrNoMediaStreams}
	p, videos, index := newTestPipeline(t, extractor, fakeASR{})
	saveUploaded(t, videos, "vid1")

	err := p.Ingest(context.Background(), "vid1")
	require.Error(t, err)

	v, gerr := videos.Get("vid1")
	require.NoError(t, gerr)
	assert.Equal(t, core.StatusFailed, v.Status)
	assert.Contains(t, v.FailureReason, "extraction failed")

	n, cerr := index.Count(context.Background(), "vid1")
	require.NoError(t, cerr)
	assert.Zero(t, n)
}

func TestIngestTranscriptionFailureMarksVideoFailed(t *testing.T) {
	extractor := &fakeExtractor{
		meta:   VideoMeta{Duration: 10, HasAudio: true},
		frames: []core.Frame{{Index: 0, TimestampSec: 0, Path: "f0.jpg"}},
	}
	p, videos, _ := newTestPipeline(t, extractor, fakeASR{err: errors.New("asr down")})
	saveUploaded(t, videos, "vid1")

	require.Error(t, p.Ingest(context.Background(), "vid1"))
	v, err := videos.Get("vid1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, v.Status)
	assert.Contains(t, v.FailureReason, "transcription failed")
}

func TestIngestSilentVideoIndexesFramesOnly(t *testing.T) {
	extractor := &fakeExtractor{
		meta: VideoMeta{Duration: 10, FPS: 24, Width: 640, Height: 480, HasAudio: false},
		frames: []core.Frame{
			{Index: 0, TimestampSec: 0, Path: "f0.jpg"},
			{Index: 1, TimestampSec: 5, Path: "f1.jpg"},
		},
	}
	p, videos, index := newTestPipeline(t, extractor, fakeASR{err: errors.New("must not be called")})
	saveUploaded(t, videos, "vid1")

	require.NoError(t, p.Ingest(context.Background(), "vid1"))
	v, err := videos.Get("vid1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, v.Status)

	n, err := index.Count(context.Background(), "vid1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	segments, err := videos.Transcript("vid1")
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestIngestUnembeddableChunkIsExcludedNotFatal(t *testing.T) {
	cfg := testConfig(t)
	videos, err := storage.NewFileVideoStore(cfg.DataDir)
	require.NoError(t, err)
	index := storage.NewMemoryVectorIndex(storage.Dimensions{
		core.ModalityText:  8,
		core.ModalityImage: 8,
	})
	extractor := &fakeExtractor{
		meta: VideoMeta{Duration: 10, HasAudio: false},
		frames: []core.Frame{
			{Index: 0, TimestampSec: 0, Path: "f0.jpg"},
			{Index: 1, TimestampSec: 5, Path: "broken.jpg"},
		},
	}
	p := NewPipeline(cfg, videos, index, extractor, fakeASR{},
		&MockTextEmbedder{Dim: 8}, &MockImageEmbedder{Dim: 8, FailOn: "broken"})
	saveUploaded(t, videos, "vid1")

	require.NoError(t, p.Ingest(context.Background(), "vid1"))
	v, err := videos.Get("vid1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, v.Status)

	n, err := index.Count(context.Background(), "vid1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReingestIsIdempotent(t *testing.T) {
	extractor := &fakeExtractor{
		meta:   VideoMeta{Duration: 26, HasAudio: true},
		frames: []core.Frame{{Index: 0, TimestampSec: 0, Path: "f0.jpg"}},
	}
	asr := fakeASR{segments: []core.Segment{
		{Start: 0, End: 12, Text: "first segment"},
		{Start: 14, End: 26, Text: "second segment"},
	}}
	p, videos, index := newTestPipeline(t, extractor, asr)
	saveUploaded(t, videos, "vid1")

	require.NoError(t, p.Ingest(context.Background(), "vid1"))
	query := hashVector("first segment", 8)
	first, err := index.Query(context.Background(), "vid1", query, core.ModalityText, 10)
	require.NoError(t, err)

	require.NoError(t, p.Ingest(context.Background(), "vid1"))
	second, err := index.Query(context.Background(), "vid1", query, core.ModalityText, 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	n, err := index.Count(context.Background(), "vid1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestIngestDiscardsOutputWhenVideoDeletedMidway(t *testing.T) {
	var videos storage.VideoStore
	extractor := &fakeExtractor{
		meta:   VideoMeta{Duration: 10, HasAudio: false},
		frames: []core.Frame{{Index: 0, TimestampSec: 0, Path: "f0.jpg"}},
	}
	extractor.onFrames = func() {
		require.NoError(t, videos.Delete("vid1"))
	}
	p, vs, index := newTestPipeline(t, extractor, fakeASR{})
	videos = vs
	saveUploaded(t, videos, "vid1")

	require.NoError(t, p.Ingest(context.Background(), "vid1"))

	_, err := videos.Get("vid1")
	assert.ErrorIs(t, err, core.ErrVideoNotFound)
	n, err := index.Count(context.Background(), "vid1")
	require.NoError(t, err)
	assert.Zero(t, n)

	segments, err := videos.Transcript("vid1")
	require.NoError(t, err)
	assert.Nil(t, segments)
}

func TestIngestUnknownVideo(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeExtractor{}, fakeASR{})
	err := p.Ingest(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrVideoNotFound)
}

func TestEnqueueRunsInBackground(t *testing.T) {
	extractor := &fakeExtractor{
		meta:   VideoMeta{Duration: 10, HasAudio: false},
		frames: []core.Frame{{Index: 0, TimestampSec: 0, Path: "f0.jpg"}},
	}
	p, videos, _ := newTestPipeline(t, extractor, fakeASR{})
	saveUploaded(t, videos, "vid1")

	p.Enqueue("vid1")
	p.Wait()

	v, err := videos.Get("vid1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, v.Status)
}
