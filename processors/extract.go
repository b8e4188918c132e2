package processors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"videoChat/core"
)

// VideoMeta is what ffprobe reports about an uploaded file.
type VideoMeta struct {
	Duration float64
	FPS      float64
	Width    int
	Height   int
	HasAudio bool
}

func (m VideoMeta) Resolution() string {
	if m.Width == 0 && m.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// MediaExtractor samples frames and demuxes audio from a video file. It knows
// nothing about model providers.
type MediaExtractor interface {
	Probe(ctx context.Context, path string) (VideoMeta, error)
	// ExtractAudio writes a 16kHz mono WAV. Callers check VideoMeta.HasAudio
	// from Probe first; a file without an audio stream is skipped, not demuxed.
	ExtractAudio(ctx context.Context, path, audioOut string) error
	ExtractFrames(ctx context.Context, path, framesDir string, intervalSec, maxFrames int) ([]core.Frame, error)
}

// FFmpegExtractor shells out to ffmpeg/ffprobe.
type FFmpegExtractor struct{}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (FFmpegExtractor) Probe(ctx context.Context, path string) (VideoMeta, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error",
		"-show_entries", "stream=codec_type,width,height,r_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return VideoMeta{}, fmt.Errorf("%w: ffprobe: %v", core.ErrNoMediaStreams, err)
	}
	var po probeOutput
	if err := json.Unmarshal(out.Bytes(), &po); err != nil {
		return VideoMeta{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var meta VideoMeta
	hasVideo := false
	for _, s := range po.Streams {
		switch s.CodecType {
		case "video":
			hasVideo = true
			meta.Width = s.Width
			meta.Height = s.Height
			meta.FPS = parseFrameRate(s.RFrameRate)
		case "audio":
			meta.HasAudio = true
		}
	}
	if !hasVideo && !meta.HasAudio {
		return VideoMeta{}, fmt.Errorf("%w: %s", core.ErrNoMediaStreams, filepath.Base(path))
	}
	meta.Duration, _ = strconv.ParseFloat(strings.TrimSpace(po.Format.Duration), 64)
	if meta.Duration <= 0 {
		return VideoMeta{}, fmt.Errorf("%w: zero duration", core.ErrNoMediaStreams)
	}
	return meta, nil
}

// parseFrameRate turns ffprobe's "30000/1001" notation into a float.
func parseFrameRate(r string) float64 {
	parts := strings.SplitN(r, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	f, _ := strconv.ParseFloat(r, 64)
	return f
}

func (FFmpegExtractor) ExtractAudio(ctx context.Context, path, audioOut string) error {
	args := []string{"-y", "-i", path, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", audioOut}
	if err := runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return nil
}

func (FFmpegExtractor) ExtractFrames(ctx context.Context, path, framesDir string, intervalSec, maxFrames int) ([]core.Frame, error) {
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		return nil, err
	}
	pattern := filepath.Join(framesDir, "%05d.jpg")
	args := []string{"-y", "-i", path, "-vf", fmt.Sprintf("fps=1/%d", intervalSec), pattern}
	if err := runFFmpeg(ctx, args); err != nil {
		return nil, fmt.Errorf("extract frames: %w", err)
	}
	frames, err := enumerateFrames(framesDir, intervalSec)
	if err != nil {
		return nil, err
	}
	return DropFramesEvenly(frames, maxFrames), nil
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// enumerateFrames lists extracted frames and assigns timestamps from the
// sequential ffmpeg output names (00001.jpg, 00002.jpg, ...).
func enumerateFrames(framesDir string, intervalSec int) ([]core.Frame, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, err
	}
	frames := make([]core.Frame, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base := strings.TrimSuffix(name, filepath.Ext(name))
		i, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		frames = append(frames, core.Frame{
			Index:        i - 1,
			TimestampSec: float64((i - 1) * intervalSec),
			Path:         filepath.Join(framesDir, name),
		})
	}
	return frames, nil
}

// DropFramesEvenly reduces frames to at most max by sampling evenly across the
// timeline, so temporal coverage is preserved instead of cutting off the tail.
// The surviving frames are reindexed to keep ordinals contiguous.
func DropFramesEvenly(frames []core.Frame, max int) []core.Frame {
	if max <= 0 || len(frames) <= max {
		return frames
	}
	if max == 1 {
		f := frames[0]
		f.Index = 0
		return []core.Frame{f}
	}
	out := make([]core.Frame, 0, max)
	step := float64(len(frames)-1) / float64(max-1)
	prev := -1
	for i := 0; i < max; i++ {
		idx := int(float64(i)*step + 0.5)
		if idx >= len(frames) {
			idx = len(frames) - 1
		}
		if idx == prev {
			continue
		}
		f := frames[idx]
		f.Index = len(out)
		out = append(out, f)
		prev = idx
	}
	return out
}
