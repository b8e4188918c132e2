package processors

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoChat/core"
)

// SpeechToText turns an audio file into timestamped transcript segments.
// An empty or silent track yields zero segments, not an error.
type SpeechToText interface {
	Transcribe(ctx context.Context, audioPath string) ([]core.Segment, error)
}

// WhisperASR transcribes through an OpenAI-compatible audio endpoint.
type WhisperASR struct {
	cli     *openai.Client
	model   string
	timeout time.Duration
}

func NewWhisperASR(cli *openai.Client, model string, timeout time.Duration) *WhisperASR {
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperASR{cli: cli, model: model, timeout: timeout}
}

func (w *WhisperASR) Transcribe(ctx context.Context, audioPath string) ([]core.Segment, error) {
	if _, err := os.Stat(audioPath); os.IsNotExist(err) {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	resp, err := w.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, &core.Transient{Err: fmt.Errorf("transcription: %w", err)}
	}

	segs := make([]core.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segs = append(segs, core.Segment{Start: s.Start, End: s.End, Text: text})
	}
	// Some providers return only the flat text. Fall back to one segment
	// spanning the whole track.
	if len(segs) == 0 && strings.TrimSpace(resp.Text) != "" {
		segs = append(segs, core.Segment{Start: 0, End: resp.Duration, Text: strings.TrimSpace(resp.Text)})
	}
	return segs, nil
}

// MockASR produces placeholder segments for offline runs and tests.
type MockASR struct {
	SegmentLen float64
	Duration   float64
}

func (m MockASR) Transcribe(_ context.Context, audioPath string) ([]core.Segment, error) {
	if _, err := os.Stat(audioPath); os.IsNotExist(err) {
		return nil, nil
	}
	segLen := m.SegmentLen
	if segLen <= 0 {
		segLen = 15
	}
	var segs []core.Segment
	for start := 0.0; start < m.Duration; start += segLen {
		end := start + segLen
		if end > m.Duration {
			end = m.Duration
		}
		segs = append(segs, core.Segment{
			Start: start,
			End:   end,
			Text:  fmt.Sprintf("Placeholder transcript from %.0fs to %.0fs", start, end),
		})
	}
	return segs, nil
}
