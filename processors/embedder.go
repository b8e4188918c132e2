package processors

import (
	"context"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoChat/core"
)

// TextEmbedder converts text into a fixed-length vector.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ImageEmbedder converts a frame image into a fixed-length vector.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, imagePath string) ([]float32, error)
	Dimension() int
}

// OpenAITextEmbedder embeds through an OpenAI-compatible embeddings endpoint.
type OpenAITextEmbedder struct {
	cli     *openai.Client
	model   string
	dim     int
	timeout time.Duration
}

func NewOpenAITextEmbedder(cli *openai.Client, model string, dim int, timeout time.Duration) *OpenAITextEmbedder {
	return &OpenAITextEmbedder{cli: cli, model: model, dim: dim, timeout: timeout}
}

func (e *OpenAITextEmbedder) Dimension() int { return e.dim }

func (e *OpenAITextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	resp, err := e.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, &core.Transient{Err: fmt.Errorf("embedding API: %w", err)}
	}
	if len(resp.Data) == 0 {
		return nil, &core.Transient{Err: fmt.Errorf("no embeddings returned")}
	}
	vec := resp.Data[0].Embedding
	if len(vec) != e.dim {
		return nil, fmt.Errorf("%w: provider returned %d, expected %d",
			core.ErrDimensionMismatch, len(vec), e.dim)
	}
	return vec, nil
}

// CaptionImageEmbedder embeds a frame by first describing it with a vision
// chat model, then embedding the description. The vector therefore lives in
// the same space as the text chunks.
type CaptionImageEmbedder struct {
	cli     *openai.Client
	model   string
	text    TextEmbedder
	timeout time.Duration
}

func NewCaptionImageEmbedder(cli *openai.Client, visionModel string, text TextEmbedder, timeout time.Duration) *CaptionImageEmbedder {
	return &CaptionImageEmbedder{cli: cli, model: visionModel, text: text, timeout: timeout}
}

func (e *CaptionImageEmbedder) Dimension() int { return e.text.Dimension() }

func (e *CaptionImageEmbedder) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	caption, err := e.caption(ctx, imagePath)
	if err != nil {
		return nil, err
	}
	return e.text.EmbedText(ctx, caption)
}

func (e *CaptionImageEmbedder) caption(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	resp, err := e.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: "Describe this video frame in one or two sentences: visible objects, actions and scene.",
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
						Detail: openai.ImageURLDetailLow,
					},
				},
			},
		}},
		MaxTokens: 120,
	})
	if err != nil {
		return "", &core.Transient{Err: fmt.Errorf("frame caption: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &core.Transient{Err: fmt.Errorf("empty caption response")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// MockTextEmbedder returns deterministic vectors derived from the input so
// tests can assert idempotence without a provider.
type MockTextEmbedder struct {
	Dim      int
	FailOn   string // inputs containing this substring fail every attempt
	mu       sync.Mutex
	Requests int
}

func (m *MockTextEmbedder) Dimension() int { return m.Dim }

func (m *MockTextEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.Requests++
	m.mu.Unlock()
	if m.FailOn != "" && strings.Contains(text, m.FailOn) {
		return nil, &core.Transient{Err: fmt.Errorf("mock embedding failure")}
	}
	return hashVector(text, m.Dim), nil
}

// MockImageEmbedder mirrors MockTextEmbedder for frame paths.
type MockImageEmbedder struct {
	Dim    int
	FailOn string
}

func (m *MockImageEmbedder) Dimension() int { return m.Dim }

func (m *MockImageEmbedder) EmbedImage(_ context.Context, imagePath string) ([]float32, error) {
	if m.FailOn != "" && strings.Contains(imagePath, m.FailOn) {
		return nil, &core.Transient{Err: fmt.Errorf("mock embedding failure")}
	}
	return hashVector(imagePath, m.Dim), nil
}

func hashVector(s string, dim int) []float32 {
	vec := make([]float32, dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	seed := h.Sum64()
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float32(int64(seed>>33)%1000) / 1000
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec
}

// EmbedChunks embeds every chunk with the matching-modality capability using a
// bounded worker pool. A chunk whose embedding still fails after `retries`
// extra attempts is dropped from the batch; it never fails the whole video.
// Records come back ordered by ordinal.
func EmbedChunks(ctx context.Context, videoID string, chunks []core.Chunk, text TextEmbedder, image ImageEmbedder, workers, retries int) []core.EmbeddingRecord {
	if workers < 1 {
		workers = 1
	}
	type result struct {
		rec core.EmbeddingRecord
		ok  bool
	}
	results := make([]result, len(chunks))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c core.Chunk) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			vec, err := embedWithRetry(ctx, c, text, image, retries)
			if err != nil {
				log.Printf("video %s: chunk %d (%s) unembeddable after %d attempts: %v",
					videoID, c.Ordinal, c.Modality, retries+1, err)
				return
			}
			content := c.Text
			if c.Modality == core.ModalityImage {
				content = c.FramePath
			}
			results[i] = result{rec: core.EmbeddingRecord{
				VideoID:   videoID,
				ChunkID:   core.ChunkID(videoID, c.Ordinal),
				Ordinal:   c.Ordinal,
				Modality:  c.Modality,
				Vector:    vec,
				Start:     c.Start,
				End:       c.End,
				Content:   content,
				FramePath: c.FramePath,
			}, ok: true}
		}(i, c)
	}
	wg.Wait()

	records := make([]core.EmbeddingRecord, 0, len(chunks))
	for _, r := range results {
		if r.ok {
			records = append(records, r.rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Ordinal < records[j].Ordinal })
	return records
}

func embedWithRetry(ctx context.Context, c core.Chunk, text TextEmbedder, image ImageEmbedder, retries int) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		var vec []float32
		var err error
		switch c.Modality {
		case core.ModalityText:
			vec, err = text.EmbedText(ctx, c.Text)
		case core.ModalityImage:
			vec, err = image.EmbedImage(ctx, c.FramePath)
		default:
			return nil, fmt.Errorf("unknown modality %q", c.Modality)
		}
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !core.IsTransient(err) {
			break
		}
	}
	return nil, lastErr
}
