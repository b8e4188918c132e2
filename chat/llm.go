package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoChat/core"
)

// Prompt is the fully assembled input for one answer: system preamble,
// trimmed history, retrieved context and the user's question. Image paths are
// only attached when the target model supports vision.
type Prompt struct {
	System        string
	History       []core.Message
	ContextBlocks []string
	ImagePaths    []string
	UserText      string
}

// LanguageModel is the chat capability. A primary and a fallback
// implementation share this contract; the orchestrator never branches on the
// concrete provider.
type LanguageModel interface {
	Name() string
	SupportsVision() bool
	Complete(ctx context.Context, p Prompt) (string, error)
}

// OpenAIChat talks to any OpenAI-compatible chat completion endpoint.
type OpenAIChat struct {
	cli     *openai.Client
	model   string
	vision  bool
	timeout time.Duration
}

func NewOpenAIChat(cli *openai.Client, model string, vision bool, timeout time.Duration) *OpenAIChat {
	return &OpenAIChat{cli: cli, model: model, vision: vision, timeout: timeout}
}

func (c *OpenAIChat) Name() string         { return c.model }
func (c *OpenAIChat) SupportsVision() bool { return c.vision }

func (c *OpenAIChat) Complete(ctx context.Context, p Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(p.History)+2)
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.System,
		})
	}
	for _, m := range p.History {
		role := openai.ChatMessageRoleUser
		if m.Role == core.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	var sb strings.Builder
	if len(p.ContextBlocks) > 0 {
		sb.WriteString("Retrieved video context:\n")
		for _, b := range p.ContextBlocks {
			sb.WriteString(b)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(p.UserText)

	final := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if c.vision && len(p.ImagePaths) > 0 {
		parts := []openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: sb.String(),
		}}
		for _, path := range p.ImagePaths {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
					Detail: openai.ImageURLDetailHigh,
				},
			})
		}
		final.MultiContent = parts
	} else {
		final.Content = sb.String()
	}
	messages = append(messages, final)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err != nil {
		return "", &core.Transient{Err: fmt.Errorf("chat completion (%s): %w", c.model, err)}
	}
	if len(resp.Choices) == 0 {
		return "", &core.Transient{Err: fmt.Errorf("chat completion (%s): empty response", c.model)}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// MockLanguageModel scripts provider behavior for tests.
type MockLanguageModel struct {
	Reply  string
	Err    error
	Vision bool

	mu      sync.Mutex
	Calls   int
	Prompts []Prompt
}

func (m *MockLanguageModel) Name() string         { return "mock" }
func (m *MockLanguageModel) SupportsVision() bool { return m.Vision }

func (m *MockLanguageModel) Complete(_ context.Context, p Prompt) (string, error) {
	m.mu.Lock()
	m.Calls++
	m.Prompts = append(m.Prompts, p)
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return m.Reply, nil
}
