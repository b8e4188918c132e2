package chat

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"videoChat/core"
)

const systemPreamble = "You are an assistant that answers questions about a specific video. " +
	"You are given transcript excerpts with timestamps and, when available, sampled frames. " +
	"Answer from that material only, cite timestamps like [MM:SS], and say so when the " +
	"retrieved context does not cover the question."

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// countTokens uses the cl100k_base encoding when it is available and falls
// back to a bytes/4 estimate offline.
func countTokens(s string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return len(s)/4 + 1
}

// trimHistory keeps the newest turns that fit the token budget, dropping the
// oldest first. The slice order is preserved.
func trimHistory(history []core.Message, budget int) []core.Message {
	if budget <= 0 || len(history) == 0 {
		return nil
	}
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		t := countTokens(history[i].Content)
		if total+t > budget {
			break
		}
		total += t
		start = i
	}
	return history[start:]
}

// buildPrompt assembles the bounded prompt for one question. Text chunks go in
// verbatim with their timestamps; image chunks ride along as frame references
// for vision-capable models.
func buildPrompt(userText string, hits []core.ScoredChunk, history []core.Message, historyBudget int) Prompt {
	p := Prompt{
		System:   systemPreamble,
		History:  trimHistory(history, historyBudget),
		UserText: userText,
	}
	for _, h := range hits {
		switch h.Modality {
		case core.ModalityText:
			p.ContextBlocks = append(p.ContextBlocks, fmt.Sprintf("[%s-%s] %s",
				core.FormatTime(h.Start), core.FormatTime(h.End), h.Content))
		case core.ModalityImage:
			p.ContextBlocks = append(p.ContextBlocks, fmt.Sprintf("[%s] (frame)",
				core.FormatTime(h.Start)))
			p.ImagePaths = append(p.ImagePaths, h.FramePath)
		}
	}
	return p
}
