package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoChat/core"
)

func TestTrimHistoryDropsOldestFirst(t *testing.T) {
	history := []core.Message{
		{Role: core.RoleUser, Content: strings.Repeat("old ", 100)},
		{Role: core.RoleAssistant, Content: "short answer"},
		{Role: core.RoleUser, Content: "recent question"},
	}
	budget := countTokens("short answer") + countTokens("recent question")

	trimmed := trimHistory(history, budget)
	require.Len(t, trimmed, 2)
	assert.Equal(t, "short answer", trimmed[0].Content)
	assert.Equal(t, "recent question", trimmed[1].Content)
}

func TestTrimHistoryZeroBudget(t *testing.T) {
	history := []core.Message{{Content: "anything"}}
	assert.Empty(t, trimHistory(history, 0))
	assert.Empty(t, trimHistory(nil, 100))
}

func TestTrimHistoryFitsEverything(t *testing.T) {
	history := []core.Message{
		{Content: "one"},
		{Content: "two"},
	}
	trimmed := trimHistory(history, 10000)
	assert.Equal(t, history, trimmed)
}

func TestCountTokensPositive(t *testing.T) {
	assert.Greater(t, countTokens("a sentence about a video"), 0)
	small := countTokens("hi")
	large := countTokens(strings.Repeat("a much longer sentence ", 50))
	assert.Greater(t, large, small)
}

func TestBuildPromptRendersContext(t *testing.T) {
	hits := []core.ScoredChunk{
		{Modality: core.ModalityText, Start: 0, End: 10, Content: "someone opens a door"},
		{Modality: core.ModalityImage, Start: 65, FramePath: "frames/00013.jpg"},
	}
	p := buildPrompt("what happens?", hits, nil, 1000)

	assert.Equal(t, systemPreamble, p.System)
	assert.Equal(t, "what happens?", p.UserText)
	require.Len(t, p.ContextBlocks, 2)
	assert.Equal(t, "[00:00-00:10] someone opens a door", p.ContextBlocks[0])
	assert.Equal(t, "[01:05] (frame)", p.ContextBlocks[1])
	assert.Equal(t, []string{"frames/00013.jpg"}, p.ImagePaths)
}

func TestBuildPromptNoHits(t *testing.T) {
	p := buildPrompt("anything in here?", nil, nil, 1000)
	assert.Empty(t, p.ContextBlocks)
	assert.Empty(t, p.ImagePaths)
}
