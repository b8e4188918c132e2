package chat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"videoChat/core"
	"videoChat/storage"
)

// Orchestrator owns the per-video conversation logs. For each question it
// retrieves context, calls the primary language model with one fallback
// attempt, and appends the user/assistant pair to the session only when an
// answer exists, so a failed request leaves the history untouched for retry.
type Orchestrator struct {
	sessions  storage.SessionStore
	retriever *Retriever
	primary   LanguageModel
	fallback  LanguageModel // may be nil

	topK          int
	historyBudget int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(sessions storage.SessionStore, retriever *Retriever, primary, fallback LanguageModel, topK, historyBudget int) *Orchestrator {
	return &Orchestrator{
		sessions:      sessions,
		retriever:     retriever,
		primary:       primary,
		fallback:      fallback,
		topK:          topK,
		historyBudget: historyBudget,
		locks:         make(map[string]*sync.Mutex),
	}
}

// sessionLock serializes appends per (video, session); retrieval itself needs
// no lock since a swapped-in index is immutable.
func (o *Orchestrator) sessionLock(videoID, sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := videoID + "/" + sessionID
	l, ok := o.locks[key]
	if !ok {
		l = &sync.Mutex{}
		o.locks[key] = l
	}
	return l
}

// Ask answers one user message against a ready video's index and returns the
// persisted assistant message together with the context chunks it used.
func (o *Orchestrator) Ask(ctx context.Context, videoID, sessionID, userText string) (core.Message, []core.ScoredChunk, error) {
	lock := o.sessionLock(videoID, sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.sessions.Get(videoID, sessionID)
	if err != nil {
		return core.Message{}, nil, err
	}

	hits, err := o.retriever.Retrieve(ctx, videoID, userText, o.topK, sess.LastReferenced)
	if err != nil {
		return core.Message{}, nil, err
	}

	prompt := buildPrompt(userText, hits, sess.Messages, o.historyBudget)
	answer, err := o.complete(ctx, prompt)
	if err != nil {
		return core.Message{}, nil, err
	}

	chunkIDs := make([]string, 0, len(hits))
	for _, h := range hits {
		chunkIDs = append(chunkIDs, h.ChunkID)
	}
	lastReferenced := sess.LastReferenced
	if len(hits) > 0 {
		lastReferenced = hits[0].Start
	}

	now := time.Now()
	userMsg := core.Message{
		ID:        core.NewID(),
		Role:      core.RoleUser,
		Content:   userText,
		Timestamp: now,
	}
	assistantMsg := core.Message{
		ID:            core.NewID(),
		Role:          core.RoleAssistant,
		Content:       answer,
		Timestamp:     time.Now(),
		ContextChunks: chunkIDs,
	}
	if _, err := o.sessions.Append(videoID, sessionID, lastReferenced, userMsg, assistantMsg); err != nil {
		return core.Message{}, nil, fmt.Errorf("persist session: %w", err)
	}
	return assistantMsg, hits, nil
}

// complete tries the primary model and, on any failure, the fallback exactly
// once. Image context is silently dropped for models without vision support.
func (o *Orchestrator) complete(ctx context.Context, p Prompt) (string, error) {
	answer, err := o.primary.Complete(ctx, stripImagesUnlessVision(p, o.primary))
	if err == nil {
		return answer, nil
	}
	log.Printf("primary model %s failed: %v", o.primary.Name(), err)
	if o.fallback == nil {
		return "", fmt.Errorf("%w: %v", core.ErrAllProvidersFailed, err)
	}
	answer, ferr := o.fallback.Complete(ctx, stripImagesUnlessVision(p, o.fallback))
	if ferr == nil {
		log.Printf("fallback model %s answered", o.fallback.Name())
		return answer, nil
	}
	log.Printf("fallback model %s failed: %v", o.fallback.Name(), ferr)
	return "", fmt.Errorf("%w: primary: %v; fallback: %v", core.ErrAllProvidersFailed, err, ferr)
}

func stripImagesUnlessVision(p Prompt, m LanguageModel) Prompt {
	if m.SupportsVision() {
		return p
	}
	p.ImagePaths = nil
	return p
}

// History returns the persisted conversation for one session.
func (o *Orchestrator) History(videoID, sessionID string) (core.ChatSession, error) {
	return o.sessions.Get(videoID, sessionID)
}

// ClearHistory erases one session's log.
func (o *Orchestrator) ClearHistory(videoID, sessionID string) error {
	return o.sessions.Clear(videoID, sessionID)
}
