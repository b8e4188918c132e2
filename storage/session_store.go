package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"videoChat/core"
)

// SessionStore persists one ordered message log per (video, session). The log
// is append-only; messages are never reordered or edited.
type SessionStore interface {
	Get(videoID, sessionID string) (core.ChatSession, error)
	// Append adds messages and the new last-referenced timestamp in one
	// durable write.
	Append(videoID, sessionID string, lastReferenced float64, msgs ...core.Message) (core.ChatSession, error)
	Clear(videoID, sessionID string) error
	DeleteVideo(videoID string) error
}

// FileSessionStore lays sessions out as <dir>/sessions/<videoID>/<sessionID>.json.
// Collections per video are independently deletable, so removing a video
// leaves no orphaned history.
type FileSessionStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileSessionStore(dataDir string) (*FileSessionStore, error) {
	dir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session store dir: %w", err)
	}
	return &FileSessionStore{dir: dir}, nil
}

func (s *FileSessionStore) path(videoID, sessionID string) string {
	return filepath.Join(s.dir, videoID, sessionID+".json")
}

func (s *FileSessionStore) Get(videoID, sessionID string) (core.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(videoID, sessionID)
}

func (s *FileSessionStore) read(videoID, sessionID string) (core.ChatSession, error) {
	data, err := os.ReadFile(s.path(videoID, sessionID))
	if os.IsNotExist(err) {
		return core.ChatSession{VideoID: videoID, SessionID: sessionID}, nil
	}
	if err != nil {
		return core.ChatSession{}, err
	}
	var sess core.ChatSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return core.ChatSession{}, fmt.Errorf("decode session %s/%s: %w", videoID, sessionID, err)
	}
	return sess, nil
}

func (s *FileSessionStore) Append(videoID, sessionID string, lastReferenced float64, msgs ...core.Message) (core.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.read(videoID, sessionID)
	if err != nil {
		return core.ChatSession{}, err
	}
	sess.Messages = append(sess.Messages, msgs...)
	sess.LastReferenced = lastReferenced
	if err := os.MkdirAll(filepath.Join(s.dir, videoID), 0755); err != nil {
		return core.ChatSession{}, err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return core.ChatSession{}, err
	}
	tmp := s.path(videoID, sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return core.ChatSession{}, err
	}
	if err := os.Rename(tmp, s.path(videoID, sessionID)); err != nil {
		return core.ChatSession{}, err
	}
	return sess, nil
}

func (s *FileSessionStore) Clear(videoID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(videoID, sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileSessionStore) DeleteVideo(videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.RemoveAll(filepath.Join(s.dir, videoID))
}
