package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"videoChat/core"
)

// VideoStore persists one durable record per video, plus the transcript
// produced during ingestion.
type VideoStore interface {
	Save(v core.Video) error
	Get(id string) (core.Video, error)
	List() ([]core.Video, error)
	Delete(id string) error
	// Update applies fn to the stored record under the store lock and
	// persists the result. The pipeline uses it for status transitions.
	Update(id string, fn func(*core.Video)) (core.Video, error)
	// SaveTranscript stores the full segment list for a video. It fails with
	// core.ErrVideoNotFound when the record no longer exists, so a transcript
	// is never written for a deleted video.
	SaveTranscript(id string, segments []core.Segment) error
	// Transcript returns the stored segments; nil when none were saved yet.
	Transcript(id string) ([]core.Segment, error)
}

// FileVideoStore keeps records as JSON files under <dir>/videos, one per
// video, the same layout the rest of the data directory uses for frames and
// uploads.
type FileVideoStore struct {
	dir string
	mu  sync.RWMutex
}

func NewFileVideoStore(dataDir string) (*FileVideoStore, error) {
	dir := filepath.Join(dataDir, "videos")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create video store dir: %w", err)
	}
	return &FileVideoStore{dir: dir}, nil
}

func (s *FileVideoStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileVideoStore) transcriptPath(id string) string {
	return filepath.Join(s.dir, id+".transcript.json")
}

func (s *FileVideoStore) Save(v core.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(v)
}

func (s *FileVideoStore) write(v core.Video) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(v.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(v.ID))
}

func (s *FileVideoStore) Get(id string) (core.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

func (s *FileVideoStore) read(id string) (core.Video, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return core.Video{}, core.ErrVideoNotFound
	}
	if err != nil {
		return core.Video{}, err
	}
	var v core.Video
	if err := json.Unmarshal(data, &v); err != nil {
		return core.Video{}, fmt.Errorf("decode video record %s: %w", id, err)
	}
	return v, nil
}

func (s *FileVideoStore) List() ([]core.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	videos := make([]core.Video, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		v, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		videos = append(videos, v)
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].UploadedAt.Before(videos[j].UploadedAt) })
	return videos, nil
}

func (s *FileVideoStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.transcriptPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileVideoStore) Update(id string, fn func(*core.Video)) (core.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.read(id)
	if err != nil {
		return core.Video{}, err
	}
	fn(&v)
	if err := s.write(v); err != nil {
		return core.Video{}, err
	}
	return v, nil
}

func (s *FileVideoStore) SaveTranscript(id string, segments []core.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.read(id); err != nil {
		return err
	}
	if segments == nil {
		segments = []core.Segment{}
	}
	data, err := json.MarshalIndent(segments, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.transcriptPath(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.transcriptPath(id))
}

func (s *FileVideoStore) Transcript(id string) ([]core.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.transcriptPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var segments []core.Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", id, err)
	}
	return segments, nil
}
