package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videoChat/chat"
	"videoChat/config"
	"videoChat/core"
	"videoChat/processors"
	"videoChat/storage"
)

// Server wires the HTTP surface to the pipeline and chat orchestrator.
type Server struct {
	cfg          *config.Config
	videos       storage.VideoStore
	sessions     storage.SessionStore
	index        storage.VectorIndex
	pipeline     *processors.Pipeline
	orchestrator *chat.Orchestrator
}

func New(cfg *config.Config, videos storage.VideoStore, sessions storage.SessionStore,
	index storage.VectorIndex, pipeline *processors.Pipeline, orchestrator *chat.Orchestrator) *Server {
	return &Server{
		cfg:          cfg,
		videos:       videos,
		sessions:     sessions,
		index:        index,
		pipeline:     pipeline,
		orchestrator: orchestrator,
	}
}

// Routes registers all handlers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/videos/upload", s.uploadHandler)
	mux.HandleFunc("GET /api/videos", s.listVideosHandler)
	mux.HandleFunc("GET /api/videos/{id}", s.videoStatusHandler)
	mux.HandleFunc("GET /api/videos/{id}/transcript", s.transcriptHandler)
	mux.HandleFunc("DELETE /api/videos/{id}", s.deleteVideoHandler)
	mux.HandleFunc("POST /api/chat", s.askHandler)
	mux.HandleFunc("GET /api/chat/{video_id}/history", s.historyHandler)
	mux.HandleFunc("DELETE /api/chat/{video_id}/history", s.clearHistoryHandler)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		core.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return mux
}

type uploadResponse struct {
	VideoID string           `json:"video_id"`
	Status  core.VideoStatus `json:"status"`
	Message string           `json:"message"`
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("parse upload: %v", err)})
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file field 'video'"})
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && !strings.HasPrefix(mt, "video/") {
			core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "file must be a video"})
			return
		}
	}

	videoID := core.NewID()
	uploadDir := filepath.Join(s.cfg.DataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	filename := videoID + filepath.Ext(header.Filename)
	dst := filepath.Join(uploadDir, filename)
	out, err := os.Create(dst)
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	size, err := io.Copy(out, file)
	out.Close()
	if err != nil {
		os.Remove(dst)
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("store upload: %v", err)})
		return
	}

	v := core.Video{
		ID:               videoID,
		Filename:         filename,
		OriginalFilename: header.Filename,
		Path:             dst,
		FileSize:         size,
		Status:           core.StatusUploaded,
		UploadedAt:       time.Now(),
	}
	if err := s.videos.Save(v); err != nil {
		os.Remove(dst)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.pipeline.Enqueue(videoID)
	log.Printf("video %s: uploaded %q (%d bytes), ingestion queued", videoID, header.Filename, size)
	core.WriteJSON(w, http.StatusAccepted, uploadResponse{
		VideoID: videoID,
		Status:  core.StatusUploaded,
		Message: "video uploaded, processing in background",
	})
}

type videoStatusResponse struct {
	VideoID       string           `json:"video_id"`
	Status        core.VideoStatus `json:"status"`
	Duration      float64          `json:"duration"`
	FPS           float64          `json:"fps"`
	Resolution    string           `json:"resolution,omitempty"`
	FrameCount    int              `json:"frame_count"`
	FailureReason string           `json:"failure_reason,omitempty"`
}

func (s *Server) videoStatusHandler(w http.ResponseWriter, r *http.Request) {
	v, err := s.videos.Get(r.PathValue("id"))
	if errors.Is(err, core.ErrVideoNotFound) {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "video not found"})
		return
	}
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, videoStatusResponse{
		VideoID:       v.ID,
		Status:        v.Status,
		Duration:      v.Duration,
		FPS:           v.FPS,
		Resolution:    v.Resolution,
		FrameCount:    v.FrameCount,
		FailureReason: v.FailureReason,
	})
}

func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.videos.Get(id); errors.Is(err, core.ErrVideoNotFound) {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "video not found"})
		return
	} else if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	segments, err := s.videos.Transcript(id)
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if segments == nil {
		segments = []core.Segment{}
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"video_id": id, "segments": segments})
}

func (s *Server) listVideosHandler(w http.ResponseWriter, r *http.Request) {
	videos, err := s.videos.List()
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

// deleteVideoHandler removes the record first so an in-flight ingestion
// discards its output, then clears vectors, sessions and media files.
func (s *Server) deleteVideoHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := s.videos.Get(id)
	if errors.Is(err, core.ErrVideoNotFound) {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "video not found"})
		return
	}
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.videos.Delete(id); err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.index.DeleteVideo(r.Context(), id); err != nil {
		log.Printf("video %s: failed to delete vectors: %v", id, err)
	}
	if err := s.sessions.DeleteVideo(id); err != nil {
		log.Printf("video %s: failed to delete sessions: %v", id, err)
	}
	os.Remove(v.Path)
	os.RemoveAll(filepath.Join(s.cfg.DataDir, "media", id))
	log.Printf("video %s: deleted", id)
	core.WriteJSON(w, http.StatusOK, map[string]string{"message": "video deleted"})
}

type askRequest struct {
	VideoID   string `json:"video_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type askResponse struct {
	MessageID string             `json:"message_id"`
	Response  string             `json:"response"`
	Context   []core.ScoredChunk `json:"context,omitempty"`
}

func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.VideoID == "" || strings.TrimSpace(req.Message) == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "video_id and message are required"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	msg, hits, err := s.orchestrator.Ask(r.Context(), req.VideoID, req.SessionID, req.Message)
	switch {
	case errors.Is(err, core.ErrVideoNotFound):
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "video not found"})
		return
	case errors.Is(err, core.ErrVideoNotReady):
		core.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, core.ErrAllProvidersFailed):
		core.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "language model providers unavailable, please retry"})
		return
	case err != nil:
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, askResponse{MessageID: msg.ID, Response: msg.Content, Context: hits})
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video_id")
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	sess, err := s.orchestrator.History(videoID, sessionID)
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"messages": sess.Messages})
}

func (s *Server) clearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video_id")
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	if err := s.orchestrator.ClearHistory(videoID, sessionID); err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]string{"message": "chat history cleared"})
}
