package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/overseer-dev/overseer/internal/orchestrator"
	"github.com/overseer-dev/overseer/internal/task"
)

// Server is the Overseer gateway HTTP server. It exposes the task registry
// for CLI commands and external tooling.
type Server struct {
	httpServer *http.Server
	orc        *orchestrator.Orchestrator
	host       string
	port       int
}

// NewServer creates a new gateway server.
func NewServer(orc *orchestrator.Orchestrator, host string, port int) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		orc:  orc,
		host: host,
		port: port,
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/tasks", s.handleList)
	r.Post("/api/tasks", s.handleLaunch)
	r.Delete("/api/tasks", s.handleClear)
	r.Get("/api/tasks/{id}", s.handleGet)
	r.Delete("/api/tasks/{id}", s.handleDeletePersisted)
	r.Post("/api/tasks/{id}/cancel", s.handleCancel)
	r.Post("/api/tasks/{id}/resume", s.handleResume)
	r.Get("/api/batches/{id}", s.handleBatch)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("Overseer gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := task.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid status %q", status))
		return
	}
	writeJSON(w, http.StatusOK, s.orc.List(status))
}

type launchRequest struct {
	Description     string `json:"description"`
	Prompt          string `json:"prompt"`
	Agent           string `json:"agent"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	ParentAgent     string `json:"parent_agent,omitempty"`
	Fork            bool   `json:"fork,omitempty"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	t, err := s.orc.Launch(r.Context(), orchestrator.LaunchInput{
		Description:     req.Description,
		Prompt:          req.Prompt,
		Agent:           req.Agent,
		ParentSessionID: req.ParentSessionID,
		ParentMessageID: req.ParentMessageID,
		ParentAgent:     req.ParentAgent,
		Fork:            req.Fork,
	})
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := s.orc.Resolve(id)
	if !ok {
		// Shadow-only tasks are readable without pulling them back into the
		// registry.
		t, ok = s.orc.LookupPersisted(id)
	}
	if !ok {
		writeError(w, http.StatusNotFound, &task.NotFoundError{ID: id})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, err := s.orc.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type resumeRequest struct {
	Prompt          string `json:"prompt"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	ParentAgent     string `json:"parent_agent,omitempty"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	t, err := s.orc.Resume(r.Context(), chi.URLParam(r, "id"), req.Prompt, orchestrator.ToolContext{
		SessionID: req.ParentSessionID,
		MessageID: req.ParentMessageID,
		Agent:     req.ParentAgent,
	})
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	cleared := len(s.orc.List(task.StatusRunning))
	s.orc.ClearAll()
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cleared})
}

func (s *Server) handleDeletePersisted(w http.ResponseWriter, r *http.Request) {
	if err := s.orc.DeletePersisted(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orc.BatchProgressFor(chi.URLParam(r, "id")))
}

// writeTaskError maps registry errors onto HTTP status codes.
func writeTaskError(w http.ResponseWriter, err error) {
	var nf *task.NotFoundError
	var it *task.InvalidTransitionError
	switch {
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &it):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, task.ErrAgentRequired):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, task.ErrSessionExpired):
		writeError(w, http.StatusGone, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
