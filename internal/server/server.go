// Package server exposes the search engine over HTTP: a small JSON API for
// the session lifecycle plus static serving of rendered audio artifacts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nvandessel/voicesearch/internal/engine"
	"github.com/nvandessel/voicesearch/internal/models"
	"github.com/nvandessel/voicesearch/internal/store"
)

// SessionService is the engine surface the HTTP layer needs.
type SessionService interface {
	Start(ctx context.Context, req engine.StartRequest) (*models.Session, error)
	Advance(ctx context.Context, sessionID string, fb models.Feedback) (*engine.AdvanceResult, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Export(ctx context.Context, sessionID string) ([]byte, error)
}

// Server handles the HTTP API.
type Server struct {
	svc     SessionService
	dataDir string
	logger  *slog.Logger
}

// New creates a Server. dataDir is the artifact root mounted at /data/.
func New(svc SessionService, dataDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, dataDir: dataDir, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("GET /api/session/{id}", s.handleGet)
	mux.HandleFunc("POST /api/session/{id}/iterate", s.handleIterate)
	mux.HandleFunc("GET /api/session/{id}/export", s.handleExport)
	mux.Handle("GET /data/", http.StripPrefix("/data/", http.FileServer(http.Dir(s.dataDir))))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req engine.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	session, err := s.svc.Start(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, startResponse{
		SessionID:   session.SessionID,
		RedirectURL: "/session/" + session.SessionID,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

type iterateResponse struct {
	Iter       int                `json:"iter"`
	Candidates []*models.Candidate `json:"candidates"`
	BestSoFar  *models.Candidate  `json:"best_so_far"`
}

func (s *Server) handleIterate(w http.ResponseWriter, r *http.Request) {
	var fb models.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding feedback: %w", err))
		return
	}

	result, err := s.svc.Advance(r.Context(), r.PathValue("id"), fb)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, iterateResponse{
		Iter:       result.Iteration.Iter,
		Candidates: result.Iteration.Candidates,
		BestSoFar:  result.BestSoFar,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.svc.Export(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", id))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// writeEngineError maps engine errors onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrBudgetExhausted), engine.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}
