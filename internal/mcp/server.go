// Package mcp exposes the search engine as a Model Context Protocol server
// over stdio, so LLM-driven clients can run search sessions through tool
// calls instead of the HTTP API.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/voicesearch/internal/engine"
	"github.com/nvandessel/voicesearch/internal/models"
)

// SessionService is the engine surface the MCP layer needs.
type SessionService interface {
	Start(ctx context.Context, req engine.StartRequest) (*models.Session, error)
	Advance(ctx context.Context, sessionID string, fb models.Feedback) (*engine.AdvanceResult, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	List(ctx context.Context) ([]string, error)
	Export(ctx context.Context, sessionID string) ([]byte, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Service SessionService
	Logger  *slog.Logger
}

// Server wraps the MCP protocol server around the session engine.
type Server struct {
	server *sdk.Server
	svc    SessionService
	logger *slog.Logger
}

// NewServer creates an MCP server and registers the session tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("mcp: session service is required")
	}
	if cfg.Name == "" {
		cfg.Name = "voicesearch"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		svc:    cfg.Service,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting")
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Close releases server resources. Safe to call multiple times.
func (s *Server) Close() error {
	return nil
}

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name: "voicesearch_start",
		Description: "Start a voice design search session. Generates and renders the " +
			"first round of candidate voices for the given preview text.",
	}, s.handleStart)

	sdk.AddTool(s.server, &sdk.Tool{
		Name: "voicesearch_iterate",
		Description: "Submit feedback on the current iteration (ratings, the best " +
			"candidate, and an optional note) and generate the next round.",
	}, s.handleIterate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "voicesearch_status",
		Description: "Get a session's current iteration and best candidate so far.",
	}, s.handleStatus)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "voicesearch_list",
		Description: "List all stored session IDs, oldest first.",
	}, s.handleList)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "voicesearch_export",
		Description: "Export a session's full history as JSON.",
	}, s.handleExport)
}

type startInput struct {
	Language          string  `json:"language,omitempty"`
	PreviewText       string  `json:"preview_text"`
	CandidatesPerIter int     `json:"candidates_per_iter,omitempty"`
	LockText          *bool   `json:"lock_text,omitempty"`
	MaxIters          int     `json:"max_iters,omitempty"`
	DedupThreshold    float64 `json:"dedup_threshold,omitempty"`
}

type startOutput struct {
	SessionID  string              `json:"session_id"`
	Iter       int                 `json:"iter"`
	Candidates []*models.Candidate `json:"candidates"`
}

func (s *Server) handleStart(ctx context.Context, _ *sdk.CallToolRequest, in startInput) (*sdk.CallToolResult, startOutput, error) {
	session, err := s.svc.Start(ctx, engine.StartRequest{
		Language:          in.Language,
		PreviewText:       in.PreviewText,
		CandidatesPerIter: in.CandidatesPerIter,
		LockText:          in.LockText,
		MaxIters:          in.MaxIters,
		DedupThreshold:    in.DedupThreshold,
	})
	if err != nil {
		return nil, startOutput{}, err
	}
	it := session.Iteration(1)
	return nil, startOutput{
		SessionID:  session.SessionID,
		Iter:       it.Iter,
		Candidates: it.Candidates,
	}, nil
}

type iterateInput struct {
	SessionID string         `json:"session_id"`
	Iter      int            `json:"iter"`
	Ratings   map[string]int `json:"ratings,omitempty"`
	BestID    string         `json:"best_id"`
	UserNote  string         `json:"user_note,omitempty"`
}

type iterateOutput struct {
	Iter       int                 `json:"iter"`
	Candidates []*models.Candidate `json:"candidates"`
	BestSoFar  *models.Candidate   `json:"best_so_far,omitempty"`
}

func (s *Server) handleIterate(ctx context.Context, _ *sdk.CallToolRequest, in iterateInput) (*sdk.CallToolResult, iterateOutput, error) {
	result, err := s.svc.Advance(ctx, in.SessionID, models.Feedback{
		Iter:     in.Iter,
		Ratings:  in.Ratings,
		BestID:   in.BestID,
		UserNote: in.UserNote,
	})
	if err != nil {
		return nil, iterateOutput{}, err
	}
	return nil, iterateOutput{
		Iter:       result.Iteration.Iter,
		Candidates: result.Iteration.Candidates,
		BestSoFar:  result.BestSoFar,
	}, nil
}

type statusInput struct {
	SessionID string `json:"session_id"`
}

type statusOutput struct {
	SessionID   string            `json:"session_id"`
	CurrentIter int               `json:"current_iter"`
	MaxIters    int               `json:"max_iters"`
	BestSoFar   *models.Candidate `json:"best_so_far,omitempty"`
}

func (s *Server) handleStatus(ctx context.Context, _ *sdk.CallToolRequest, in statusInput) (*sdk.CallToolResult, statusOutput, error) {
	session, err := s.svc.Get(ctx, in.SessionID)
	if err != nil {
		return nil, statusOutput{}, err
	}
	return nil, statusOutput{
		SessionID:   session.SessionID,
		CurrentIter: session.CurrentIter(),
		MaxIters:    session.Settings.MaxIters,
		BestSoFar:   session.BestSoFar(),
	}, nil
}

type listInput struct{}

type listOutput struct {
	SessionIDs []string `json:"session_ids"`
}

func (s *Server) handleList(ctx context.Context, _ *sdk.CallToolRequest, _ listInput) (*sdk.CallToolResult, listOutput, error) {
	ids, err := s.svc.List(ctx)
	if err != nil {
		return nil, listOutput{}, err
	}
	return nil, listOutput{SessionIDs: ids}, nil
}

type exportInput struct {
	SessionID string `json:"session_id"`
}

type exportOutput struct {
	Session string `json:"session"`
}

func (s *Server) handleExport(ctx context.Context, _ *sdk.CallToolRequest, in exportInput) (*sdk.CallToolResult, exportOutput, error) {
	data, err := s.svc.Export(ctx, in.SessionID)
	if err != nil {
		return nil, exportOutput{}, err
	}
	return nil, exportOutput{Session: string(data)}, nil
}
