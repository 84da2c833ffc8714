// Package engine orchestrates the iterative voice search: it owns the
// session lifecycle, turns human feedback into the next generation prompt,
// filters near-duplicate candidates, drives audio rendering, and persists
// every state change before returning it to the caller.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nvandessel/voicesearch/internal/dedup"
	"github.com/nvandessel/voicesearch/internal/llm"
	"github.com/nvandessel/voicesearch/internal/models"
	"github.com/nvandessel/voicesearch/internal/render"
	"github.com/nvandessel/voicesearch/internal/sanitize"
	"github.com/nvandessel/voicesearch/internal/store"
)

// initialNote seeds the first generation round before any human feedback
// exists.
const initialNote = "Initial exploration. Please provide diverse starting points."

// defaultRenderConcurrency bounds parallel text-to-speech calls per round.
const defaultRenderConcurrency = 3

// Config wires the engine's collaborators. Store, Generator, Renderer, and
// Scorer are required.
type Config struct {
	Store     store.Store
	Generator llm.Generator
	Renderer  render.Renderer
	Scorer    *dedup.Scorer

	// RenderConcurrency caps parallel render calls; 0 means the default.
	RenderConcurrency int

	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine runs search sessions. Safe for concurrent use; operations on the
// same session are serialized so iterations stay strictly ordered.
type Engine struct {
	store       store.Store
	gen         llm.Generator
	renderer    render.Renderer
	scorer      *dedup.Scorer
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("engine: generator is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("engine: renderer is required")
	}
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("engine: dedup scorer is required")
	}
	if cfg.RenderConcurrency == 0 {
		cfg.RenderConcurrency = defaultRenderConcurrency
	}
	if cfg.RenderConcurrency < 1 {
		return nil, fmt.Errorf("engine: render concurrency must be at least 1")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:       cfg.Store,
		gen:         cfg.Generator,
		renderer:    cfg.Renderer,
		scorer:      cfg.Scorer,
		concurrency: cfg.RenderConcurrency,
		logger:      cfg.Logger,
		now:         cfg.Now,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// sessionLock returns the mutex serializing operations on one session.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	return l
}

// StartRequest describes a new session. Zero-valued fields take defaults;
// LockText is a pointer so that "unset" and "false" stay distinguishable.
type StartRequest struct {
	Language          string  `json:"language"`
	PreviewText       string  `json:"preview_text"`
	CandidatesPerIter int     `json:"candidates_per_iter"`
	LockText          *bool   `json:"lock_text"`
	MaxIters          int     `json:"max_iters"`
	DedupThreshold    float64 `json:"dedup_threshold"`
}

// settings resolves the request against defaults.
func (r StartRequest) settings() models.SessionSettings {
	s := models.DefaultSettings()
	if r.Language != "" {
		s.Language = r.Language
	}
	s.PreviewText = r.PreviewText
	if r.CandidatesPerIter != 0 {
		s.CandidatesPerIter = r.CandidatesPerIter
	}
	if r.LockText != nil {
		s.LockText = *r.LockText
	}
	if r.MaxIters != 0 {
		s.MaxIters = r.MaxIters
	}
	if r.DedupThreshold != 0 {
		s.DedupThreshold = r.DedupThreshold
	}
	return s
}

// Start creates a session, generates and renders its first candidate round,
// persists it, and returns the stored session.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.Session, error) {
	settings := req.settings()
	if err := settings.Validate(); err != nil {
		return nil, ValidationErrorf("invalid settings: %v", err)
	}

	now := e.now()
	session := &models.Session{
		SessionID: models.NewSessionID(now),
		CreatedAt: now.UTC(),
		Settings:  settings,
	}

	pc := models.PromptContext{
		Count:    settings.CandidatesPerIter,
		Language: settings.Language,
		UserNote: initialNote,
	}
	iteration, err := e.buildIteration(ctx, session, 1, pc)
	if err != nil {
		return nil, err
	}
	session.Iterations = append(session.Iterations, iteration)

	if err := e.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	e.logger.Info("session started",
		"session_id", session.SessionID,
		"candidates", len(iteration.Candidates))
	return session, nil
}

// AdvanceResult is the outcome of one completed round: the freshly generated
// iteration and the best candidate seen so far across the whole session.
type AdvanceResult struct {
	Iteration *models.Iteration
	BestSoFar *models.Candidate
}

// Advance records feedback for the session's current iteration and produces
// the next one. Feedback must target the latest iteration; stale or future
// iteration numbers are rejected. When the iteration cap is reached the
// feedback is still recorded and persisted, so the final round keeps its
// ratings and best pick, but no new iteration is generated and
// ErrBudgetExhausted is returned.
func (e *Engine) Advance(ctx context.Context, sessionID string, fb models.Feedback) (*AdvanceResult, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if fb.Iter != session.CurrentIter() {
		return nil, ValidationErrorf("feedback targets iteration %d but the current iteration is %d",
			fb.Iter, session.CurrentIter())
	}

	if err := applyFeedback(session, fb); err != nil {
		return nil, err
	}

	next := session.CurrentIter() + 1
	if next > session.Settings.MaxIters {
		if err := e.store.Update(ctx, session); err != nil {
			return nil, fmt.Errorf("persisting session: %w", err)
		}
		return nil, fmt.Errorf("%w: session %s reached max_iters=%d",
			ErrBudgetExhausted, sessionID, session.Settings.MaxIters)
	}

	pc := promptContext(session)
	iteration, err := e.buildIteration(ctx, session, next, pc)
	if err != nil {
		return nil, err
	}
	session.Iterations = append(session.Iterations, iteration)

	if err := e.store.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	e.logger.Info("iteration advanced",
		"session_id", sessionID,
		"iter", iteration.Iter,
		"candidates", len(iteration.Candidates))

	return &AdvanceResult{
		Iteration: iteration,
		BestSoFar: session.BestSoFar(),
	}, nil
}

// Get returns the stored session.
func (e *Engine) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return e.store.Get(ctx, sessionID)
}

// List returns all stored session IDs, oldest first.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// Export returns the session's full history as indented JSON.
func (e *Engine) Export(ctx context.Context, sessionID string) ([]byte, error) {
	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding session export: %w", err)
	}
	return data, nil
}

// applyFeedback validates and writes feedback onto the targeted iteration.
// Unknown rating IDs are skipped; an unknown best ID rejects the whole
// feedback without mutating the session.
func applyFeedback(session *models.Session, fb models.Feedback) error {
	it := session.Iteration(fb.Iter)
	if it == nil {
		return ValidationErrorf("iteration %d does not exist", fb.Iter)
	}

	if fb.BestID == "" {
		return ValidationErrorf("feedback must name a best candidate")
	}
	best := it.Candidate(fb.BestID)
	if best == nil {
		return ValidationErrorf("best candidate %q is not part of iteration %d", fb.BestID, fb.Iter)
	}
	for id, rating := range fb.Ratings {
		if rating < 1 || rating > 5 {
			return ValidationErrorf("rating for %q must be in [1, 5], got %d", id, rating)
		}
	}

	for id, rating := range fb.Ratings {
		c := it.Candidate(id)
		if c == nil {
			continue
		}
		r := rating
		c.Rating = &r
	}

	for _, c := range it.Candidates {
		c.IsBest = false
	}
	best.IsBest = true

	it.UserNote = sanitize.Note(fb.UserNote)
	return nil
}

// promptContext assembles the generator request from the session's full
// history, after feedback has been applied to the latest iteration.
func promptContext(session *models.Session) models.PromptContext {
	pc := models.PromptContext{
		Count:    session.Settings.CandidatesPerIter,
		Language: session.Settings.Language,
	}
	for _, it := range session.Iterations {
		summary := models.IterationSummary{Iter: it.Iter, UserNote: it.UserNote}
		if best := it.Best(); best != nil {
			summary.BestCandID = best.CandID
		}
		pc.History = append(pc.History, summary)
	}
	if best := session.BestSoFar(); best != nil {
		pc.BestInstruct = best.Instruct
	}
	if last := session.Iteration(session.CurrentIter()); last != nil {
		pc.UserNote = last.UserNote
	}
	return pc
}
