package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/voicesearch/internal/dedup"
	"github.com/nvandessel/voicesearch/internal/embedder"
	"github.com/nvandessel/voicesearch/internal/llm"
	"github.com/nvandessel/voicesearch/internal/models"
	"github.com/nvandessel/voicesearch/internal/render"
	"github.com/nvandessel/voicesearch/internal/store"
)

// fakeGenerator replays queued responses and records every prompt context it
// was asked for.
type fakeGenerator struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	contexts  []models.PromptContext
}

func (f *fakeGenerator) Generate(_ context.Context, pc models.PromptContext) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts = append(f.contexts, pc)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &llm.Response{}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeGenerator) lastContext(t *testing.T) models.PromptContext {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.contexts) == 0 {
		t.Fatal("generator was never called")
	}
	return f.contexts[len(f.contexts)-1]
}

// fakeRenderer records render requests and returns web-relative paths.
type fakeRenderer struct {
	mu       sync.Mutex
	requests []render.Request
	err      error
}

func (f *fakeRenderer) Render(_ context.Context, req render.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return render.RelativePath(req), f.err
}

func (f *fakeRenderer) instructFor(candID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		if req.CandID == candID {
			return req.Instruct
		}
	}
	return ""
}

func candidates(instructs ...string) *llm.Response {
	resp := &llm.Response{}
	for i, text := range instructs {
		typ := models.CategoryExplore
		if i == 0 {
			typ = models.CategoryExploit
		}
		resp.NextCandidates = append(resp.NextCandidates, llm.CandidateItem{
			Instruct:  text,
			Type:      typ,
			Rationale: fmt.Sprintf("variation %d", i+1),
		})
	}
	return resp
}

type testHarness struct {
	engine   *Engine
	gen      *fakeGenerator
	renderer *fakeRenderer
	store    *store.MemoryStore
	embed    *embedder.Mock
}

func newHarness(t *testing.T, responses ...*llm.Response) *testHarness {
	t.Helper()
	h := &testHarness{
		gen:      &fakeGenerator{responses: responses},
		renderer: &fakeRenderer{},
		store:    store.NewMemoryStore(),
		embed:    embedder.NewMock(),
	}
	eng, err := New(Config{
		Store:     h.store,
		Generator: h.gen,
		Renderer:  h.renderer,
		Scorer:    dedup.NewScorerWithEmbedder(h.embed),
		Logger:    slog.New(slog.DiscardHandler),
		Now:       func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.engine = eng
	return h
}

func startRequest() StartRequest {
	return StartRequest{
		PreviewText:       "欢迎收听今天的节目",
		CandidatesPerIter: 3,
		MaxIters:          2,
	}
}

func TestStart_FirstIteration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, candidates("warm narrator", "bright host", "calm guide"))

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !strings.HasPrefix(session.SessionID, "VS_20260829_") {
		t.Errorf("SessionID = %q", session.SessionID)
	}
	if session.Settings.Language != "zh" || !session.Settings.LockText {
		t.Errorf("defaults not applied: %+v", session.Settings)
	}
	if session.CurrentIter() != 1 {
		t.Fatalf("CurrentIter() = %d, want 1", session.CurrentIter())
	}

	it := session.Iteration(1)
	wantIDs := []string{"1a", "1b", "1c"}
	if len(it.Candidates) != len(wantIDs) {
		t.Fatalf("got %d candidates, want %d", len(it.Candidates), len(wantIDs))
	}
	for i, c := range it.Candidates {
		if c.CandID != wantIDs[i] {
			t.Errorf("candidate %d id = %q, want %q", i, c.CandID, wantIDs[i])
		}
		wantPath := fmt.Sprintf("/data/sessions/%s/iter_1/cand_%s.wav", session.SessionID, wantIDs[i])
		if c.AudioPath != wantPath {
			t.Errorf("candidate %s audio path = %q, want %q", c.CandID, c.AudioPath, wantPath)
		}
		if c.IsBest {
			t.Errorf("candidate %s marked best before any feedback", c.CandID)
		}
	}

	// The first prompt carries the exploration note and no history.
	pc := h.gen.lastContext(t)
	if pc.UserNote != initialNote || len(pc.History) != 0 || pc.BestInstruct != "" {
		t.Errorf("first prompt context = %+v", pc)
	}

	// The session was persisted as returned.
	stored, err := h.store.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("stored session missing: %v", err)
	}
	if stored.CurrentIter() != 1 {
		t.Errorf("stored session has %d iterations", stored.CurrentIter())
	}
}

func TestStart_InvalidSettings(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Start(context.Background(), StartRequest{PreviewText: "   "})
	if !IsValidation(err) {
		t.Fatalf("Start() error = %v, want validation error", err)
	}
	ids, _ := h.store.List(context.Background())
	if len(ids) != 0 {
		t.Errorf("session persisted despite invalid settings: %v", ids)
	}
}

func TestAdvance_FullRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		candidates("warm narrator", "bright host", "calm guide"),
		candidates("gravelly mentor", "playful announcer", "soft storyteller"),
	)

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}

	result, err := h.engine.Advance(ctx, session.SessionID, models.Feedback{
		Iter:     1,
		Ratings:  map[string]int{"1a": 2, "1b": 5},
		BestID:   "1b",
		UserNote: "love the energy, a bit less shouty",
	})
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	if result.Iteration.Iter != 2 {
		t.Fatalf("new iteration = %d, want 2", result.Iteration.Iter)
	}
	wantIDs := []string{"2a", "2b", "2c"}
	for i, c := range result.Iteration.Candidates {
		if c.CandID != wantIDs[i] {
			t.Errorf("candidate %d id = %q, want %q", i, c.CandID, wantIDs[i])
		}
	}
	if result.BestSoFar == nil || result.BestSoFar.CandID != "1b" {
		t.Fatalf("BestSoFar = %+v, want 1b", result.BestSoFar)
	}

	// The generator saw the applied feedback.
	pc := h.gen.lastContext(t)
	if pc.BestInstruct != "bright host" {
		t.Errorf("BestInstruct = %q, want instruction of 1b", pc.BestInstruct)
	}
	if pc.UserNote != "love the energy, a bit less shouty" {
		t.Errorf("UserNote = %q", pc.UserNote)
	}
	if len(pc.History) != 1 || pc.History[0].BestCandID != "1b" {
		t.Errorf("History = %+v", pc.History)
	}

	// Feedback was persisted on iteration 1.
	stored, err := h.engine.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	first := stored.Iteration(1)
	if best := first.Best(); best == nil || best.CandID != "1b" {
		t.Errorf("stored best = %+v", best)
	}
	if c := first.Candidate("1a"); c.Rating == nil || *c.Rating != 2 {
		t.Errorf("rating for 1a not persisted: %+v", c.Rating)
	}
	if c := first.Candidate("1c"); c.Rating != nil {
		t.Errorf("unrated candidate got rating %d", *c.Rating)
	}
}

func TestAdvance_BudgetExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		candidates("warm narrator", "bright host", "calm guide"),
		candidates("gravelly mentor", "playful announcer", "soft storyteller"),
	)

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Advance(ctx, session.SessionID, models.Feedback{Iter: 1, BestID: "1b"}); err != nil {
		t.Fatal(err)
	}

	// max_iters is 2: a third iteration must be refused, but the final
	// round's feedback is still recorded.
	_, err = h.engine.Advance(ctx, session.SessionID,
		models.Feedback{Iter: 2, BestID: "2a", Ratings: map[string]int{"2a": 5}})
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("Advance() error = %v, want ErrBudgetExhausted", err)
	}

	stored, err := h.engine.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CurrentIter() != 2 {
		t.Errorf("session grew to %d iterations", stored.CurrentIter())
	}
	best := stored.Iteration(2).Best()
	if best == nil || best.CandID != "2a" {
		t.Fatalf("final round best = %v, want 2a", best)
	}
	if best.Rating == nil || *best.Rating != 5 {
		t.Errorf("final round rating = %v, want 5", best.Rating)
	}
	if overall := stored.BestSoFar(); overall == nil || overall.CandID != "2a" {
		t.Errorf("BestSoFar() = %v, want 2a", overall)
	}
}

func TestAdvance_FinalRoundFeedbackPersisted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, candidates("warm narrator", "bright host", "calm guide"))

	req := startRequest()
	req.MaxIters = 1
	session, err := h.engine.Start(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	// The only iteration is also the last one. Its feedback must survive
	// even though no further iteration can be generated.
	_, err = h.engine.Advance(ctx, session.SessionID,
		models.Feedback{Iter: 1, BestID: "1b", Ratings: map[string]int{"1b": 5, "1a": 2}, UserNote: "b wins"})
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("Advance() error = %v, want ErrBudgetExhausted", err)
	}

	stored, err := h.engine.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CurrentIter() != 1 {
		t.Fatalf("session has %d iterations, want 1", stored.CurrentIter())
	}
	it := stored.Iteration(1)
	if best := it.Best(); best == nil || best.CandID != "1b" {
		t.Fatalf("recorded best = %v, want 1b", best)
	}
	if r := it.Candidate("1a").Rating; r == nil || *r != 2 {
		t.Errorf("rating for 1a = %v, want 2", r)
	}
	if it.UserNote != "b wins" {
		t.Errorf("UserNote = %q, want %q", it.UserNote, "b wins")
	}
	if overall := stored.BestSoFar(); overall == nil || overall.CandID != "1b" {
		t.Errorf("BestSoFar() = %v, want 1b", overall)
	}

	// Invalid feedback at the cap is still rejected before anything is
	// written, with the earlier valid feedback left intact.
	_, err = h.engine.Advance(ctx, session.SessionID, models.Feedback{Iter: 1, BestID: "1z"})
	if !IsValidation(err) {
		t.Fatalf("Advance() error = %v, want validation error", err)
	}
	stored, err = h.engine.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if best := stored.Iteration(1).Best(); best == nil || best.CandID != "1b" {
		t.Errorf("best after rejected feedback = %v, want 1b", best)
	}
}

func TestAdvance_RejectsStaleAndInvalidFeedback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, candidates("warm narrator", "bright host", "calm guide"))

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fb   models.Feedback
	}{
		{"stale iteration", models.Feedback{Iter: 0, BestID: "1a"}},
		{"future iteration", models.Feedback{Iter: 2, BestID: "1a"}},
		{"missing best", models.Feedback{Iter: 1}},
		{"unknown best", models.Feedback{Iter: 1, BestID: "1z"}},
		{"rating out of range", models.Feedback{Iter: 1, BestID: "1a", Ratings: map[string]int{"1a": 6}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.engine.Advance(ctx, session.SessionID, tt.fb); !IsValidation(err) {
				t.Fatalf("Advance() error = %v, want validation error", err)
			}
		})
	}

	// Rejected feedback never mutated the session.
	stored, err := h.engine.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CurrentIter() != 1 {
		t.Errorf("session grew to %d iterations", stored.CurrentIter())
	}
	if c := stored.Iteration(1).Candidate("1a"); c.Rating != nil || c.IsBest {
		t.Errorf("rejected feedback partially applied: %+v", c)
	}
}

func TestApplyFeedback_ReapplicationOverwrites(t *testing.T) {
	session := &models.Session{
		Settings: models.DefaultSettings(),
		Iterations: []*models.Iteration{
			{Iter: 1, Candidates: []*models.Candidate{
				{CandID: "1a", Instruct: "warm narrator"},
				{CandID: "1b", Instruct: "bright host"},
			}},
		},
	}

	if err := applyFeedback(session, models.Feedback{Iter: 1, BestID: "1a", UserNote: "first pass"}); err != nil {
		t.Fatalf("applyFeedback() error = %v", err)
	}
	if err := applyFeedback(session, models.Feedback{Iter: 1, BestID: "1b", UserNote: "changed my mind"}); err != nil {
		t.Fatalf("second applyFeedback() error = %v", err)
	}

	it := session.Iteration(1)
	if it.Candidate("1a").IsBest {
		t.Error("previous best flag not cleared")
	}
	if !it.Candidate("1b").IsBest {
		t.Error("new best flag not set")
	}
	if it.UserNote != "changed my mind" {
		t.Errorf("note = %q, want overwrite", it.UserNote)
	}
}

func TestAdvance_UnknownSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Advance(context.Background(), "VS_unknown", models.Feedback{Iter: 1, BestID: "1a"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Advance() error = %v, want ErrNotFound", err)
	}
}

func TestStart_GeneratorFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.gen.err = errors.New("upstream timeout")

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	it := session.Iteration(1)
	if len(it.Candidates) != 1 {
		t.Fatalf("got %d candidates, want single fallback", len(it.Candidates))
	}
	c := it.Candidates[0]
	if c.CandID != "1a" || c.Type != models.CategoryExploit || c.Instruct != fallbackInstruct {
		t.Errorf("fallback candidate = %+v", c)
	}
}

func TestAdvance_GeneratorFailureRetriesBest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, candidates("warm narrator", "bright host", "calm guide"))

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}

	h.gen.err = errors.New("upstream timeout")
	result, err := h.engine.Advance(ctx, session.SessionID, models.Feedback{Iter: 1, BestID: "1b"})
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if len(result.Iteration.Candidates) != 1 {
		t.Fatalf("got %d candidates, want single fallback", len(result.Iteration.Candidates))
	}
	if got := result.Iteration.Candidates[0].Instruct; got != "bright host" {
		t.Errorf("fallback instruct = %q, want the current best", got)
	}
}

func TestBuildIteration_RejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	// Second candidate repeats the first verbatim; the replacement round
	// supplies a distinct one.
	h := newHarness(t,
		candidates("warm narrator voice", "warm narrator voice", "calm guide"),
		candidates("gravelly radio host"),
	)

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}

	it := session.Iteration(1)
	if len(it.Candidates) != 3 {
		t.Fatalf("got %d candidates, want 3", len(it.Candidates))
	}
	got := []string{it.Candidates[0].Instruct, it.Candidates[1].Instruct, it.Candidates[2].Instruct}
	want := []string{"warm narrator voice", "calm guide", "gravelly radio host"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d instruct = %q, want %q", i, got[i], want[i])
		}
	}
	// The replacement request asked for exactly the missing slots.
	pc := h.gen.lastContext(t)
	if pc.Count != 1 {
		t.Errorf("replacement request count = %d, want 1", pc.Count)
	}
}

func TestBuildIteration_StillDuplicateReplacementShortensRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		candidates("warm narrator voice", "warm narrator voice", "calm guide"),
		candidates("warm narrator voice"),
	)

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}

	it := session.Iteration(1)
	if len(it.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2 after dropping duplicates", len(it.Candidates))
	}
	if it.Candidates[0].CandID != "1a" || it.Candidates[1].CandID != "1b" {
		t.Errorf("ids = %s, %s; want contiguous 1a, 1b",
			it.Candidates[0].CandID, it.Candidates[1].CandID)
	}
}

func TestBuildIteration_ScorerUnavailableAcceptsUnchecked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, candidates("warm narrator voice", "warm narrator voice", "calm guide"))
	h.embed.SetError(errors.New("model not loaded"))

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// All three pass through, duplicate included.
	if got := len(session.Iteration(1).Candidates); got != 3 {
		t.Errorf("got %d candidates, want 3 unchecked", got)
	}
}

func TestRender_AvoidanceSuffixNotPersisted(t *testing.T) {
	ctx := context.Background()
	resp := candidates("warm narrator", "bright host", "calm guide")
	resp.GlobalAvoid = []string{"robotic delivery", "heavy reverb"}
	h := newHarness(t, resp)

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}

	want := "warm narrator Avoid: robotic delivery, heavy reverb."
	if got := h.renderer.instructFor("1a"); got != want {
		t.Errorf("rendered instruct = %q, want %q", got, want)
	}
	if got := session.Iteration(1).Candidate("1a").Instruct; got != "warm narrator" {
		t.Errorf("persisted instruct = %q, suffix leaked", got)
	}
}

func TestRender_FailureKeepsPlaceholderPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, candidates("warm narrator", "bright host", "calm guide"))
	h.renderer.err = errors.New("tts unavailable")

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start() error = %v, render failures must not fail the round", err)
	}
	for _, c := range session.Iteration(1).Candidates {
		if c.AudioPath == "" {
			t.Errorf("candidate %s lost its placeholder path", c.CandID)
		}
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, candidates("warm narrator", "bright host", "calm guide"))

	session, err := h.engine.Start(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}

	data, err := h.engine.Export(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	for _, want := range []string{session.SessionID, `"cand_id": "1a"`, `"iter": 1`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("export missing %q", want)
		}
	}

	if _, err := h.engine.Export(ctx, "VS_unknown"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Export(unknown) error = %v, want ErrNotFound", err)
	}
}
