// Package models defines the core data model for a voice-design search
// session: immutable settings, the append-only iteration sequence, the
// candidates produced each round, and the human feedback that closes a round.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxCandidatesPerIter bounds candidates_per_iter so candidate letters stay
// within a-z. Validated at session creation rather than extending the scheme.
const maxCandidatesPerIter = 26

// SessionSettings are fixed for the lifetime of a session. The preview text
// is rendered identically for every candidate so audio comparisons are fair.
type SessionSettings struct {
	Language          string  `json:"language" yaml:"language"`
	PreviewText       string  `json:"preview_text" yaml:"preview_text"`
	CandidatesPerIter int     `json:"candidates_per_iter" yaml:"candidates_per_iter"`
	LockText          bool    `json:"lock_text" yaml:"lock_text"`
	MaxIters          int     `json:"max_iters" yaml:"max_iters"`
	DedupThreshold    float64 `json:"dedup_threshold" yaml:"dedup_threshold"`
}

// DefaultSettings returns the settings used when a field is left unset.
func DefaultSettings() SessionSettings {
	return SessionSettings{
		Language:          "zh",
		CandidatesPerIter: 3,
		LockText:          true,
		MaxIters:          20,
		DedupThreshold:    0.92,
	}
}

// Validate checks settings invariants before a session is created.
func (s SessionSettings) Validate() error {
	if strings.TrimSpace(s.PreviewText) == "" {
		return fmt.Errorf("preview_text must not be empty")
	}
	if s.CandidatesPerIter < 1 || s.CandidatesPerIter > maxCandidatesPerIter {
		return fmt.Errorf("candidates_per_iter must be in [1, %d], got %d", maxCandidatesPerIter, s.CandidatesPerIter)
	}
	if s.MaxIters < 1 {
		return fmt.Errorf("max_iters must be >= 1, got %d", s.MaxIters)
	}
	if s.DedupThreshold <= 0 || s.DedupThreshold >= 1 {
		return fmt.Errorf("dedup_threshold must be in (0, 1), got %g", s.DedupThreshold)
	}
	return nil
}

// Session is one end-to-end search run. It is created once and mutated only
// by the iteration engine; iterations are append-only and 1-based.
type Session struct {
	SessionID  string          `json:"session_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Settings   SessionSettings `json:"settings"`
	Iterations []*Iteration    `json:"iterations"`
}

// NewSessionID allocates a globally unique, URL-safe session identifier that
// embeds the creation date for traceability, e.g. VS_20260829_1a2b3c4d.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("VS_%s_%s", now.Format("20060102"), uuid.NewString()[:8])
}

// Iteration returns the iteration with the given 1-based number, or nil if
// it does not exist.
func (s *Session) Iteration(num int) *Iteration {
	if num < 1 || num > len(s.Iterations) {
		return nil
	}
	return s.Iterations[num-1]
}

// CurrentIter returns the number of the iteration currently awaiting
// feedback, i.e. the latest one. Zero for a session with no iterations.
func (s *Session) CurrentIter() int {
	return len(s.Iterations)
}

// BestSoFar returns the most recently flagged best candidate across all
// iterations. Iterations are scanned in reverse so that when several rounds
// each carry a best, the most recent one wins. Returns nil if no candidate
// was ever marked best.
func (s *Session) BestSoFar() *Candidate {
	for i := len(s.Iterations) - 1; i >= 0; i-- {
		if best := s.Iterations[i].Best(); best != nil {
			return best
		}
	}
	return nil
}

// Instructions returns every instruction text generated in the session so
// far, in generation order. This is the corpus new candidates are
// deduplicated against.
func (s *Session) Instructions() []string {
	var out []string
	for _, it := range s.Iterations {
		for _, c := range it.Candidates {
			out = append(out, c.Instruct)
		}
	}
	return out
}

// Iteration is one round of candidate generation plus the feedback that
// closes it. Iter matches the iteration's 1-based position in the session.
type Iteration struct {
	Iter       int          `json:"iter"`
	Candidates []*Candidate `json:"candidates"`
	UserNote   string       `json:"user_note,omitempty"`
}

// Best returns the candidate flagged best within this iteration, or nil.
// At most one candidate per iteration carries the flag.
func (it *Iteration) Best() *Candidate {
	for _, c := range it.Candidates {
		if c.IsBest {
			return c
		}
	}
	return nil
}

// Candidate finds a candidate by its identifier within this iteration.
func (it *Iteration) Candidate(candID string) *Candidate {
	for _, c := range it.Candidates {
		if c.CandID == candID {
			return c
		}
	}
	return nil
}
