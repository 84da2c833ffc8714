// Package llm talks to the text generator that proposes voice-design
// instruction candidates. The engine hands it a structured prompt context;
// the generator returns candidate instructions plus global hints about what
// to avoid. Malformed generator output fails visibly here; degrading to a
// fallback candidate is the engine's decision, not this package's.
package llm

import (
	"context"

	"github.com/nvandessel/voicesearch/internal/models"
)

// CandidateItem is one proposed instruction from the generator.
type CandidateItem struct {
	Instruct  string `json:"instruct"`
	Type      string `json:"type,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Response is the generator's full answer for one round.
type Response struct {
	// NextCandidates may be shorter than requested; the engine tolerates
	// (and logs) short batches rather than failing the round.
	NextCandidates []CandidateItem `json:"next_candidates"`

	// GlobalAvoid lists traits every rendered candidate should avoid.
	// Applied as a render-time suffix only, never persisted.
	GlobalAvoid []string `json:"global_avoid"`
}

// Generator produces the next round of candidate instructions.
type Generator interface {
	Generate(ctx context.Context, pc models.PromptContext) (*Response, error)
}
