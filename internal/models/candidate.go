package models

import "fmt"

// Candidate categories as reported by the text generator. Explore pushes
// into new territory, exploit refines the current best.
const (
	CategoryExplore = "explore"
	CategoryExploit = "exploit"
)

// Candidate is one generated voice-design instruction plus its rendered
// audio artifact and any human rating. Instruct holds the raw instruction
// text: the render-time avoidance suffix is never persisted here.
type Candidate struct {
	CandID    string `json:"cand_id"`
	Type      string `json:"type"`
	Instruct  string `json:"instruct"`
	Rationale string `json:"rationale"`
	AudioPath string `json:"audio_path,omitempty"`
	Rating    *int   `json:"rating,omitempty"`
	IsBest    bool   `json:"is_best"`
}

// CandidateID builds the identifier for the candidate at the given 0-based
// position within an iteration: "1a", "1b", ... "3c". Position encodes
// generation order, not quality; the rest of the system relies on these
// identifiers as stable references in feedback payloads.
//
// Positions beyond 'z' are rejected; SessionSettings.Validate keeps
// candidates_per_iter within that bound so this can only trip on caller bugs.
func CandidateID(iter, pos int) (string, error) {
	if iter < 1 {
		return "", fmt.Errorf("iteration number must be >= 1, got %d", iter)
	}
	if pos < 0 || pos >= maxCandidatesPerIter {
		return "", fmt.Errorf("candidate position must be in [0, %d), got %d", maxCandidatesPerIter, pos)
	}
	return fmt.Sprintf("%d%c", iter, 'a'+rune(pos)), nil
}
