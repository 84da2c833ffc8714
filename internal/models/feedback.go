package models

// Feedback is the human verdict on one completed iteration: per-candidate
// ratings (partial coverage allowed), exactly one best candidate, and an
// optional free-text note steering the next round.
type Feedback struct {
	Iter     int            `json:"iter"`
	Ratings  map[string]int `json:"ratings"`
	BestID   string         `json:"best_id"`
	UserNote string         `json:"user_note,omitempty"`
}

// IterationSummary is the per-iteration digest handed to the text generator:
// which candidate won the round and what the human said about it.
type IterationSummary struct {
	Iter       int    `json:"iter"`
	BestCandID string `json:"best_cand_id"`
	UserNote   string `json:"user_note"`
}

// PromptContext is the structured request consumed by the text generator.
// History covers every prior iteration, in order, with an explicit "None"
// best-candidate marker for rounds that never had a best flagged.
type PromptContext struct {
	Count        int                `json:"count"`
	Language     string             `json:"language"`
	History      []IterationSummary `json:"history"`
	BestInstruct string             `json:"best_instruct"`
	UserNote     string             `json:"user_note"`
}
