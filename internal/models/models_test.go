package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCandidateID(t *testing.T) {
	tests := []struct {
		name    string
		iter    int
		pos     int
		want    string
		wantErr bool
	}{
		{name: "first candidate", iter: 1, pos: 0, want: "1a"},
		{name: "second candidate", iter: 1, pos: 1, want: "1b"},
		{name: "third iteration", iter: 3, pos: 2, want: "3c"},
		{name: "last letter", iter: 2, pos: 25, want: "2z"},
		{name: "double digit iteration", iter: 12, pos: 0, want: "12a"},
		{name: "position past z", iter: 1, pos: 26, wantErr: true},
		{name: "negative position", iter: 1, pos: -1, wantErr: true},
		{name: "zero iteration", iter: 0, pos: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CandidateID(tt.iter, tt.pos)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CandidateID(%d, %d) error = %v, wantErr %v", tt.iter, tt.pos, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CandidateID(%d, %d) = %q, want %q", tt.iter, tt.pos, got, tt.want)
			}
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	valid := SessionSettings{
		Language:          "zh",
		PreviewText:       "你好，欢迎体验语音设计。",
		CandidatesPerIter: 3,
		MaxIters:          20,
		DedupThreshold:    0.92,
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on valid settings returned %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SessionSettings)
	}{
		{"empty preview text", func(s *SessionSettings) { s.PreviewText = "  " }},
		{"zero candidates", func(s *SessionSettings) { s.CandidatesPerIter = 0 }},
		{"too many candidates", func(s *SessionSettings) { s.CandidatesPerIter = 27 }},
		{"zero max iters", func(s *SessionSettings) { s.MaxIters = 0 }},
		{"threshold at zero", func(s *SessionSettings) { s.DedupThreshold = 0 }},
		{"threshold at one", func(s *SessionSettings) { s.DedupThreshold = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestNewSessionID(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	id := NewSessionID(now)

	if !strings.HasPrefix(id, "VS_20260829_") {
		t.Errorf("NewSessionID() = %q, want VS_20260829_ prefix", id)
	}
	if len(id) != len("VS_20260829_")+8 {
		t.Errorf("NewSessionID() = %q, want 8-char suffix", id)
	}
	if other := NewSessionID(now); other == id {
		t.Errorf("NewSessionID() returned duplicate id %q", id)
	}
}

func TestBestSoFar_MostRecentWins(t *testing.T) {
	s := &Session{
		Iterations: []*Iteration{
			{Iter: 1, Candidates: []*Candidate{
				{CandID: "1a", Instruct: "warm narrator"},
				{CandID: "1b", Instruct: "bright host", IsBest: true},
			}},
			{Iter: 2, Candidates: []*Candidate{
				{CandID: "2a", Instruct: "calm guide", IsBest: true},
				{CandID: "2b", Instruct: "deep announcer"},
			}},
			{Iter: 3, Candidates: []*Candidate{
				{CandID: "3a", Instruct: "soft whisper"},
			}},
		},
	}

	best := s.BestSoFar()
	if best == nil {
		t.Fatal("BestSoFar() = nil, want candidate 2a")
	}
	if best.CandID != "2a" {
		t.Errorf("BestSoFar().CandID = %q, want %q (most recent iteration wins)", best.CandID, "2a")
	}
}

func TestBestSoFar_NoneFlagged(t *testing.T) {
	s := &Session{
		Iterations: []*Iteration{
			{Iter: 1, Candidates: []*Candidate{{CandID: "1a"}}},
		},
	}
	if best := s.BestSoFar(); best != nil {
		t.Errorf("BestSoFar() = %v, want nil", best)
	}
}

func TestInstructions_GenerationOrder(t *testing.T) {
	s := &Session{
		Iterations: []*Iteration{
			{Iter: 1, Candidates: []*Candidate{
				{CandID: "1a", Instruct: "one"},
				{CandID: "1b", Instruct: "two"},
			}},
			{Iter: 2, Candidates: []*Candidate{
				{CandID: "2a", Instruct: "three"},
			}},
		},
	}

	got := s.Instructions()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("Instructions() returned %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Instructions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSessionJSONRoundTrip(t *testing.T) {
	rating := 5
	s := &Session{
		SessionID: "VS_20260829_deadbeef",
		CreatedAt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		Settings: SessionSettings{
			Language:          "zh",
			PreviewText:       "预览文本",
			CandidatesPerIter: 2,
			LockText:          true,
			MaxIters:          5,
			DedupThreshold:    0.9,
		},
		Iterations: []*Iteration{
			{Iter: 1, UserNote: "warmer please", Candidates: []*Candidate{
				{CandID: "1a", Type: CategoryExplore, Instruct: "a warm voice", Rationale: "baseline", AudioPath: "/data/sessions/x/iter_1/cand_1a.wav", Rating: &rating, IsBest: true},
				{CandID: "1b", Type: CategoryExploit, Instruct: "a warmer voice", Rationale: "variation"},
			}},
		},
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got Session
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got.SessionID != s.SessionID || !got.CreatedAt.Equal(s.CreatedAt) {
		t.Errorf("round trip changed identity: got %q %v", got.SessionID, got.CreatedAt)
	}
	if got.Settings != s.Settings {
		t.Errorf("round trip changed settings: got %+v, want %+v", got.Settings, s.Settings)
	}
	if len(got.Iterations) != 1 || len(got.Iterations[0].Candidates) != 2 {
		t.Fatalf("round trip changed structure: %+v", got.Iterations)
	}
	c := got.Iterations[0].Candidates[0]
	if c.CandID != "1a" || !c.IsBest || c.Rating == nil || *c.Rating != 5 {
		t.Errorf("round trip changed candidate: %+v", c)
	}
}
