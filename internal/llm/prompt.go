package llm

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/nvandessel/voicesearch/internal/models"
	"github.com/nvandessel/voicesearch/internal/tokens"
)

// maxPromptTokens bounds the rendered prompt. History grows one summary
// line per iteration, so hitting this means pathologically long notes.
const maxPromptTokens = 8000

// noneMarker is the explicit sentinel for "no best candidate" and "no note".
const noneMarker = "None"

var promptTmpl = template.Must(template.New("next_instruct").Parse(`You are designing instructions for a voice synthesis system. Each instruction describes a target voice (timbre, pacing, emotion, persona) in natural language.

Task: propose {{.Count}} new candidate voice-design instructions in {{.Language}}.

Best instruction so far: {{.BestInstruct}}
Latest user note: {{.UserNote}}

Completed iterations: {{.HistoryLen}}
{{.HistorySummary}}
Mix exploration (new directions) and exploitation (refinements of the best instruction so far). For each candidate give a short rationale.

Respond with JSON only, in exactly this shape:
{"next_candidates": [{"instruct": "...", "type": "explore|exploit", "rationale": "..."}], "global_avoid": ["trait to avoid", ...]}
`))

type promptData struct {
	Count          int
	Language       string
	BestInstruct   string
	UserNote       string
	HistoryLen     int
	HistorySummary string
}

// BuildPrompt renders the generation prompt from a prompt context. Every
// prior iteration appears in the summary, in iteration order, with an
// explicit "None" marker where no best candidate was flagged.
func BuildPrompt(pc models.PromptContext) (string, error) {
	var history strings.Builder
	for _, item := range pc.History {
		best := item.BestCandID
		if best == "" {
			best = noneMarker
		}
		note := item.UserNote
		if note == "" {
			note = noneMarker
		}
		fmt.Fprintf(&history, "- Iter %d: Best was '%s'. Note: %s\n", item.Iter, best, note)
	}

	data := promptData{
		Count:          pc.Count,
		Language:       languageName(pc.Language),
		BestInstruct:   orNone(pc.BestInstruct),
		UserNote:       orNone(pc.UserNote),
		HistoryLen:     len(pc.History),
		HistorySummary: history.String(),
	}

	var b strings.Builder
	if err := promptTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}

	prompt := b.String()
	if est := tokens.EstimateTokens(prompt); est > maxPromptTokens {
		return "", fmt.Errorf("prompt too large: ~%d tokens exceeds budget of %d", est, maxPromptTokens)
	}
	return prompt, nil
}

func languageName(tag string) string {
	switch tag {
	case "zh":
		return "Chinese (Simplified)"
	case "en":
		return "English"
	default:
		if tag == "" {
			return "English"
		}
		return tag
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return noneMarker
	}
	return s
}
