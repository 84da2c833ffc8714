package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nvandessel/voicesearch/internal/dedup"
	"github.com/nvandessel/voicesearch/internal/llm"
	"github.com/nvandessel/voicesearch/internal/models"
	"github.com/nvandessel/voicesearch/internal/render"
	"github.com/nvandessel/voicesearch/internal/sanitize"
)

// fallbackInstruct is rendered when a round produces no usable candidate and
// the session has no best yet.
const fallbackInstruct = "A clear, natural voice with a friendly tone and moderate pacing."

// buildIteration generates, deduplicates, and renders one round of
// candidates. Generation failures degrade to a single fallback candidate
// rather than failing the round; an unavailable duplicate scorer lets
// candidates through unchecked with a warning.
func (e *Engine) buildIteration(ctx context.Context, session *models.Session, iterNum int, pc models.PromptContext) (*models.Iteration, error) {
	resp := e.generate(ctx, session.SessionID, pc)

	items, err := e.filterDuplicates(ctx, session, iterNum, pc, resp.NextCandidates)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		e.logger.Warn("round produced no usable candidates, falling back",
			"session_id", session.SessionID, "iter", iterNum)
		items = []llm.CandidateItem{fallbackItem(pc)}
	}

	candidates := make([]*models.Candidate, 0, len(items))
	for pos, item := range items {
		id, err := models.CandidateID(iterNum, pos)
		if err != nil {
			return nil, fmt.Errorf("assigning candidate id: %w", err)
		}
		candidates = append(candidates, &models.Candidate{
			CandID:    id,
			Type:      normalizeType(item.Type),
			Instruct:  item.Instruct,
			Rationale: item.Rationale,
		})
	}

	e.renderBatch(ctx, session, iterNum, candidates, resp.GlobalAvoid)

	return &models.Iteration{Iter: iterNum, Candidates: candidates}, nil
}

// generate calls the text generator, degrading to a single exploit-style
// fallback candidate when it fails or returns nothing.
func (e *Engine) generate(ctx context.Context, sessionID string, pc models.PromptContext) *llm.Response {
	resp, err := e.gen.Generate(ctx, pc)
	if err != nil {
		e.logger.Warn("candidate generation failed, using fallback",
			"session_id", sessionID, "error", err)
		return &llm.Response{NextCandidates: []llm.CandidateItem{fallbackItem(pc)}}
	}
	if len(resp.NextCandidates) == 0 {
		e.logger.Warn("generator returned no candidates, using fallback",
			"session_id", sessionID)
		return &llm.Response{NextCandidates: []llm.CandidateItem{fallbackItem(pc)}, GlobalAvoid: resp.GlobalAvoid}
	}
	if len(resp.NextCandidates) < pc.Count {
		e.logger.Warn("generator returned a short batch",
			"session_id", sessionID, "want", pc.Count, "got", len(resp.NextCandidates))
	}
	return resp
}

// fallbackItem produces the degraded single candidate: a refinement of the
// current best when one exists, a neutral baseline otherwise.
func fallbackItem(pc models.PromptContext) llm.CandidateItem {
	instruct := pc.BestInstruct
	rationale := "Retrying the strongest instruction so far after a generation failure."
	if instruct == "" {
		instruct = fallbackInstruct
		rationale = "Neutral baseline after a generation failure."
	}
	return llm.CandidateItem{
		Instruct:  instruct,
		Type:      models.CategoryExploit,
		Rationale: rationale,
	}
}

// filterDuplicates keeps at most pc.Count items that are not near-duplicates
// of anything the session has already produced. Duplicate slots get one
// replacement request to the generator; replacements that are still
// duplicates are dropped, shortening the round. If the scorer is
// unavailable, items pass through unchecked.
func (e *Engine) filterDuplicates(ctx context.Context, session *models.Session, iterNum int, pc models.PromptContext, items []llm.CandidateItem) ([]llm.CandidateItem, error) {
	corpus := e.scorer.NewCorpus()
	checking := true

	priorIDs, priorTexts := priorInstructions(session)
	if err := corpus.Seed(ctx, priorIDs, priorTexts); err != nil {
		if !errors.Is(err, dedup.ErrUnavailable) {
			return nil, fmt.Errorf("seeding dedup corpus: %w", err)
		}
		e.logger.Warn("duplicate scorer unavailable, accepting candidates unchecked",
			"session_id", session.SessionID, "error", err)
		checking = false
	}

	var accepted []llm.CandidateItem
	dropped := 0
	admit := func(items []llm.CandidateItem) {
		for _, item := range items {
			if len(accepted) >= pc.Count {
				return
			}
			item.Instruct = sanitize.Instruction(item.Instruct)
			if item.Instruct == "" {
				e.logger.Warn("dropping empty candidate instruction",
					"session_id", session.SessionID, "iter", iterNum)
				continue
			}
			if checking {
				verdict, err := corpus.Check(ctx, item.Instruct, session.Settings.DedupThreshold)
				if err != nil {
					e.logger.Warn("duplicate check failed, accepting candidate unchecked",
						"session_id", session.SessionID, "error", err)
					checking = false
				} else if verdict.Duplicate {
					e.logger.Info("rejecting near-duplicate candidate",
						"session_id", session.SessionID,
						"iter", iterNum,
						"nearest", verdict.NearestID,
						"score", verdict.MaxScore)
					dropped++
					continue
				} else {
					id, idErr := models.CandidateID(iterNum, len(accepted))
					if idErr == nil {
						if err := corpus.Accept(ctx, id, verdict); err != nil {
							e.logger.Warn("could not grow dedup corpus",
								"session_id", session.SessionID, "error", err)
						}
					}
				}
			}
			accepted = append(accepted, item)
		}
	}

	admit(items)

	// One replacement round for the slots lost to duplicates. Replacements
	// that are themselves duplicates are dropped for good.
	if dropped > 0 && len(accepted) < pc.Count {
		retry := pc
		retry.Count = pc.Count - len(accepted)
		resp, err := e.gen.Generate(ctx, retry)
		if err != nil {
			e.logger.Warn("replacement generation failed",
				"session_id", session.SessionID, "error", err)
		} else {
			admit(resp.NextCandidates)
		}
	}

	return accepted, nil
}

// priorInstructions lists every candidate ID and instruction the session has
// produced, in generation order.
func priorInstructions(session *models.Session) ([]string, []string) {
	var ids, texts []string
	for _, it := range session.Iterations {
		for _, c := range it.Candidates {
			ids = append(ids, c.CandID)
			texts = append(texts, c.Instruct)
		}
	}
	return ids, texts
}

func normalizeType(t string) string {
	if t == models.CategoryExploit {
		return models.CategoryExploit
	}
	return models.CategoryExplore
}

// renderBatch renders candidate audio with bounded parallelism. A failed
// render keeps whatever placeholder path the renderer returned; the round
// never fails because of audio.
func (e *Engine) renderBatch(ctx context.Context, session *models.Session, iterNum int, candidates []*models.Candidate, globalAvoid []string) {
	suffix := avoidanceSuffix(globalAvoid)

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c *models.Candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			path, err := e.renderer.Render(ctx, render.Request{
				PreviewText: session.Settings.PreviewText,
				Instruct:    c.Instruct + suffix,
				SessionID:   session.SessionID,
				IterNum:     iterNum,
				CandID:      c.CandID,
			})
			if err != nil {
				e.logger.Warn("render failed",
					"session_id", session.SessionID,
					"cand_id", c.CandID,
					"error", err)
			}
			c.AudioPath = path
		}(c)
	}
	wg.Wait()
}

// avoidanceSuffix turns the generator's global avoidance hints into a
// render-time instruction suffix. Never persisted on the candidate.
func avoidanceSuffix(avoid []string) string {
	var traits []string
	for _, a := range avoid {
		if a = strings.TrimSpace(a); a != "" {
			traits = append(traits, a)
		}
	}
	if len(traits) == 0 {
		return ""
	}
	return " Avoid: " + strings.Join(traits, ", ") + "."
}
