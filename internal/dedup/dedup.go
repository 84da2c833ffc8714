// Package dedup decides whether a freshly generated instruction is a
// near-duplicate of any instruction already seen in a session. Verdicts are
// embedding-based: the candidate is embedded, compared against the session
// corpus by cosine similarity, and rejected when the best match exceeds the
// session's threshold.
//
// A failing embedding backend surfaces as ErrUnavailable, never as a quiet
// "not a duplicate", which would defeat the point of deduplication.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nvandessel/voicesearch/internal/embedder"
	"github.com/nvandessel/voicesearch/internal/vecmath"
	"github.com/nvandessel/voicesearch/internal/vectorindex"
)

// ErrUnavailable reports that the embedding backend could not be reached or
// initialized. Callers choose an explicit policy on it; the engine accepts
// candidates unchecked and logs a warning.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Scorer computes duplicate verdicts. The embedder is an expensive shared
// resource: it is initialized once on first use, guarded against concurrent
// initialization, and reused across sessions.
type Scorer struct {
	factory func() (embedder.Embedder, error)

	once    sync.Once
	emb     embedder.Embedder
	initErr error
}

// NewScorer creates a Scorer whose embedder is built lazily by factory on
// first use.
func NewScorer(factory func() (embedder.Embedder, error)) *Scorer {
	return &Scorer{factory: factory}
}

// NewScorerWithEmbedder creates a Scorer around an already constructed
// embedder. Used by tests and callers that manage the embedder lifecycle
// themselves.
func NewScorerWithEmbedder(e embedder.Embedder) *Scorer {
	s := &Scorer{factory: func() (embedder.Embedder, error) { return e, nil }}
	return s
}

func (s *Scorer) embedder() (embedder.Embedder, error) {
	s.once.Do(func() {
		s.emb, s.initErr = s.factory()
	})
	if s.initErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, s.initErr)
	}
	return s.emb, nil
}

// IsDuplicate reports whether text is more similar than threshold to any
// item in history. An empty history is never a duplicate.
func (s *Scorer) IsDuplicate(ctx context.Context, text string, history []string, threshold float64) (bool, error) {
	if len(history) == 0 {
		return false, nil
	}

	emb, err := s.embedder()
	if err != nil {
		return false, err
	}

	query, err := emb.Embed(ctx, text)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	vecs, err := emb.EmbedBatch(ctx, history)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var maxScore float64
	for _, vec := range vecs {
		if score := vecmath.CosineSimilarity(query, vec); score > maxScore {
			maxScore = score
		}
	}
	return maxScore > threshold, nil
}

// Verdict is the outcome of checking one candidate against a corpus.
type Verdict struct {
	// Duplicate is true when MaxScore exceeds the checked threshold.
	Duplicate bool

	// MaxScore is the highest similarity found, 0 for an empty corpus.
	MaxScore float64

	// NearestID identifies the most similar prior candidate, "" if none.
	NearestID string

	vector []float32
}

// Corpus is the incrementally built dedup corpus for one session: every
// accepted instruction's embedding, keyed by candidate ID. Accepted
// candidates join the corpus immediately, so a single batch cannot be
// self-duplicative.
type Corpus struct {
	scorer *Scorer
	index  vectorindex.VectorIndex
}

// NewCorpus creates an empty corpus backed by a tiered vector index.
func (s *Scorer) NewCorpus() *Corpus {
	return &Corpus{
		scorer: s,
		index:  vectorindex.NewTieredIndex(vectorindex.TieredConfig{}),
	}
}

// Len returns the number of instructions in the corpus.
func (c *Corpus) Len() int {
	return c.index.Len()
}

// Check embeds text and compares it against the corpus. The returned
// Verdict carries the embedding so that Accept does not embed again.
func (c *Corpus) Check(ctx context.Context, text string, threshold float64) (*Verdict, error) {
	emb, err := c.scorer.embedder()
	if err != nil {
		return nil, err
	}

	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	v := &Verdict{vector: vec}
	if c.index.Len() == 0 {
		return v, nil
	}

	results, err := c.index.Search(ctx, vec, 1)
	if err != nil {
		return nil, fmt.Errorf("corpus search: %w", err)
	}
	if len(results) > 0 {
		v.MaxScore = results[0].Score
		v.NearestID = results[0].CandID
		v.Duplicate = v.MaxScore > threshold
	}
	return v, nil
}

// Accept adds the checked candidate's embedding to the corpus under candID.
func (c *Corpus) Accept(ctx context.Context, candID string, v *Verdict) error {
	if v == nil || v.vector == nil {
		return fmt.Errorf("accept requires a verdict from Check")
	}
	return c.index.Add(ctx, candID, v.vector)
}

// Seed embeds and adds prior instructions to the corpus, e.g. when
// rebuilding the corpus for an existing session. Texts are keyed by their
// candidate IDs; both slices must have equal length.
func (c *Corpus) Seed(ctx context.Context, candIDs, texts []string) error {
	if len(candIDs) != len(texts) {
		return fmt.Errorf("seed: %d ids for %d texts", len(candIDs), len(texts))
	}
	if len(texts) == 0 {
		return nil
	}

	emb, err := c.scorer.embedder()
	if err != nil {
		return err
	}

	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for i, vec := range vecs {
		if err := c.index.Add(ctx, candIDs[i], vec); err != nil {
			return fmt.Errorf("seeding corpus: %w", err)
		}
	}
	return nil
}
