package embedder

import (
	"context"
	"sync"
)

// Mock is a test embedder with canned vectors per text and an optional
// injected error. Unknown texts fall back to the local embedder so tests
// only need to pin the vectors they assert on.
type Mock struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
	local   *LocalEmbedder
}

// NewMock creates a Mock embedder.
func NewMock() *Mock {
	return &Mock{
		vectors: make(map[string][]float32),
		local:   NewLocalEmbedder(),
	}
}

// SetVector pins the embedding returned for text.
func (m *Mock) SetVector(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vec
}

// SetError makes every subsequent call fail with err.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many Embed/EmbedBatch calls were made.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Dimension returns the embedding dimensionality.
func (m *Mock) Dimension() int {
	return m.local.Dimension()
}

// Embed returns the pinned or fallback embedding for text.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns pinned or fallback embeddings for texts, in order.
func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.err != nil {
		return nil, m.err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := m.vectors[text]; ok {
			out[i] = vec
			continue
		}
		vec, err := m.local.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Verify Mock satisfies the Embedder interface at compile time.
var _ Embedder = (*Mock)(nil)
