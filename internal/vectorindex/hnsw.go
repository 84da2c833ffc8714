//go:build !windows

package vectorindex

import (
	"context"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex performs approximate nearest neighbor search using a Hierarchical
// Navigable Small World graph backed by github.com/coder/hnsw.
// Thread-safe. Worth the build cost once a corpus outgrows exhaustive search,
// e.g. long sessions with a high iteration budget.
//
// A shadow map of all vectors is kept so that replacing an existing ID can
// rebuild the graph; hnsw.Graph.Delete can leave dangling neighbor pointers
// that panic during Search.
type HNSWIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	vectors map[string][]float32
	cfg     HNSWConfig
}

// HNSWConfig holds configuration parameters for HNSWIndex.
type HNSWConfig struct {
	// M is the maximum number of neighbors per node. Default: 16.
	M int

	// EfSearch is the number of candidates considered during search. Default: 100.
	EfSearch int

	// Ml is the level generation factor. Default: 0.25.
	Ml float64
}

func (c *HNSWConfig) withDefaults() HNSWConfig {
	out := *c
	if out.M == 0 {
		out.M = 16
	}
	if out.EfSearch == 0 {
		out.EfSearch = 100
	}
	if out.Ml == 0 {
		out.Ml = 0.25
	}
	return out
}

func newHNSWGraph(cfg HNSWConfig) *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = cfg.Ml
	g.Distance = hnsw.CosineDistance
	return g
}

// NewHNSWIndex creates an empty in-memory HNSWIndex.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	cfg = cfg.withDefaults()
	return &HNSWIndex{
		graph:   newHNSWGraph(cfg),
		vectors: make(map[string][]float32),
		cfg:     cfg,
	}, nil
}

// rebuild constructs a fresh HNSW graph from the shadow map.
// Caller must hold h.mu for writing.
func (h *HNSWIndex) rebuild() {
	g := newHNSWGraph(h.cfg)
	for k, v := range h.vectors {
		g.Add(hnsw.MakeNode(k, v))
	}
	h.graph = g
}

// Add inserts or replaces the vector for the given candidate ID.
// If the ID already exists, the graph is rebuilt to avoid dangling pointers.
func (h *HNSWIndex) Add(_ context.Context, candID string, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cp := make([]float32, len(vector))
	copy(cp, vector)

	_, existed := h.vectors[candID]
	h.vectors[candID] = cp

	if existed {
		h.rebuild()
	} else {
		h.graph.Add(hnsw.MakeNode(candID, cp))
	}

	return nil
}

// Search returns the topK most similar vectors to query, sorted by descending
// score. Score is computed as 1.0 - CosineDistance(query, result).
func (h *HNSWIndex) Search(_ context.Context, query []float32, topK int) ([]SearchResult, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph.Len() == 0 {
		return nil, nil
	}

	nodes := h.graph.Search(query, topK)

	results := make([]SearchResult, 0, len(nodes))
	for _, n := range nodes {
		dist := hnsw.CosineDistance(query, n.Value)
		results = append(results, SearchResult{
			CandID: n.Key,
			Score:  1.0 - float64(dist),
		})
	}

	return results, nil
}

// Len returns the number of vectors in the index.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vectors)
}

// Close releases resources.
func (h *HNSWIndex) Close() error {
	return nil
}

// Verify HNSWIndex satisfies the VectorIndex interface at compile time.
var _ VectorIndex = (*HNSWIndex)(nil)
