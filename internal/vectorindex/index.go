// Package vectorindex provides nearest neighbor search over instruction
// embeddings. A session's dedup corpus lives in one index, keyed by
// candidate identifier, and is queried for the most similar prior
// instruction whenever a freshly generated candidate arrives.
package vectorindex

import "context"

// SearchResult pairs a candidate ID with its cosine similarity score.
type SearchResult struct {
	CandID string
	Score  float64 // cosine similarity in [-1, 1], higher = more similar
}

// VectorIndex provides nearest neighbor search over embeddings.
// Implementations must be safe for concurrent use from multiple goroutines.
type VectorIndex interface {
	// Add inserts or updates the vector for the given candidate ID.
	// If the ID already exists, the vector is replaced.
	Add(ctx context.Context, candID string, vector []float32) error

	// Search returns the topK most similar vectors to query, sorted by
	// descending score. Returns fewer than topK results if the index
	// contains fewer vectors.
	Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error)

	// Len returns the number of vectors currently in the index.
	Len() int

	// Close releases resources.
	Close() error
}
