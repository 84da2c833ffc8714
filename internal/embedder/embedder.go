// Package embedder turns instruction text into dense vectors for the
// similarity scorer. The embedding representation is pluggable: a remote
// embeddings API for real runs, a deterministic local embedder when no
// network or key is available, and a mock for tests.
package embedder

import "context"

// Embedder computes dense vector embeddings for text.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimensionality.
	Dimension() int
}
