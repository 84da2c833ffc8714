package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalDimension is the dimensionality of LocalEmbedder vectors.
const LocalDimension = 256

// LocalEmbedder computes deterministic embeddings from hashed token and
// character n-gram features, with no model download and no network. It is
// far weaker than a real embedding model at paraphrase detection, but it is
// stable, fast, and catches the lightly-reworded near-duplicates the
// generator actually produces. Used when no embeddings API is configured,
// and in tests.
type LocalEmbedder struct {
	dimension int
}

// NewLocalEmbedder creates a LocalEmbedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{dimension: LocalDimension}
}

// Dimension returns the embedding dimensionality.
func (l *LocalEmbedder) Dimension() int {
	return l.dimension
}

// Embed returns the embedding for a single text.
func (l *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return l.embed(text), nil
}

// EmbedBatch returns embeddings for texts, in order.
func (l *LocalEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = l.embed(text)
	}
	return out, nil
}

func (l *LocalEmbedder) embed(text string) []float32 {
	vec := make([]float32, l.dimension)

	tokens := tokenize(text)
	trigrams := ngrams(text, 3)
	bigrams := ngrams(text, 2)

	l.addFeatures(vec, tokens, 0.45)
	l.addFeatures(vec, trigrams, 0.35)
	l.addFeatures(vec, bigrams, 0.20)

	normalize(vec)
	return vec
}

// addFeatures spreads each feature over four hashed positions with hashed
// signs, so distinct features rarely collide on every position.
func (l *LocalEmbedder) addFeatures(vec []float32, features []string, weight float64) {
	if len(features) == 0 {
		return
	}

	w := float32(weight / math.Sqrt(float64(len(features))))

	for _, f := range features {
		h := fnvHash64(f)
		for i := range 4 {
			idx := int((h >> (i * 13)) % uint64(len(vec)))
			sign := float32(1)
			if (h>>(i*7))&1 == 1 {
				sign = -1
			}
			vec[idx] += w * sign
		}
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func ngrams(text string, n int) []string {
	runes := []rune(strings.ToLower(text))
	if len(runes) < n {
		return nil
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}

func fnvHash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}

// Verify LocalEmbedder satisfies the Embedder interface at compile time.
var _ Embedder = (*LocalEmbedder)(nil)
