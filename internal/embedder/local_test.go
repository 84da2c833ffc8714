package embedder

import (
	"context"
	"testing"

	"github.com/nvandessel/voicesearch/internal/vecmath"
)

func TestLocalEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder()

	a, err := e.Embed(ctx, "a warm, slightly husky female narrator voice")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := e.Embed(ctx, "a warm, slightly husky female narrator voice")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(a) != LocalDimension {
		t.Fatalf("Embed() dimension = %d, want %d", len(a), LocalDimension)
	}
	if sim := vecmath.CosineSimilarity(a, b); sim < 0.999999 {
		t.Errorf("identical text similarity = %v, want 1.0", sim)
	}
}

func TestLocalEmbedder_DistinguishesTexts(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder()

	base, _ := e.Embed(ctx, "a warm female narrator with a gentle tone")
	near, _ := e.Embed(ctx, "a warm female narrator with a gentle calm tone")
	far, _ := e.Embed(ctx, "harsh robotic male announcer, fast and loud")

	simNear := vecmath.CosineSimilarity(base, near)
	simFar := vecmath.CosineSimilarity(base, far)

	if simNear <= simFar {
		t.Errorf("near-duplicate similarity %v not above unrelated similarity %v", simNear, simFar)
	}
}

func TestLocalEmbedder_EmbedBatchOrder(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder()

	texts := []string{"first voice", "second voice", "third voice"}
	batch, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("EmbedBatch() returned %d vectors, want %d", len(batch), len(texts))
	}

	for i, text := range texts {
		single, _ := e.Embed(ctx, text)
		if sim := vecmath.CosineSimilarity(batch[i], single); sim < 0.999999 {
			t.Errorf("batch[%d] differs from single embed of %q (sim %v)", i, text, sim)
		}
	}
}

func TestLocalEmbedder_EmptyText(t *testing.T) {
	e := NewLocalEmbedder()
	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed(\"\") error = %v", err)
	}
	if len(vec) != LocalDimension {
		t.Errorf("Embed(\"\") dimension = %d, want %d", len(vec), LocalDimension)
	}
}
