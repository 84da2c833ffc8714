package embedder

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultEmbeddingModel balances quality and latency for short
	// voice-design instructions.
	DefaultEmbeddingModel = "text-embedding-3-small"

	defaultEmbeddingDim = 1536
)

// OpenAIEmbedder computes embeddings through an OpenAI-compatible
// embeddings endpoint.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

// OpenAIConfig configures the remote embedder.
type OpenAIConfig struct {
	// APIKey authenticates against the endpoint.
	APIKey string

	// BaseURL overrides the API endpoint, for OpenAI-compatible gateways.
	BaseURL string

	// Model is the embedding model name. Default: DefaultEmbeddingModel.
	Model string

	// Dimension is the embedding dimensionality of Model. Default: 1536.
	Dimension int
}

// NewOpenAIEmbedder creates a remote embedder. No request is made until the
// first Embed call.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedder: API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultEmbeddingDim
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Dimension returns the embedding dimensionality.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for texts, in order. One round trip per batch.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		if int(d.Index) < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Verify OpenAIEmbedder satisfies the Embedder interface at compile time.
var _ Embedder = (*OpenAIEmbedder)(nil)
