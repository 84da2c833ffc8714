package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/nvandessel/voicesearch/internal/models"
)

const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "qwen2.5-72b-instruct"

	systemPrompt = "You are a helpful assistant that outputs JSON only."

	maxCompletionTokens = 2000
	temperature         = 0.7
)

// OpenAIGenerator produces candidates through an OpenAI-compatible chat
// completions endpoint.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// OpenAIConfig configures the generator client.
type OpenAIConfig struct {
	// APIKey authenticates against the endpoint.
	APIKey string

	// BaseURL overrides the API endpoint, for OpenAI-compatible gateways.
	BaseURL string

	// Model is the chat model name. Default: DefaultModel.
	Model string
}

// NewOpenAIGenerator creates a generator. No request is made until Generate.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generator: API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Generate asks the model for the next round of candidates. The model is
// instructed to emit JSON; markdown code fences around the payload are
// tolerated, anything else unparseable is an error.
func (g *OpenAIGenerator) Generate(ctx context.Context, pc models.PromptContext) (*Response, error) {
	prompt, err := BuildPrompt(pc)
	if err != nil {
		return nil, err
	}

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(maxCompletionTokens),
		Temperature: openai.Float(temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return ParseResponse(completion.Choices[0].Message.Content)
}

// ParseResponse decodes the generator's JSON payload, stripping a markdown
// code fence if the model wrapped its output in one.
func ParseResponse(content string) (*Response, error) {
	payload := stripFence(content)

	var resp Response
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("unparseable generator output: %w", err)
	}
	for i, item := range resp.NextCandidates {
		if strings.TrimSpace(item.Instruct) == "" {
			return nil, fmt.Errorf("generator candidate %d has empty instruct", i)
		}
	}
	return &resp, nil
}

func stripFence(content string) string {
	s := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	} else {
		return s
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Verify OpenAIGenerator satisfies the Generator interface at compile time.
var _ Generator = (*OpenAIGenerator)(nil)
