// Package llm is the gateway to the upstream chat-completion provider. All
// provider and deployment variation lives here; callers see four
// capabilities: JSON completion, similarity scoring, toxicity scoring, and
// consistency scoring. Scoring calls never fail outward, they degrade to
// safe fallback scores and log.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/openai/openai-go/option"

	"nexuseval/internal/config"
)

// Client abstracts chat completion so evaluators can be tested against fakes
type Client interface {
	// Generate produces a text response for a system + user prompt pair
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)

	// GetModelName returns the configured model name with provider prefix
	GetModelName() string
}

// client implements Client on top of GenKit
type client struct {
	app   *genkit.Genkit
	model string
}

// NewClient initializes GenKit with the configured provider. Only OpenAI and
// OpenAI-compatible endpoints (via ai_base_url) are supported.
func NewClient(cfg *config.Config) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.AIAPIKey == "" {
		return nil, fmt.Errorf("ai_api_key is required (set NEXUSEVAL_AI_API_KEY)")
	}

	httpClient := &http.Client{
		Timeout: 60 * time.Second,
	}

	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if cfg.AIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.AIBaseURL))
	}

	plugin := &openai.OpenAI{
		APIKey: cfg.AIAPIKey,
		Opts:   opts,
	}
	app := genkit.Init(context.Background(), genkit.WithPlugins(plugin))

	model := cfg.AIModel
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &client{
		app:   app,
		model: fmt.Sprintf("openai/%s", model),
	}, nil
}

func (c *client) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	genOpts := []ai.GenerateOption{
		ai.WithPrompt(userPrompt),
		ai.WithModelName(c.model),
	}
	if systemPrompt != "" {
		genOpts = append(genOpts, ai.WithSystem(systemPrompt))
	}
	cfg := &ai.GenerationCommonConfig{Temperature: temperature}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = maxTokens
	}
	genOpts = append(genOpts, ai.WithConfig(cfg))

	response, err := genkit.Generate(ctx, c.app, genOpts...)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return response.Text(), nil
}

func (c *client) GetModelName() string {
	return c.model
}
