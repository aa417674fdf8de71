// Package providers builds the configured vision model.
package providers

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/llm/anthropic"
	"github.com/joseph-ayodele/docextract/internal/llm/gemini"
	"github.com/joseph-ayodele/docextract/internal/llm/openai"
)

func New(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger) (llm.VisionModel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, logger), nil
	case "azure":
		return openai.NewAzureClient(openai.Config{
			APIKey:          cfg.Azure.APIKey,
			Model:           cfg.Azure.Deployment,
			Temperature:     cfg.Temperature,
			MaxTokens:       cfg.MaxTokens,
			AzureEndpoint:   cfg.Azure.Endpoint,
			AzureAPIVersion: cfg.Azure.APIVersion,
		}, logger), nil
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.Anthropic.APIKey,
			Model:       cfg.Anthropic.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, logger), nil
	case "gemini":
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, logger)
	default:
		return nil, common.ConfigErrorf("unknown LLM_PROVIDER %q", cfg.Provider)
	}
}
