package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/config"
)

// NewClient builds the tiered cognition client from configuration. Both tiers
// share one SDK client and one rate limiter.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set GEMINI_API_KEY or llm.api_key)")
	}

	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return newTieredClient(sdk.Models, cfg, logger)
}

func newTieredClient(models contentGenerator, cfg config.LLMConfig, logger *zap.Logger) (*LLMRouter, error) {
	limiter := NewLimiter(cfg.RequestsPerMinute)

	fast, err := NewGeminiClient(models, cfg.Model, cfg, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}
	powerfulModel := cfg.PowerfulModel
	if powerfulModel == "" {
		powerfulModel = cfg.Model
	}
	powerful, err := NewGeminiClient(models, powerfulModel, cfg, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful)
}
