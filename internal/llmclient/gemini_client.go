// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/config"
)

// contentGenerator is the slice of the genai SDK the client depends on.
// *genai.Models satisfies it.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient on top of the Google genai SDK.
// Calls are rate limited and transient failures are retried with exponential backoff.
type GeminiClient struct {
	models  contentGenerator
	model   string
	cfg     config.LLMConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient wraps a generator for a single model. The limiter may be
// shared between clients so the process-wide request budget holds.
func NewGeminiClient(models contentGenerator, model string, cfg config.LLMConfig, limiter *rate.Limiter, logger *zap.Logger) (*GeminiClient, error) {
	if models == nil {
		return nil, fmt.Errorf("gemini content generator is required")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}
	if limiter == nil {
		limiter = NewLimiter(cfg.RequestsPerMinute)
	}
	return &GeminiClient{
		models:  models,
		model:   model,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.Named("llm_client.gemini").With(zap.String("model", model)),
	}, nil
}

// NewLimiter returns a token bucket allowing rpm requests per minute with no burst.
func NewLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// Generate sends the prompt and any attached images and returns the text of the
// first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := c.buildContents(req)
	genConfig := c.buildConfig(req)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxRetryElapsed
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 2 * time.Minute
	}
	b.MaxInterval = 30 * time.Second

	var text string
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter wait aborted: %w", err))
		}

		callCtx := ctx
		if c.cfg.APITimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.APITimeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := c.models.GenerateContent(callCtx, c.model, contents, genConfig)
		if err != nil {
			return c.classifyError(err)
		}

		out, err := c.extractText(resp)
		if err != nil {
			return err
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start))}
		if usage := resp.UsageMetadata; usage != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", usage.PromptTokenCount),
				zap.Int32("completion_tokens", usage.CandidatesTokenCount),
				zap.Int32("total_tokens", usage.TotalTokenCount),
			)
		}
		c.logger.Debug("LLM generation complete", fields...)
		text = out
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Transient LLM failure, retrying", zap.Error(err), zap.Duration("backoff", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return "", err
	}
	return text, nil
}

func (c *GeminiClient) buildContents(req schemas.GenerationRequest) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		mime := img.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, mime))
	}
	parts = append(parts, genai.NewPartFromText(req.UserPrompt))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Options.Temperature)
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.TopP > 0 {
		gc.TopP = genai.Ptr(float32(req.Options.TopP))
	}
	if req.Options.TopK > 0 {
		gc.TopK = genai.Ptr(float32(req.Options.TopK))
	}
	if c.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

func (c *GeminiClient) extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
	}
	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
		return "", backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
	}
	text := resp.Text()
	if text == "" {
		// Empty content without a block reason is usually transient.
		return "", fmt.Errorf("gemini API returned empty content (reason: %s)", candidate.FinishReason)
	}
	return text, nil
}

// classifyError marks non-retryable API failures as permanent.
func (c *GeminiClient) classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return c.classifyStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return c.classifyStatus(apiErrPtr.Code, err)
	}
	c.logger.Warn("Network error during LLM request, retrying", zap.Error(err))
	return err
}

func (c *GeminiClient) classifyStatus(code int, err error) error {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusGatewayTimeout:
		return err
	default:
		c.logger.Error("Gemini API returned a permanent error", zap.Int("status", code), zap.Error(err))
		return backoff.Permanent(err)
	}
}
