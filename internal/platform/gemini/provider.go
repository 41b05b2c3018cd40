package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/gradeflow/internal/config"
	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"google.golang.org/genai"
)

// ProviderName identifies this adapter in completions and provenance.
const ProviderName = "gemini"

// contentGenerator is the subset of *genai.Models the adapter uses.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Provider implements generation.Provider using Gemini.
type Provider struct {
	models       contentGenerator
	defaultModel string
	logger       *slog.Logger
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider creates a Provider with a Gemini API client.
func NewProvider(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Provider, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newProvider(client.Models, cfg.ModelName, logger), nil
}

func newProvider(models contentGenerator, defaultModel string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		models:       models,
		defaultModel: defaultModel,
		logger:       logger.With("component", "gemini_provider"),
	}
}

func validateConfig(cfg config.LLMConfig) error {
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	return nil
}

// Complete sends one request to Gemini.
func (p *Provider) Complete(ctx context.Context, req generation.Request) (*generation.Completion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	log := logger.FromContextOrDefault(ctx, p.logger)
	start := time.Now()

	resp, err := p.models.GenerateContent(ctx, model, buildContents(req), buildConfig(req))
	if err != nil {
		log.WarnContext(ctx, "gemini call failed",
			"model", model,
			"prompt_id", req.PromptID,
			"error", err)
		return nil, translateError(err)
	}

	completion, err := toCompletion(resp, model)
	if err != nil {
		return nil, err
	}

	log.DebugContext(ctx, "gemini call completed",
		"model", model,
		"prompt_id", req.PromptID,
		"input_tokens", completion.InputTokens,
		"output_tokens", completion.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds())
	return completion, nil
}

func buildContents(req generation.Request) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func buildConfig(req generation.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func toCompletion(resp *genai.GenerateContentResponse, model string) (*generation.Completion, error) {
	if resp == nil {
		return nil, &generation.ProviderError{Provider: ProviderName, Err: errors.New("nil response")}
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, &generation.ProviderError{
			Provider: ProviderName,
			Err:      fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, fb.BlockReason),
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, &generation.ProviderError{
			Provider: ProviderName,
			Err:      fmt.Errorf("%w: response blocked", generation.ErrContentBlocked),
		}
	}

	completion := &generation.Completion{
		Content:  resp.Text(),
		Provider: ProviderName,
		Model:    model,
	}
	if resp.ModelVersion != "" {
		completion.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		completion.InputTokens = int(u.PromptTokenCount)
		completion.OutputTokens = int(u.CandidatesTokenCount)
	}
	return completion, nil
}

// translateError maps SDK errors to *generation.ProviderError. Context
// errors pass through unchanged.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &generation.ProviderError{
			Provider:   ProviderName,
			Status:     apiErr.Code,
			RetryAfter: retryDelay(apiErr.Details),
			Err:        err,
		}
	}

	return &generation.ProviderError{
		Provider: ProviderName,
		Status:   generation.StatusFromText(err.Error()),
		Err:      err,
	}
}

// retryDelay extracts the google.rpc.RetryInfo delay from API error details.
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		if t, _ := d["@type"].(string); t != "type.googleapis.com/google.rpc.RetryInfo" {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if delay, err := time.ParseDuration(raw); err == nil && delay > 0 {
			return delay
		}
	}
	return 0
}
