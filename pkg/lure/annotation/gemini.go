package annotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mikepea/lure/pkg/lure/config"
)

// GeminiGenerator generates annotations with a Gemini model.
type GeminiGenerator struct {
	client     *genai.Client
	modelName  string
	maxTokens  int32
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, cfg config.AnnotationConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini generator initialized",
		zap.String("model", cfg.Model),
		zap.Int("max_retries", cfg.MaxRetries))

	return &GeminiGenerator{
		client:     client,
		modelName:  cfg.Model,
		maxTokens:  int32(cfg.MaxTokens),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

// Close closes the underlying client
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// Generate runs prompt against the model with system as its instruction.
func (g *GeminiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.2),
		MaxOutputTokens: genai.Ptr(g.maxTokens),
	}

	return withRetries(ctx, g.maxRetries, g.retryDelay, g.logger, func() (string, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		resp, err := model.GenerateContent(callCtx, genai.Text(prompt))
		if err != nil {
			return "", fmt.Errorf("gemini API error: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", errPermanent{errors.New("empty response from gemini")}
		}

		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
		if sb.Len() == 0 {
			return "", errPermanent{errors.New("gemini response contained no text")}
		}
		return sb.String(), nil
	})
}
