package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mikepea/lure/pkg/lure/config"
)

// Generator sends one instruction + document pair to a text-generation
// service and returns the raw text it produced.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// NewGenerator returns the backend named by cfg.Provider.
func NewGenerator(ctx context.Context, cfg config.AnnotationConfig, logger *zap.Logger) (Generator, error) {
	switch cfg.Provider {
	case "gemini":
		g, err := NewGeminiGenerator(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "anthropic", "":
		if cfg.APIKey == "" {
			logger.Warn("annotation API key is empty; annotation calls will fail")
		}
		return NewAnthropicGenerator(cfg, nil, logger), nil
	default:
		return nil, fmt.Errorf("unsupported annotation provider %q", cfg.Provider)
	}
}

const anthropicVersion = "2023-06-01"

// AnthropicGenerator talks to the Anthropic messages API.
type AnthropicGenerator struct {
	url        string
	apiKey     string
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAnthropicGenerator builds a generator from cfg. A nil httpClient gets one
// bounded by cfg.Timeout.
func NewAnthropicGenerator(cfg config.AnnotationConfig, httpClient *http.Client, logger *zap.Logger) *AnthropicGenerator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &AnthropicGenerator{
		url:        cfg.APIURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		httpClient: httpClient,
		logger:     logger,
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// errPermanent marks failures that retrying cannot fix.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// Generate posts a single user message and returns content[0].text.
func (g *AnthropicGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	return withRetries(ctx, g.maxRetries, g.retryDelay, g.logger, func() (string, error) {
		return g.send(ctx, body)
	})
}

func (g *AnthropicGenerator) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", errPermanent{fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("annotation request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read annotation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("annotation service returned HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", err
		}
		return "", errPermanent{err}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", errPermanent{fmt.Errorf("failed to decode annotation response: %w", err)}
	}
	if len(parsed.Content) == 0 || parsed.Content[0].Text == "" {
		return "", errPermanent{errors.New("unexpected annotation response format: missing content[0].text")}
	}
	return parsed.Content[0].Text, nil
}

// withRetries runs call up to 1+maxRetries times, sleeping delay between
// attempts. Permanent errors and context cancellation stop immediately.
func withRetries(ctx context.Context, maxRetries int, delay time.Duration, logger *zap.Logger, call func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying annotation request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", maxRetries),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := call()
		if err == nil {
			return text, nil
		}
		lastErr = err

		var perm errPermanent
		if errors.As(err, &perm) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
