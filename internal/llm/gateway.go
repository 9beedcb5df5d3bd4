package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/config"
)

// Client routes calls to the provider named by each credential, retrying
// transient failures with exponential backoff. It holds no credentials.
type Client struct {
	cfg     config.LLMConfig
	factory Factory
	limiter *rate.Limiter
	usage   UsageRecorder
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithUsageRecorder(r UsageRecorder) Option {
	return func(c *Client) { c.usage = r }
}

func WithFactory(f Factory) Option {
	return func(c *Client) { c.factory = f }
}

func NewClient(cfg config.LLMConfig, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	c := &Client{
		cfg:     cfg,
		factory: NewFactory(cfg, &http.Client{}),
		limiter: rate.NewLimiter(limit, max(cfg.RateLimitBurst, 1)),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFactory builds providers for the three supported backends, sharing hc
// so connections are pooled across calls.
func NewFactory(cfg config.LLMConfig, hc *http.Client) Factory {
	return func(cred Credential) (Provider, error) {
		switch strings.ToLower(cred.Provider) {
		case "openai":
			if cred.APIKey == "" {
				return nil, apperr.Credential("openai key is empty")
			}
			return NewOpenAIProvider(cred.APIKey, cfg.OpenAIBaseURL, hc), nil
		case "anthropic":
			if cred.APIKey == "" {
				return nil, apperr.Credential("anthropic key is empty")
			}
			return NewAnthropicProvider(cred.APIKey, cfg.AnthropicURL, hc), nil
		case "ollama":
			return NewOllamaProvider(cfg.OllamaURL, cred.APIKey, hc)
		default:
			return nil, apperr.Credential("unsupported provider %q", cred.Provider)
		}
	}
}

// ChatModel returns the configured chat model for a provider.
func (c *Client) ChatModel(provider string) string {
	return c.cfg.ChatModels[strings.ToLower(provider)]
}

// EmbeddingModel returns the configured embedding model for a provider.
func (c *Client) EmbeddingModel(provider string) string {
	if strings.EqualFold(provider, "ollama") {
		return c.cfg.OllamaEmbedding
	}
	return c.cfg.EmbeddingModel
}

// Complete runs one chat completion. An empty completion is a terminal
// provider error.
func (c *Client) Complete(ctx context.Context, cred Credential, messages []Message) (*ChatResponse, error) {
	p, err := c.factory(cred)
	if err != nil {
		return nil, err
	}

	req := ChatRequest{
		Model:       c.ChatModel(cred.Provider),
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	var resp *ChatResponse
	err = c.withRetry(ctx, cred.Provider, "chat", func(ctx context.Context) error {
		r, err := p.ChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if strings.TrimSpace(r.Content) == "" {
			return fmt.Errorf("chat completion: %w", errEmptyResponse)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, UsageRecord{
		Provider:     resp.Provider,
		Model:        req.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.TotalTokens,
		CostUSD:      resp.CostUSD,
		LatencyMs:    resp.LatencyMs,
		Endpoint:     "chat",
	})
	return resp, nil
}

// Embed embeds texts in a single provider call. Batching is the caller's job.
func (c *Client) Embed(ctx context.Context, cred Credential, texts []string) (*EmbeddingResponse, error) {
	if len(texts) == 0 {
		return &EmbeddingResponse{Provider: cred.Provider}, nil
	}
	p, err := c.factory(cred)
	if err != nil {
		return nil, err
	}

	req := EmbeddingRequest{Model: c.EmbeddingModel(cred.Provider), Input: texts}
	start := time.Now()

	var resp *EmbeddingResponse
	err = c.withRetry(ctx, cred.Provider, "embedding", func(ctx context.Context) error {
		r, err := p.GenerateEmbedding(ctx, req)
		if err != nil {
			return err
		}
		if err := checkEmbeddings(r, len(texts)); err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, UsageRecord{
		Provider:    resp.Provider,
		Model:       resp.Model,
		InputTokens: resp.Tokens,
		TotalTokens: resp.Tokens,
		CostUSD:     resp.CostUSD,
		LatencyMs:   time.Since(start).Milliseconds(),
		Endpoint:    "embedding",
	})
	return resp, nil
}

// TestCredential performs one models-list round trip. A rejected key yields
// false with a diagnostic; it never returns an error.
func (c *Client) TestCredential(ctx context.Context, cred Credential) (bool, string) {
	p, err := c.factory(cred)
	if err != nil {
		return false, apperr.Message(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	if _, err := p.ListModels(ctx); err != nil {
		classified := classify(cred.Provider, err)
		slog.Debug("credential test failed", "provider", cred.Provider, "error", err)
		return false, apperr.Message(classified)
	}
	return true, "API key is valid"
}

func (c *Client) withRetry(ctx context.Context, provider, endpoint string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return err
			}
			slog.Debug("retrying LLM call", "provider", provider, "endpoint", endpoint, "attempt", attempt)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout())
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = classify(provider, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !apperr.Retryable(lastErr) {
			return lastErr
		}
	}
	slog.Warn("LLM retries exhausted", "provider", provider, "endpoint", endpoint, "error", lastErr)
	return lastErr
}

// backoff is base*2^(attempt-1), capped at BackoffMax.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << (attempt - 1)
	if c.cfg.BackoffMax > 0 && (d > c.cfg.BackoffMax || d <= 0) {
		return c.cfg.BackoffMax
	}
	return d
}

func (c *Client) timeout() time.Duration {
	if c.cfg.RequestTimeout > 0 {
		return c.cfg.RequestTimeout
	}
	return 60 * time.Second
}

func (c *Client) record(ctx context.Context, rec UsageRecord) {
	if c.usage == nil {
		return
	}
	rec.Timestamp = time.Now()
	c.usage.RecordUsage(ctx, rec)
}

func checkEmbeddings(r *EmbeddingResponse, want int) error {
	if r == nil || len(r.Embeddings) != want {
		return fmt.Errorf("embedding count mismatch: %w", errMalformedResponse)
	}
	dim := len(r.Embeddings[0])
	for _, e := range r.Embeddings {
		if len(e) == 0 || len(e) != dim {
			return fmt.Errorf("embedding dimensions: %w", errMalformedResponse)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
