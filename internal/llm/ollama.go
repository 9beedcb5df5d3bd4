package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

type OllamaProvider struct {
	client *ollama.Client
}

// NewOllamaProvider targets a self-hosted Ollama server. apiKey is optional
// and sent as a bearer token for servers behind an authenticating proxy.
func NewOllamaProvider(baseURL, apiKey string, hc *http.Client) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	if apiKey != "" {
		authed := *hc
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		authed.Transport = bearerTransport{token: apiKey, base: base}
		hc = &authed
	}
	return &OllamaProvider{client: ollama.NewClient(u, hc)}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	msgs := make([]ollama.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	oReq := &ollama.ChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   &stream,
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		oReq.Options = map[string]any{}
		if req.Temperature > 0 {
			oReq.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			oReq.Options["num_predict"] = req.MaxTokens
		}
	}

	var final *ollama.ChatResponse
	err := p.client.Chat(ctx, oReq, func(resp ollama.ChatResponse) error {
		final = &resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if final == nil {
		return nil, fmt.Errorf("ollama chat: %w", errEmptyResponse)
	}

	return &ChatResponse{
		Provider:     "ollama",
		Model:        req.Model,
		Content:      final.Message.Content,
		InputTokens:  final.PromptEvalCount,
		OutputTokens: final.EvalCount,
		TotalTokens:  final.PromptEvalCount + final.EvalCount,
		CostUSD:      0, // local models are free
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	resp, err := p.client.Embed(ctx, &ollama.EmbedRequest{
		Model: model,
		Input: req.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	return &EmbeddingResponse{
		Provider:   "ollama",
		Model:      model,
		Embeddings: resp.Embeddings,
		Tokens:     resp.PromptEvalCount,
	}, nil
}

func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama models: %w", err)
	}
	names := make([]string, len(resp.Models))
	for i, m := range resp.Models {
		names[i] = m.Name
	}
	return names, nil
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(r)
}
