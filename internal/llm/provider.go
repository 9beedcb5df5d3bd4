package llm

import (
	"context"
	"log/slog"
	"time"
)

// Provider abstracts an LLM provider (OpenAI, Anthropic, Ollama).
// A Provider is built per call from an organization's credential and is
// discarded afterwards, so decrypted keys never outlive a request.
type Provider interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
	// ListModels is the cheapest authenticated round trip each provider offers.
	ListModels(ctx context.Context) ([]string, error)
	Name() string
}

// Factory builds a Provider bound to one credential.
type Factory func(cred Credential) (Provider, error)

// Credential is a decrypted provider key.
type Credential struct {
	Provider string
	APIKey   string
}

// LogValue keeps the raw key out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(slog.String("provider", c.Provider))
}

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is the input for chat completions.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse is the output from chat completions.
type ChatResponse struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Content      string  `json:"content"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMs    int64   `json:"latency_ms"`
}

// EmbeddingRequest is the input for embedding generation.
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingResponse is the output from embedding generation.
type EmbeddingResponse struct {
	Provider   string      `json:"provider"`
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Tokens     int         `json:"tokens"`
	CostUSD    float64     `json:"cost_usd"`
}

// UsageRecord tracks a single LLM API call for cost tracking.
type UsageRecord struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	LatencyMs    int64
	Endpoint     string
	Timestamp    time.Time
}

// UsageRecorder persists UsageRecords. Implementations read the tenant
// from ctx.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec UsageRecord)
}
