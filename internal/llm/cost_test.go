package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nikhilbhutani/docrag/internal/config"
)

func TestDefaultModelsArePriced(t *testing.T) {
	cfg := config.LLMConfig{
		ChatModels: map[string]string{
			"openai":    "gpt-4o-mini",
			"anthropic": "claude-3-haiku-20240307",
		},
		EmbeddingModel: "text-embedding-3-small",
	}
	for provider, model := range cfg.ChatModels {
		_, ok := PriceFor(model)
		assert.True(t, ok, "%s chat model %s has no price", provider, model)
	}
	_, ok := PriceFor(cfg.EmbeddingModel)
	assert.True(t, ok)
}

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		in, out  int
		expected float64
	}{
		{"exact chat model", "gpt-4o-mini", 1_000_000, 1_000_000, 0.75},
		{"dated snapshot", "claude-3-haiku-20240307", 2000, 1000, 0.00175},
		{"longest prefix wins", "claude-3-5-haiku-20241022", 1_000_000, 0, 0.80},
		{"embedding has no output price", "text-embedding-3-small", 1_000_000, 500, 0.02},
		{"local model", "llama3.1", 5000, 5000, 0},
		{"unknown model", "mystery-model", 5000, 5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CalculateCost(tt.model, tt.in, tt.out), 1e-9)
		})
	}
}

func TestPriceForDoesNotMatchPartialNames(t *testing.T) {
	_, ok := PriceFor("gpt-4oops")
	assert.False(t, ok)
}
