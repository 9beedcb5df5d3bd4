package llm

import "strings"

// Price is USD per one million tokens.
type Price struct {
	Input  float64
	Output float64
}

// prices covers the default chat and embedding models of every hosted
// provider. Ollama runs locally and is never priced.
var prices = map[string]Price{
	"gpt-4o":                 {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":            {Input: 0.15, Output: 0.60},
	"gpt-4.1":                {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini":           {Input: 0.40, Output: 1.60},
	"gpt-4-turbo":            {Input: 10.00, Output: 30.00},
	"gpt-3.5-turbo":          {Input: 0.50, Output: 1.50},
	"text-embedding-3-small": {Input: 0.02},
	"text-embedding-3-large": {Input: 0.13},
	"text-embedding-ada-002": {Input: 0.10},

	"claude-3-haiku":    {Input: 0.25, Output: 1.25},
	"claude-3-5-haiku":  {Input: 0.80, Output: 4.00},
	"claude-3-5-sonnet": {Input: 3.00, Output: 15.00},
	"claude-3-7-sonnet": {Input: 3.00, Output: 15.00},
	"claude-sonnet-4":   {Input: 3.00, Output: 15.00},
	"claude-opus-4":     {Input: 15.00, Output: 75.00},
}

// PriceFor finds the price of model. Dated snapshots such as
// "claude-3-haiku-20240307" or "gpt-4o-mini-2024-07-18" resolve to the
// longest priced model name they start with.
func PriceFor(model string) (Price, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if p, ok := prices[model]; ok {
		return p, true
	}
	best := ""
	for name := range prices {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}, false
	}
	return prices[best], true
}

// CalculateCost returns the USD cost of one call. Models without a price,
// including every Ollama model, cost 0; their token counts are still
// recorded in the usage log.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := PriceFor(model)
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1e6
}
