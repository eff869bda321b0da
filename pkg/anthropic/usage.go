package anthropic

import "go.uber.org/zap"

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// model → {input $/MTok, output $/MTok}
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {1.00, 5.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6":            {15.00, 75.00},
}

// EstimateCost returns the estimated USD cost of u for model, or 0 when
// the model has no known pricing.
func (u TokenUsage) EstimateCost(model string) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return 0
	}
	in := float64(u.InputTokens) / 1e6 * p[0]
	out := float64(u.OutputTokens) / 1e6 * p[1]
	cacheWrite := float64(u.CacheCreationInputTokens) / 1e6 * p[0] * 1.25
	cacheRead := float64(u.CacheReadInputTokens) / 1e6 * p[0] * 0.1
	return in + out + cacheWrite + cacheRead
}

// LogCost logs usage and estimated cost for one catalog item.
func (u TokenUsage) LogCost(model, itemID string) {
	zap.L().Info("anthropic: usage",
		zap.String("model", model),
		zap.String("item_id", itemID),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
