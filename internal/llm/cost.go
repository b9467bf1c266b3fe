package llm

import "strings"

// modelPrices holds USD prices per million tokens as [input, output].
var modelPrices = map[string][2]float64{
	"gpt-4":         {30, 60},
	"gpt-4-turbo":   {10, 30},
	"gpt-4o":        {2.5, 10},
	"gpt-4o-mini":   {0.15, 0.6},
	"gpt-3.5-turbo": {0.5, 1.5},

	"claude-3-opus":   {15, 75},
	"claude-3-sonnet": {3, 15},
	"claude-3-haiku":  {0.25, 1.25},
	"claude-sonnet-4": {3, 15},
	"claude-opus-4":   {15, 75},
}

// priceFor finds the longest known model name that prefixes model, so dated
// snapshots such as "gpt-4o-2024-08-06" use their family's price.
func priceFor(model string) ([2]float64, bool) {
	best := ""
	for name := range modelPrices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return [2]float64{}, false
	}
	return modelPrices[best], true
}

// CalculateCost estimates the USD cost of a call. Unknown and local models
// cost nothing.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := priceFor(model)
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p[0] + float64(outputTokens)*p[1]) / 1e6
}
