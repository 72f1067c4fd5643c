package provider

import "strings"

// modelPrice is USD per million tokens.
type modelPrice struct {
	input  float64
	output float64
}

// Rough list prices, matched by model name prefix. Unknown models cost zero
// so reports stay conservative rather than invented.
var priceTable = map[string]modelPrice{
	"gpt-4o-mini":         {input: 0.15, output: 0.60},
	"gpt-4o":              {input: 2.50, output: 10.00},
	"gpt-4.1":             {input: 2.00, output: 8.00},
	"claude-3-5-haiku":    {input: 0.80, output: 4.00},
	"claude-sonnet":       {input: 3.00, output: 15.00},
	"claude-opus":         {input: 15.00, output: 75.00},
	"gemini-2.0-flash":    {input: 0.10, output: 0.40},
	"gemini-1.5-pro":      {input: 1.25, output: 5.00},
}

// EstimateCost returns the estimated USD cost of one completion.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	var best string
	for prefix := range priceTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	p := priceTable[best]
	return (float64(inputTokens)*p.input + float64(outputTokens)*p.output) / 1e6
}
