// Package cost is the Cost Estimator: a pure function from (model,
// input tokens, output tokens) to a monetary cost, using a static
// per-model price table.
package cost

// price is (input $/1M tokens, output $/1M tokens).
type price struct {
	inputPerMillion  float64
	outputPerMillion float64
}

var table = map[string]price{
	"deepseek-chat":                      {0.14, 0.28},
	"deepseek-reasoner":                  {0.55, 2.19},
	"gpt-4o":                             {2.50, 10.00},
	"gpt-4o-mini":                        {0.15, 0.60},
	"gpt-4.1":                            {2.00, 8.00},
	"gpt-4.1-mini":                       {0.40, 1.60},
	"gpt-4.1-nano":                       {0.10, 0.40},
	"o3-mini":                            {1.10, 4.40},
	"anthropic/claude-sonnet-4":          {3.00, 15.00},
	"anthropic/claude-haiku-4.5":         {0.80, 4.00},
	"google/gemini-2.5-flash-preview":    {0.15, 0.60},
	"google/gemini-2.0-flash-001":        {0.10, 0.40},
	"meta-llama/llama-4-maverick":        {0.20, 0.60},
	"qwen/qwen3-235b-a22b":               {0.20, 0.60},
}

// defaultPrice is the conservative fallback for unknown models.
var defaultPrice = price{1.0, 3.0}

// Estimate returns (input_tokens*p_in + output_tokens*p_out) / 1e6.
func Estimate(model string, inputTokens, outputTokens int) float64 {
	p, ok := table[model]
	if !ok {
		p = defaultPrice
	}
	return (float64(inputTokens)*p.inputPerMillion + float64(outputTokens)*p.outputPerMillion) / 1_000_000
}
