// Package pricing estimates the dollar cost of backend calls.
//
// Rates are USD per 1000 tokens, keyed by the stripped backend model id (no
// region prefix). Unknown models cost zero rather than erroring so a new
// model never breaks dispatch.
package pricing

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Rate holds the per-1K-token rates for one model family.
type Rate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Cost is the computed cost breakdown for one call.
type Cost struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
	Currency     string  `json:"currency"`
	Known        bool    `json:"known"`
}

var rates = map[string]Rate{
	"anthropic.claude-sonnet-4-5-20250929-v1:0": {0.006, 0.030},
	"anthropic.claude-opus-4-5-20251101-v1:0":   {0.015, 0.075},
	"anthropic.claude-haiku-4-5-20251001-v1:0":  {0.001, 0.005},
	"anthropic.claude-sonnet-4-20250514-v1:0":   {0.006, 0.030},
	"anthropic.claude-opus-4-20250514-v1:0":     {0.015, 0.075},
	"anthropic.claude-opus-4-1-20250805-v1:0":   {0.015, 0.075},
	"anthropic.claude-3-7-sonnet-20250219-v1:0": {0.006, 0.030},
	"anthropic.claude-3-5-sonnet-20241022-v2:0": {0.006, 0.030},
	"anthropic.claude-3-5-haiku-20241022-v1:0":  {0.001, 0.005},
	"amazon.nova-premier-v1:0":                  {0.0024, 0.012},
	"amazon.nova-pro-v1:0":                      {0.0008, 0.0032},
	"amazon.nova-lite-v1:0":                     {0.00006, 0.00024},
	"amazon.nova-micro-v1:0":                    {0.000035, 0.00014},
	"meta.llama4-scout-17b-instruct-v1:0":       {0.0003, 0.0006},
	"meta.llama4-maverick-17b-instruct-v1:0":    {0.0003, 0.0006},
	"meta.llama3-3-70b-instruct-v1:0":           {0.00099, 0.00099},
	"meta.llama3-1-70b-instruct-v1:0":           {0.00099, 0.00099},
	"meta.llama3-1-8b-instruct-v1:0":            {0.0003, 0.0006},
	"mistral.mistral-large-2402-v1:0":           {0.004, 0.012},
	"mistral.mistral-small-2402-v1:0":           {0.001, 0.003},
	"deepseek.r1-v1:0":                          {0.00135, 0.0054},
	"cohere.command-r-plus-v1:0":                {0.003, 0.015},
	"cohere.command-r-v1:0":                     {0.0005, 0.0015},
	"openai.gpt-oss-120b-1:0":                   {0.002, 0.002},
	"openai.gpt-oss-20b-1:0":                    {0.0003, 0.0003},
	"qwen.qwen3-32b-v1:0":                       {0.0005, 0.0005},
	"moonshot.kimi-k2-thinking":                 {0.001, 0.001},
}

// regionPrefixes are stripped from model ids before the rate lookup; the same
// model is billed identically across routing prefixes.
var regionPrefixes = []string{"us.", "eu.", "apac.", "global."}

// Lookup returns the rate for a model id, stripping any region prefix.
func Lookup(modelID string) (Rate, bool) {
	id := modelID
	for _, prefix := range regionPrefixes {
		if strings.HasPrefix(id, prefix) {
			id = strings.TrimPrefix(id, prefix)
			break
		}
	}
	rate, ok := rates[id]
	return rate, ok
}

// Calculate computes the cost of a call from its token counts.
func Calculate(modelID string, inputTokens, outputTokens int) Cost {
	cost := Cost{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Currency:     "USD",
	}
	rate, ok := Lookup(modelID)
	if !ok {
		return cost
	}
	cost.Known = true
	cost.InputCost = round6(float64(inputTokens) / 1000 * rate.InputPer1K)
	cost.OutputCost = round6(float64(outputTokens) / 1000 * rate.OutputPer1K)
	cost.TotalCost = round6(cost.InputCost + cost.OutputCost)
	return cost
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text for backends that omit
// usage in their responses. Uses the cl100k_base encoding when available,
// otherwise a bytes/4 heuristic.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
