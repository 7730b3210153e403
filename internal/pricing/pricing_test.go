package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupStripsRegionPrefix(t *testing.T) {
	direct, ok := Lookup("anthropic.claude-sonnet-4-5-20250929-v1:0")
	require.True(t, ok)

	prefixed, ok := Lookup("us.anthropic.claude-sonnet-4-5-20250929-v1:0")
	require.True(t, ok)
	require.Equal(t, direct, prefixed)

	_, ok = Lookup("vendor.unknown-model-v1:0")
	require.False(t, ok)
}

func TestCalculate(t *testing.T) {
	cost := Calculate("amazon.nova-pro-v1:0", 10000, 5000)
	require.True(t, cost.Known)
	require.Equal(t, "USD", cost.Currency)
	require.InDelta(t, 0.008, cost.InputCost, 1e-9)
	require.InDelta(t, 0.016, cost.OutputCost, 1e-9)
	require.InDelta(t, 0.024, cost.TotalCost, 1e-9)
}

func TestCalculateRoundsToSixDecimals(t *testing.T) {
	cost := Calculate("amazon.nova-micro-v1:0", 7, 3)
	// 7 * 0.000035 / 1000 = 0.000000245 rounds to 0.0
	require.Equal(t, 0.0, cost.InputCost)
	require.InDelta(t, 0.0, cost.OutputCost, 1e-6)
}

func TestCalculateUnknownModelIsZero(t *testing.T) {
	cost := Calculate("vendor.mystery", 1000, 1000)
	require.False(t, cost.Known)
	require.Zero(t, cost.TotalCost)
	require.Equal(t, 1000, cost.InputTokens)
}

func TestEstimateTokens(t *testing.T) {
	require.Zero(t, EstimateTokens(""))
	require.Greater(t, EstimateTokens("hello world, this is a sentence"), 3)
}
