package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePricing(t *testing.T) {
	pro := ResolvePricing("gemini-2.5-pro")
	assert.Equal(t, 1.25, pro.Input)
	assert.Equal(t, int64(200_000), pro.TierThreshold)

	// Unknown models fall back to the default flash pricing.
	unknown := ResolvePricing("gpt-42")
	assert.Equal(t, ResolvePricing("gemini-2.5-flash"), unknown)
	assert.Zero(t, unknown.TierThreshold)
}

func TestCostSingleTier(t *testing.T) {
	// flash: 0.30 in, 2.50 out, margin 12.
	got := Cost("gemini-2.5-flash", 1_000_000, 1_000_000)
	assert.InDelta(t, (0.30+2.50)*12, got, 1e-9)
}

func TestCostTierStep(t *testing.T) {
	tests := []struct {
		name         string
		inputTokens  int64
		outputTokens int64
		want         float64
	}{
		{
			name:        "below threshold uses low tier",
			inputTokens: 200_000, outputTokens: 1000,
			want: (200_000/1e6*1.25 + 1000/1e6*10.00) * 12,
		},
		{
			name:        "above threshold switches both rates",
			inputTokens: 200_001, outputTokens: 1000,
			want: (200_001/1e6*2.50 + 1000/1e6*15.00) * 12,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cost("gemini-2.5-pro", tt.inputTokens, tt.outputTokens)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCostZeroTokens(t *testing.T) {
	assert.Zero(t, Cost("gemini-2.5-pro", 0, 0))
}
