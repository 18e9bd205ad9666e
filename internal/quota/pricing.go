package quota

// marginMultiplier scales raw provider cost into the billed amount.
const marginMultiplier = 12

// ModelPricing is USD per 1M tokens for one model. Models with a tier
// threshold switch both rates to the high tier once input tokens exceed it.
type ModelPricing struct {
	Input          float64
	Output         float64
	InputHighTier  float64
	OutputHighTier float64
	TierThreshold  int64 // input-token boundary; 0 = single tier
}

// defaultModel is used when a run requests no model or an unknown one.
const defaultModel = "gemini-2.5-flash"

// pricingTable holds provider list prices per 1M tokens.
var pricingTable = map[string]ModelPricing{
	"gemini-2.5-pro": {
		Input:          1.25,
		Output:         10.00,
		InputHighTier:  2.50,
		OutputHighTier: 15.00,
		TierThreshold:  200_000,
	},
	"gemini-2.5-flash": {
		Input:  0.30,
		Output: 2.50,
	},
	"gemini-2.5-flash-lite": {
		Input:  0.10,
		Output: 0.40,
	},
}

// ResolvePricing returns the pricing entry for a model, falling back to the
// default model for unknown names.
func ResolvePricing(model string) ModelPricing {
	if p, ok := pricingTable[model]; ok {
		return p
	}
	return pricingTable[defaultModel]
}

// Cost converts token counts to billed dollars. The tier is a step function
// on input tokens: past the threshold, both input and output switch to the
// high-tier rate. The margin multiplier applies to both tiers.
func Cost(model string, inputTokens, outputTokens int64) float64 {
	p := ResolvePricing(model)

	inRate, outRate := p.Input, p.Output
	if p.TierThreshold > 0 && inputTokens > p.TierThreshold {
		inRate, outRate = p.InputHighTier, p.OutputHighTier
	}

	cost := float64(inputTokens)/1e6*inRate + float64(outputTokens)/1e6*outRate
	return cost * marginMultiplier
}
