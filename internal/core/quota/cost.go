package quota

// CostFunc converts a token count into a spend amount. Implementations must
// be linear with CostFunc(0) == 0.
type CostFunc func(tokens int64) float64

// LinearCost charges a flat blended rate per token. Non-positive token counts
// cost nothing.
func LinearCost(ratePerToken float64) CostFunc {
	return func(tokens int64) float64 {
		if tokens <= 0 {
			return 0
		}
		return float64(tokens) * ratePerToken
	}
}

// PerThousandTokens builds a LinearCost from a price per 1,000 tokens.
func PerThousandTokens(rate float64) CostFunc {
	return LinearCost(rate / 1000)
}
