package models

// Usage carries token counts from a completed generation. Kept separate
// from providers.Usage so this package can be imported independently.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CostResult breaks down the cost of one generation in USD.
type CostResult struct {
	TotalUSD  float64
	InputUSD  float64
	OutputUSD float64
	// ModelFound is false when the catalog has no entry for the requested
	// model; all cost fields are zero in that case.
	ModelFound bool
}

// perM converts a nullable price-per-million-tokens to a cost for n tokens.
func perM(price *float64, n int) float64 {
	if price == nil || n == 0 {
		return 0
	}
	return *price * float64(n) / 1_000_000
}

// Calculate computes the cost of a completed generation. modelKey should be
// "provider/model-id"; a bare model ID is also accepted.
func Calculate(catalog Catalog, modelKey string, usage Usage) CostResult {
	model, ok := catalog.Get(modelKey)
	if !ok {
		return CostResult{ModelFound: false}
	}
	r := CostResult{ModelFound: true}
	r.InputUSD = perM(model.Pricing.InputPerMTokens, usage.InputTokens)
	r.OutputUSD = perM(model.Pricing.OutputPerMTokens, usage.OutputTokens)
	r.TotalUSD = r.InputUSD + r.OutputUSD
	return r
}
