package gateway

// ModelPrice is USD per 1K tokens.
type ModelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Pricing is the static price table used for every cost figure the service reports.
type Pricing struct {
	Models             map[string]ModelPrice
	OCRPerPage         float64
	EntitiesPer1KChars float64
}

func DefaultPricing() Pricing {
	return Pricing{
		Models: map[string]ModelPrice{
			"gemini-1.5-flash":   {InputPer1K: 0.000075, OutputPer1K: 0.0003},
			"gemini-1.5-pro":     {InputPer1K: 0.00125, OutputPer1K: 0.005},
			"gemini-2.0-flash":   {InputPer1K: 0.0001, OutputPer1K: 0.0004},
			"text-embedding-004": {InputPer1K: 0.00001},
		},
		OCRPerPage:         0.0015,
		EntitiesPer1KChars: 0.0001,
	}
}

// TokenCost prices a call by measured usage. Unknown models cost nothing.
func (p Pricing) TokenCost(model string, inputTokens, outputTokens int) float64 {
	mp, ok := p.Models[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*mp.InputPer1K + float64(outputTokens)/1000*mp.OutputPer1K
}

func (p Pricing) OCRCost(model string, pages, inputTokens, outputTokens int) float64 {
	return float64(pages)*p.OCRPerPage + p.TokenCost(model, inputTokens, outputTokens)
}

func (p Pricing) EntityCost(chars int) float64 {
	return float64(chars) / 1000 * p.EntitiesPer1KChars
}

func (p Pricing) EmbeddingCost(model string, tokens int) float64 {
	return p.TokenCost(model, tokens, 0)
}
