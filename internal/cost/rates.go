package cost

// Rates converts content sizes into money.
type Rates struct {
	CostPerThousandTokens float64
	CostPerCharacter      float64
	UploadFlatFee         float64
	UploadCostPerMB       float64
	ScrapeFlatFee         float64
}

// EstimateTokens approximates a token count as characters / 4.
func EstimateTokens(chars int) float64 {
	if chars <= 0 {
		return 0
	}
	return float64(chars) / 4
}

// Summarization prices an LLM call from its input and output character counts.
func (r Rates) Summarization(inputChars, outputChars int) float64 {
	return (EstimateTokens(inputChars) + EstimateTokens(outputChars)) / 1000 * r.CostPerThousandTokens
}

// Synthesis prices text-to-speech by character.
func (r Rates) Synthesis(chars int) float64 {
	if chars <= 0 {
		return 0
	}
	return float64(chars) * r.CostPerCharacter
}

// Upload prices storing size bytes.
func (r Rates) Upload(size int) float64 {
	if size < 0 {
		size = 0
	}
	return r.UploadFlatFee + float64(size)/(1024*1024)*r.UploadCostPerMB
}

// Scrape prices one fetch.
func (r Rates) Scrape() float64 {
	return r.ScrapeFlatFee
}
