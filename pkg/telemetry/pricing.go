package telemetry

import "github.com/eyecheck/gateway/pkg/models"

// Pricer estimates request cost from a per-model price table.
type Pricer struct {
	prices map[string]models.ModelPricing
}

// NewPricer indexes the price table by model.
func NewPricer(table []models.ModelPricing) *Pricer {
	p := &Pricer{prices: make(map[string]models.ModelPricing, len(table))}
	for _, mp := range table {
		p.prices[mp.Model] = mp
	}
	return p
}

// Cost returns the estimated USD cost. Unknown models cost zero.
func (p *Pricer) Cost(model string, tokensIn, tokensOut int) float64 {
	if p == nil {
		return 0
	}
	mp, ok := p.prices[model]
	if !ok {
		return 0
	}
	return float64(tokensIn)/1000*mp.PromptCost + float64(tokensOut)/1000*mp.CompletionCost
}

// EstimateTokens approximates a token count as one token per four runes.
func EstimateTokens(text string) int {
	n := 0
	for range text {
		n++
	}
	return (n + 3) / 4
}
