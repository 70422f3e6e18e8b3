package biz

import (
	"math"
	"sort"

	"PromptGate/internal/conf"
	"PromptGate/internal/model"
)

// costPrecision is the number of decimal places kept on computed USD costs.
const costPrecision = 6

// ModelPrice holds per-token USD prices for one model.
type ModelPrice struct {
	Input  float64
	Output float64
}

// PricingTable computes monetary cost from token counts. Unknown models fall
// back to the configured default model's pricing.
type PricingTable struct {
	defaultModel string
	models       map[string]ModelPrice
}

// NewPricingTable builds a pricing table from bootstrap configuration.
func NewPricingTable(c *conf.Pricing) *PricingTable {
	table := &PricingTable{
		defaultModel: c.DefaultModel,
		models:       make(map[string]ModelPrice, len(c.Models)),
	}
	for name, price := range c.Models {
		table.models[name] = ModelPrice{Input: price.Input, Output: price.Output}
	}
	return table
}

// Cost computes the cost breakdown for the given model and token counts.
// Zero token counts yield zero cost, never an error.
func (p *PricingTable) Cost(modelName string, inputTokens, outputTokens int64) *model.CostBreakdown {
	price, ok := p.models[modelName]
	if !ok {
		price = p.models[p.defaultModel]
	}

	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	inputCost := round(float64(inputTokens) * price.Input)
	outputCost := round(float64(outputTokens) * price.Output)

	return &model.CostBreakdown{
		InputCost:    inputCost,
		OutputCost:   outputCost,
		Total:        round(inputCost + outputCost),
		Model:        modelName,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
}

// ModelNames returns every priced model name in sorted order.
func (p *PricingTable) ModelNames() []string {
	names := make([]string, 0, len(p.models))
	for name := range p.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func round(v float64) float64 {
	shift := math.Pow10(costPrecision)
	return math.Round(v*shift) / shift
}
