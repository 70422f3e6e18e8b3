package biz

import (
	"testing"

	"PromptGate/internal/conf"

	"github.com/stretchr/testify/assert"
)

func testPricingConf() *conf.Pricing {
	return &conf.Pricing{
		DefaultModel: "cursor-large",
		Models: map[string]*conf.Pricing_Model{
			"cursor-large":  {Input: 0.00003, Output: 0.00006},
			"cursor-medium": {Input: 0.00002, Output: 0.00004},
			"cursor-small":  {Input: 0.00001, Output: 0.00002},
		},
	}
}

func TestPricingTable_Cost(t *testing.T) {
	table := NewPricingTable(testPricingConf())

	cost := table.Cost("cursor-large", 1000, 500)
	assert.Equal(t, 0.03, cost.InputCost)
	assert.Equal(t, 0.03, cost.OutputCost)
	assert.Equal(t, 0.06, cost.Total)
	assert.Equal(t, int64(1000), cost.InputTokens)
	assert.Equal(t, int64(500), cost.OutputTokens)
}

func TestPricingTable_PerModelPricing(t *testing.T) {
	table := NewPricingTable(testPricingConf())

	tests := []struct {
		model string
		total float64
	}{
		{"cursor-large", 0.06},
		{"cursor-medium", 0.04},
		{"cursor-small", 0.02},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			cost := table.Cost(tt.model, 1000, 500)
			assert.Equal(t, tt.total, cost.Total)
		})
	}
}

func TestPricingTable_UnknownModelFallsBack(t *testing.T) {
	table := NewPricingTable(testPricingConf())

	known := table.Cost("cursor-large", 1000, 500)
	unknown := table.Cost("gpt-new-thing", 1000, 500)

	assert.Equal(t, known.Total, unknown.Total)
	assert.Equal(t, "gpt-new-thing", unknown.Model)
}

func TestPricingTable_ZeroTokens(t *testing.T) {
	table := NewPricingTable(testPricingConf())

	cost := table.Cost("cursor-large", 0, 0)
	assert.Equal(t, 0.0, cost.InputCost)
	assert.Equal(t, 0.0, cost.OutputCost)
	assert.Equal(t, 0.0, cost.Total)
}

func TestPricingTable_NegativeTokensClamped(t *testing.T) {
	table := NewPricingTable(testPricingConf())

	cost := table.Cost("cursor-large", -100, -50)
	assert.Equal(t, 0.0, cost.Total)
	assert.Equal(t, int64(0), cost.InputTokens)
	assert.Equal(t, int64(0), cost.OutputTokens)
}

func TestPricingTable_Rounding(t *testing.T) {
	table := NewPricingTable(testPricingConf())

	// 7 input tokens at 0.00003 = 0.00021 exactly; 1 token = 0.00003
	cost := table.Cost("cursor-large", 7, 1)
	assert.Equal(t, 0.00021, cost.InputCost)
	assert.Equal(t, 0.00006, cost.OutputCost)
	assert.Equal(t, 0.00027, cost.Total)
}
