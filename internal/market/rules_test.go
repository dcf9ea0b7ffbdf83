package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xtrntr/tradebot/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOrderMatches(t *testing.T) {
	tests := []struct {
		name   string
		side   models.Side
		target string
		price  string
		expect bool
	}{
		{"BuyBelowTarget", models.SideBuyLimit, "150", "148", true},
		{"BuyAtTarget", models.SideBuyLimit, "150", "150", true},
		{"BuyAboveTarget", models.SideBuyLimit, "150", "150.01", false},
		{"SellAboveTarget", models.SideSellLimit, "300", "305", true},
		{"SellAtTarget", models.SideSellLimit, "300", "300", true},
		{"SellBelowTarget", models.SideSellLimit, "300", "250", false},
		{"UnknownSide", models.Side("x"), "300", "300", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := models.LimitOrder{Side: tt.side, TargetPrice: d(tt.target)}
			assert.Equal(t, tt.expect, OrderMatches(order, d(tt.price)))
		})
	}
}

func TestAlertTriggered(t *testing.T) {
	tests := []struct {
		name      string
		condition models.Condition
		target    string
		price     string
		expect    bool
	}{
		{"AboveReached", models.ConditionAbove, "200", "200", true},
		{"AboveNotReached", models.ConditionAbove, "200", "199.99", false},
		{"BelowReached", models.ConditionBelow, "100", "100", true},
		{"BelowCrossed", models.ConditionBelow, "100", "90", true},
		{"BelowNotReached", models.ConditionBelow, "100", "101", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := models.PriceAlert{Condition: tt.condition, TargetPrice: d(tt.target)}
			assert.Equal(t, tt.expect, AlertTriggered(alert, d(tt.price)))
		})
	}
}

func TestInferCondition(t *testing.T) {
	assert.Equal(t, models.ConditionAbove, InferCondition(d("101"), d("100")))
	assert.Equal(t, models.ConditionBelow, InferCondition(d("99"), d("100")))
	assert.Equal(t, models.ConditionBelow, InferCondition(d("100"), d("100")))
}

func TestWeightedAverage(t *testing.T) {
	assert.True(t, d("148").Equal(WeightedAverage(0, decimal.Zero, 5, d("148"))))
	assert.True(t, d("150").Equal(WeightedAverage(5, d("148"), 5, d("152"))))
	assert.True(t, d("0").Equal(WeightedAverage(0, decimal.Zero, 0, d("10"))))
	assert.True(t, d("133.33333333").Equal(WeightedAverage(2, d("100"), 1, d("200"))))
}

func TestFitsScale(t *testing.T) {
	assert.True(t, FitsScale(d("150")))
	assert.True(t, FitsScale(d("0.12345678")))
	assert.True(t, FitsScale(d("1.500000000")), "trailing zeros are not precision")
	assert.False(t, FitsScale(d("0.123456789")))
}
