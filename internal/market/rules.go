package market

import (
	"github.com/shopspring/decimal"

	"github.com/xtrntr/tradebot/internal/models"
)

// PriceScale is the number of decimal places money is stored with
const PriceScale int32 = 8

// FitsScale reports whether v is representable at PriceScale without rounding.
func FitsScale(v decimal.Decimal) bool {
	return v.Equal(v.Round(PriceScale))
}

// InferCondition classifies a new alert from the price observed when it is
// placed. A target equal to the observed price is classified as below.
func InferCondition(target, observed decimal.Decimal) models.Condition {
	if target.GreaterThan(observed) {
		return models.ConditionAbove
	}
	return models.ConditionBelow
}

// AlertTriggered reports whether price satisfies the alert. Boundaries are inclusive.
func AlertTriggered(alert models.PriceAlert, price decimal.Decimal) bool {
	switch alert.Condition {
	case models.ConditionAbove:
		return price.GreaterThanOrEqual(alert.TargetPrice)
	case models.ConditionBelow:
		return price.LessThanOrEqual(alert.TargetPrice)
	}
	return false
}

// OrderMatches reports whether a limit order executes at price. A buy needs
// price <= target, a sell needs price >= target.
func OrderMatches(order models.LimitOrder, price decimal.Decimal) bool {
	switch order.Side {
	case models.SideBuyLimit:
		return price.LessThanOrEqual(order.TargetPrice)
	case models.SideSellLimit:
		return price.GreaterThanOrEqual(order.TargetPrice)
	}
	return false
}

// WeightedAverage folds qty shares bought at price into an existing position.
func WeightedAverage(oldQty int64, oldAvg decimal.Decimal, qty int64, price decimal.Decimal) decimal.Decimal {
	total := oldQty + qty
	if total <= 0 {
		return decimal.Zero
	}
	cost := oldAvg.Mul(decimal.NewFromInt(oldQty)).Add(price.Mul(decimal.NewFromInt(qty)))
	return cost.DivRound(decimal.NewFromInt(total), PriceScale)
}
