package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is a chat member's trading account. Rows are created lazily on first reference.
type User struct {
	ID      int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	Bank    decimal.Decimal `json:"bank"`
}

// Position holds the shares a user owns of one symbol
type Position struct {
	UserID      int64           `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Shares      int64           `json:"shares"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price"`
}

// Side is the kind of a conditional order
type Side string

const (
	SideBuyLimit  Side = "buy_limit"
	SideSellLimit Side = "sell_limit"
)

func (s Side) Valid() bool {
	return s == SideBuyLimit || s == SideSellLimit
}

// LimitOrder is a pending conditional order. Funds (buy) or shares (sell)
// covering it were deducted when it was placed.
type LimitOrder struct {
	ID          int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Quantity    int64           `json:"quantity"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Notional is the amount reserved for the order: target price times quantity.
func (o LimitOrder) Notional() decimal.Decimal {
	return o.TargetPrice.Mul(decimal.NewFromInt(o.Quantity))
}

// Condition is the direction a price alert waits for
type Condition string

const (
	ConditionAbove Condition = "above"
	ConditionBelow Condition = "below"
)

// PriceAlert notifies its owner once when the price crosses the target
type PriceAlert struct {
	ID          int64           `json:"alert_id"`
	UserID      int64           `json:"user_id"`
	Symbol      string          `json:"symbol"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Condition   Condition       `json:"condition"`
	Triggered   bool            `json:"triggered"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NotificationKind tells the gateway what produced a notification
type NotificationKind string

const (
	KindAlertTriggered NotificationKind = "alert_triggered"
	KindBuyExecuted    NotificationKind = "buy_executed"
	KindSellExecuted   NotificationKind = "sell_executed"
)

// Notification is a direct message for one user
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    int64            `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Symbol    string           `json:"symbol"`
	Price     decimal.Decimal  `json:"price"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

// Watch is one symbol on a user's watchlist
type Watch struct {
	UserID    int64     `json:"user_id"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}
