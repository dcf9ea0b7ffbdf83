// Package market holds the trading core: the ledger and order book contracts,
// the command-side service, and the matching scheduler that settles limit
// orders and fires price alerts.
package market

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/tradebot/internal/models"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNotFound           = errors.New("not found")
	ErrNotOwner           = errors.New("not owner")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrAlreadyWatched     = errors.New("already on watchlist")
)

// Ledger mutates balances and positions. Each call is a single conditional
// update on one row, so balances and share counts never go negative.
type Ledger interface {
	// ReserveForBuy deducts amount from the spendable balance or fails with ErrInsufficientFunds.
	ReserveForBuy(ctx context.Context, userID int64, amount decimal.Decimal) error
	// ReserveForSell deducts qty shares from the position or fails with ErrInsufficientShares.
	ReserveForSell(ctx context.Context, userID int64, symbol string, qty int64) error
	// SettleBuy adds shares and folds price into the quantity-weighted average.
	SettleBuy(ctx context.Context, userID int64, symbol string, qty int64, price decimal.Decimal) error
	// SettleSell credits price*qty.
	SettleSell(ctx context.Context, userID int64, price decimal.Decimal, qty int64) error
	RefundBuy(ctx context.Context, userID int64, amount decimal.Decimal) error
	RefundSell(ctx context.Context, userID int64, symbol string, qty int64) error
	Deposit(ctx context.Context, userID int64, amount decimal.Decimal) error

	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetPositions(ctx context.Context, userID int64) ([]models.Position, error)
}

// OrderBook stores limit orders and price alerts. It makes no price decisions.
type OrderBook interface {
	InsertLimitOrder(ctx context.Context, order *models.LimitOrder) (*models.LimitOrder, error)
	InsertAlert(ctx context.Context, alert *models.PriceAlert) (*models.PriceAlert, error)
	// GetLimitOrder returns ErrNotFound when the order does not exist.
	GetLimitOrder(ctx context.Context, orderID int64) (*models.LimitOrder, error)
	AllPendingOrders(ctx context.Context) ([]models.LimitOrder, error)
	AllUntriggeredAlerts(ctx context.Context) ([]models.PriceAlert, error)
	GetUserOrders(ctx context.Context, userID int64) ([]models.LimitOrder, error)
	GetUserAlerts(ctx context.Context, userID int64) ([]models.PriceAlert, error)
	// DeleteOrder removes the order if it still exists and reports whether it did.
	DeleteOrder(ctx context.Context, orderID int64) (bool, error)
	// MarkAlertTriggered flips the flag if it was unset and reports whether it did.
	MarkAlertTriggered(ctx context.Context, alertID int64) (bool, error)
	// DeleteAlert removes an alert owned by userID and reports whether it did.
	DeleteAlert(ctx context.Context, alertID, userID int64) (bool, error)
}

// Watchlists stores the symbols each user follows, in the order they were added.
type Watchlists interface {
	// AddWatch reports false when the symbol is already on the user's list.
	AddWatch(ctx context.Context, watch *models.Watch) (bool, error)
	RemoveWatch(ctx context.Context, userID int64, symbol string) (bool, error)
	GetWatchlist(ctx context.Context, userID int64) ([]models.Watch, error)
}

// Tx is the set of operations available inside one atomic unit of work
type Tx interface {
	Ledger
	OrderBook
	Watchlists
}

// Store runs operations directly or grouped in a transaction. When fn returns
// an error every mutation it made is rolled back.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
