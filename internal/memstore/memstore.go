// Package memstore is an in-process market.Store. Every call runs under one
// mutex against a copy of the state that is swapped in only on success, which
// gives the same all-or-nothing behaviour as a database transaction.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
)

var _ market.Store = (*Store)(nil)

type positionKey struct {
	userID int64
	symbol string
}

type state struct {
	users       map[int64]models.User
	positions   map[positionKey]models.Position
	orders      []models.LimitOrder
	alerts      []models.PriceAlert
	watches     []models.Watch
	nextOrderID int64
	nextAlertID int64
}

func (st *state) clone() *state {
	c := &state{
		users:       make(map[int64]models.User, len(st.users)),
		positions:   make(map[positionKey]models.Position, len(st.positions)),
		orders:      append([]models.LimitOrder(nil), st.orders...),
		alerts:      append([]models.PriceAlert(nil), st.alerts...),
		watches:     append([]models.Watch(nil), st.watches...),
		nextOrderID: st.nextOrderID,
		nextAlertID: st.nextAlertID,
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.positions {
		c.positions[k] = v
	}
	return c
}

// Store keeps users, positions, orders, alerts and watchlists in memory
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty store
func New() *Store {
	return &Store{st: &state{
		users:     map[int64]models.User{},
		positions: map[positionKey]models.Position{},
	}}
}

// InTx runs fn against a private copy of the state and publishes it if fn succeeds
func (s *Store) InTx(ctx context.Context, fn func(tx market.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// tx implements market.Tx over a state the caller already owns exclusively
type tx struct {
	st *state
}

func (t *tx) user(userID int64) models.User {
	u, ok := t.st.users[userID]
	if !ok {
		u = models.User{ID: userID, Balance: decimal.Zero, Bank: decimal.Zero}
	}
	return u
}

func (t *tx) credit(userID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", market.ErrInvalidOrder)
	}
	u := t.user(userID)
	u.Balance = u.Balance.Add(amount)
	t.st.users[userID] = u
	return nil
}

func (t *tx) ReserveForBuy(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", market.ErrInvalidOrder)
	}
	u := t.user(userID)
	if u.Balance.LessThan(amount) {
		return market.ErrInsufficientFunds
	}
	u.Balance = u.Balance.Sub(amount)
	t.st.users[userID] = u
	return nil
}

func (t *tx) ReserveForSell(ctx context.Context, userID int64, symbol string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", market.ErrInvalidOrder)
	}
	key := positionKey{userID, symbol}
	pos, ok := t.st.positions[key]
	if !ok || pos.Shares < qty {
		return market.ErrInsufficientShares
	}
	pos.Shares -= qty
	t.st.positions[key] = pos
	return nil
}

func (t *tx) SettleBuy(ctx context.Context, userID int64, symbol string, qty int64, price decimal.Decimal) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", market.ErrInvalidOrder)
	}
	key := positionKey{userID, symbol}
	pos, ok := t.st.positions[key]
	if !ok {
		pos = models.Position{UserID: userID, Symbol: symbol, AvgBuyPrice: decimal.Zero}
	}
	pos.AvgBuyPrice = market.WeightedAverage(pos.Shares, pos.AvgBuyPrice, qty, price)
	pos.Shares += qty
	t.st.positions[key] = pos
	return nil
}

func (t *tx) SettleSell(ctx context.Context, userID int64, price decimal.Decimal, qty int64) error {
	return t.credit(userID, price.Mul(decimal.NewFromInt(qty)))
}

func (t *tx) RefundBuy(ctx context.Context, userID int64, amount decimal.Decimal) error {
	return t.credit(userID, amount)
}

func (t *tx) RefundSell(ctx context.Context, userID int64, symbol string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", market.ErrInvalidOrder)
	}
	key := positionKey{userID, symbol}
	pos, ok := t.st.positions[key]
	if !ok {
		pos = models.Position{UserID: userID, Symbol: symbol, AvgBuyPrice: decimal.Zero}
	}
	pos.Shares += qty
	t.st.positions[key] = pos
	return nil
}

func (t *tx) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	return t.credit(userID, amount)
}

func (t *tx) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	u := t.user(userID)
	return &u, nil
}

func (t *tx) GetPositions(ctx context.Context, userID int64) ([]models.Position, error) {
	var positions []models.Position
	for key, pos := range t.st.positions {
		if key.userID == userID {
			positions = append(positions, pos)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// InsertLimitOrder appends the order keeping time priority: earliest first, then lowest id
func (t *tx) InsertLimitOrder(ctx context.Context, order *models.LimitOrder) (*models.LimitOrder, error) {
	t.st.nextOrderID++
	stored := *order
	stored.ID = t.st.nextOrderID
	t.st.orders = append(t.st.orders, stored)
	sort.SliceStable(t.st.orders, func(i, j int) bool {
		if t.st.orders[i].CreatedAt.Equal(t.st.orders[j].CreatedAt) {
			return t.st.orders[i].ID < t.st.orders[j].ID
		}
		return t.st.orders[i].CreatedAt.Before(t.st.orders[j].CreatedAt)
	})
	return &stored, nil
}

func (t *tx) InsertAlert(ctx context.Context, alert *models.PriceAlert) (*models.PriceAlert, error) {
	t.st.nextAlertID++
	stored := *alert
	stored.ID = t.st.nextAlertID
	stored.Triggered = false
	t.st.alerts = append(t.st.alerts, stored)
	return &stored, nil
}

func (t *tx) GetLimitOrder(ctx context.Context, orderID int64) (*models.LimitOrder, error) {
	for _, o := range t.st.orders {
		if o.ID == orderID {
			order := o
			return &order, nil
		}
	}
	return nil, market.ErrNotFound
}

func (t *tx) AllPendingOrders(ctx context.Context) ([]models.LimitOrder, error) {
	return append([]models.LimitOrder(nil), t.st.orders...), nil
}

func (t *tx) AllUntriggeredAlerts(ctx context.Context) ([]models.PriceAlert, error) {
	var alerts []models.PriceAlert
	for _, a := range t.st.alerts {
		if !a.Triggered {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

func (t *tx) GetUserOrders(ctx context.Context, userID int64) ([]models.LimitOrder, error) {
	var orders []models.LimitOrder
	for _, o := range t.st.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (t *tx) GetUserAlerts(ctx context.Context, userID int64) ([]models.PriceAlert, error) {
	var alerts []models.PriceAlert
	for _, a := range t.st.alerts {
		if a.UserID == userID && !a.Triggered {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

func (t *tx) DeleteOrder(ctx context.Context, orderID int64) (bool, error) {
	for i, o := range t.st.orders {
		if o.ID == orderID {
			t.st.orders = append(t.st.orders[:i:i], t.st.orders[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) MarkAlertTriggered(ctx context.Context, alertID int64) (bool, error) {
	for i := range t.st.alerts {
		if t.st.alerts[i].ID == alertID {
			if t.st.alerts[i].Triggered {
				return false, nil
			}
			t.st.alerts[i].Triggered = true
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) DeleteAlert(ctx context.Context, alertID, userID int64) (bool, error) {
	for i, a := range t.st.alerts {
		if a.ID == alertID && a.UserID == userID {
			t.st.alerts = append(t.st.alerts[:i:i], t.st.alerts[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) AddWatch(ctx context.Context, watch *models.Watch) (bool, error) {
	for _, w := range t.st.watches {
		if w.UserID == watch.UserID && w.Symbol == watch.Symbol {
			return false, nil
		}
	}
	t.st.watches = append(t.st.watches, *watch)
	return true, nil
}

func (t *tx) RemoveWatch(ctx context.Context, userID int64, symbol string) (bool, error) {
	for i, w := range t.st.watches {
		if w.UserID == userID && w.Symbol == symbol {
			t.st.watches = append(t.st.watches[:i:i], t.st.watches[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) GetWatchlist(ctx context.Context, userID int64) ([]models.Watch, error) {
	var watches []models.Watch
	for _, w := range t.st.watches {
		if w.UserID == userID {
			watches = append(watches, w)
		}
	}
	return watches, nil
}
