package market_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
	"github.com/xtrntr/tradebot/internal/pricefeed"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeFeed serves fixed prices; symbols without a price are unavailable
type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  map[string]int
	panics bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{prices: map[string]decimal.Decimal{}, calls: map[string]int{}}
}

func (f *fakeFeed) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = dec(price)
}

func (f *fakeFeed) unset(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, symbol)
}

func (f *fakeFeed) callsFor(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func (f *fakeFeed) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFeed) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("feed exploded")
	}
	f.calls[symbol]++
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, pricefeed.ErrUnavailable
	}
	return p, nil
}

// recordingNotifier keeps every notification; onNotify runs before recording
type recordingNotifier struct {
	mu       sync.Mutex
	sent     []models.Notification
	onNotify func(n models.Notification)
}

func (r *recordingNotifier) Notify(ctx context.Context, n models.Notification) {
	if r.onNotify != nil {
		r.onNotify(n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) all() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.sent...)
}

func position(t *testing.T, store market.Store, userID int64, symbol string) models.Position {
	t.Helper()
	positions, err := store.GetPositions(context.Background(), userID)
	require.NoError(t, err)
	for _, p := range positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return models.Position{UserID: userID, Symbol: symbol}
}

func balance(t *testing.T, store market.Store, userID int64) decimal.Decimal {
	t.Helper()
	u, err := store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}
