package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStore_ReserveForBuy(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		deposit       string
		amount        string
		expectErr     error
		expectBalance string
	}{
		{name: "Success", deposit: "1000", amount: "750", expectBalance: "250"},
		{name: "ExactBalance", deposit: "750", amount: "750", expectBalance: "0"},
		{name: "Insufficient", deposit: "100", amount: "100.01", expectErr: market.ErrInsufficientFunds, expectBalance: "100"},
		{name: "ZeroAmount", deposit: "100", amount: "0", expectErr: market.ErrInvalidOrder, expectBalance: "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			require.NoError(t, s.Deposit(ctx, 1, dec(tt.deposit)))

			err := s.ReserveForBuy(ctx, 1, dec(tt.amount))
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			} else {
				assert.NoError(t, err)
			}

			u, err := s.GetUser(ctx, 1)
			require.NoError(t, err)
			assert.True(t, dec(tt.expectBalance).Equal(u.Balance), "balance %s", u.Balance)
			assert.False(t, u.Balance.IsNegative())
		})
	}
}

func TestStore_ReserveForSell(t *testing.T) {
	ctx := context.Background()
	s := New()

	assert.ErrorIs(t, s.ReserveForSell(ctx, 1, "TSLA", 1), market.ErrInsufficientShares)

	require.NoError(t, s.SettleBuy(ctx, 1, "TSLA", 2, dec("200")))
	assert.ErrorIs(t, s.ReserveForSell(ctx, 1, "TSLA", 3), market.ErrInsufficientShares)
	require.NoError(t, s.ReserveForSell(ctx, 1, "TSLA", 2))

	positions, err := s.GetPositions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(0), positions[0].Shares)
}

func TestStore_SettleBuyWeightedAverage(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SettleBuy(ctx, 1, "AAPL", 5, dec("148")))
	require.NoError(t, s.SettleBuy(ctx, 1, "AAPL", 5, dec("152")))

	positions, err := s.GetPositions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Shares)
	assert.True(t, dec("150").Equal(positions[0].AvgBuyPrice), "avg %s", positions[0].AvgBuyPrice)
}

func TestStore_RefundSellRecreatesPosition(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.RefundSell(ctx, 7, "MSFT", 4))

	positions, err := s.GetPositions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(4), positions[0].Shares)
	assert.True(t, positions[0].AvgBuyPrice.IsZero())
}

func TestStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Deposit(ctx, 1, dec("1000")))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx market.Tx) error {
		if err := tx.ReserveForBuy(ctx, 1, dec("500")); err != nil {
			return err
		}
		if _, err := tx.InsertLimitOrder(ctx, &models.LimitOrder{UserID: 1, Symbol: "AAPL"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(u.Balance))

	orders, err := s.AllPendingOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestStore_OrdersTimePriority(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	_, err := s.InsertLimitOrder(ctx, &models.LimitOrder{UserID: 1, Symbol: "A", CreatedAt: now.Add(time.Second)})
	require.NoError(t, err)
	_, err = s.InsertLimitOrder(ctx, &models.LimitOrder{UserID: 1, Symbol: "B", CreatedAt: now})
	require.NoError(t, err)

	orders, err := s.AllPendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "B", orders[0].Symbol)
	assert.Equal(t, int64(2), orders[0].ID)
}

func TestStore_DeleteOrderOnce(t *testing.T) {
	ctx := context.Background()
	s := New()

	o, err := s.InsertLimitOrder(ctx, &models.LimitOrder{UserID: 1, Symbol: "AAPL"})
	require.NoError(t, err)

	deleted, err := s.DeleteOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.GetLimitOrder(ctx, o.ID)
	assert.ErrorIs(t, err, market.ErrNotFound)
}

func TestStore_Alerts(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, err := s.InsertAlert(ctx, &models.PriceAlert{UserID: 1, Symbol: "AAPL", TargetPrice: dec("200"), Condition: models.ConditionAbove})
	require.NoError(t, err)
	b, err := s.InsertAlert(ctx, &models.PriceAlert{UserID: 2, Symbol: "AAPL", TargetPrice: dec("100"), Condition: models.ConditionBelow})
	require.NoError(t, err)

	flipped, err := s.MarkAlertTriggered(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, flipped)
	flipped, err = s.MarkAlertTriggered(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, flipped)

	alerts, err := s.AllUntriggeredAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, b.ID, alerts[0].ID)

	deleted, err := s.DeleteAlert(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.False(t, deleted, "only the owner may delete")

	deleted, err = s.DeleteAlert(ctx, b.ID, 2)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestStore_Watchlist(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, w := range []models.Watch{{UserID: 1, Symbol: "TSLA"}, {UserID: 2, Symbol: "AAPL"}, {UserID: 1, Symbol: "AAPL"}} {
		added, err := s.AddWatch(ctx, &w)
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := s.AddWatch(ctx, &models.Watch{UserID: 1, Symbol: "TSLA"})
	require.NoError(t, err)
	assert.False(t, added)

	watches, err := s.GetWatchlist(ctx, 1)
	require.NoError(t, err)
	require.Len(t, watches, 2)
	assert.Equal(t, "TSLA", watches[0].Symbol, "insertion order")
	assert.Equal(t, "AAPL", watches[1].Symbol)

	removed, err := s.RemoveWatch(ctx, 1, "TSLA")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveWatch(ctx, 1, "TSLA")
	require.NoError(t, err)
	assert.False(t, removed)

	others, err := s.GetWatchlist(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, others, 1)
}
