package db

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
)

var testDB *DB

// Tests run against the database named by TEST_DATABASE_URL and are skipped without it.
func TestMain(m *testing.M) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	db, err := NewDB(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close()
	os.Exit(code)
}

func setup(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("TEST_DATABASE_URL not set")
	}
	_, err := testDB.Pool.Exec(context.Background(),
		"TRUNCATE TABLE watchlist, price_alerts, limit_orders, positions, users RESTART IDENTITY")
	require.NoError(t, err, "failed to clean up database")
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDB_ReserveForBuy(t *testing.T) {
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
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup(t)
			require.NoError(t, testDB.Deposit(ctx, 1, dec(tt.deposit)))

			err := testDB.ReserveForBuy(ctx, 1, dec(tt.amount))
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			} else {
				assert.NoError(t, err)
			}

			u, err := testDB.GetUser(ctx, 1)
			require.NoError(t, err)
			assert.True(t, dec(tt.expectBalance).Equal(u.Balance), "balance %s", u.Balance)
		})
	}
}

func TestDB_Positions(t *testing.T) {
	setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, testDB.ReserveForSell(ctx, 1, "AAPL", 1), market.ErrInsufficientShares)

	require.NoError(t, testDB.SettleBuy(ctx, 1, "AAPL", 5, dec("148")))
	require.NoError(t, testDB.SettleBuy(ctx, 1, "AAPL", 5, dec("152")))
	require.NoError(t, testDB.ReserveForSell(ctx, 1, "AAPL", 4))
	require.NoError(t, testDB.RefundSell(ctx, 1, "MSFT", 2))

	positions, err := testDB.GetPositions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, int64(6), positions[0].Shares)
	assert.True(t, dec("150").Equal(positions[0].AvgBuyPrice), "avg %s", positions[0].AvgBuyPrice)
	assert.Equal(t, "MSFT", positions[1].Symbol)
	assert.True(t, positions[1].AvgBuyPrice.IsZero())
}

func TestDB_InTxRollsBack(t *testing.T) {
	setup(t)
	ctx := context.Background()
	require.NoError(t, testDB.Deposit(ctx, 1, dec("1000")))

	err := testDB.InTx(ctx, func(tx market.Tx) error {
		if err := tx.ReserveForBuy(ctx, 1, dec("500")); err != nil {
			return err
		}
		return tx.ReserveForSell(ctx, 1, "AAPL", 1)
	})
	assert.ErrorIs(t, err, market.ErrInsufficientShares)

	u, err := testDB.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(u.Balance))
}

func TestDB_Orders(t *testing.T) {
	setup(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	late, err := testDB.InsertLimitOrder(ctx, &models.LimitOrder{
		UserID: 1, Symbol: "AAPL", Side: models.SideBuyLimit, TargetPrice: dec("150.25"), Quantity: 2, CreatedAt: now.Add(time.Second),
	})
	require.NoError(t, err)
	early, err := testDB.InsertLimitOrder(ctx, &models.LimitOrder{
		UserID: 2, Symbol: "TSLA", Side: models.SideSellLimit, TargetPrice: dec("300"), Quantity: 1, CreatedAt: now,
	})
	require.NoError(t, err)

	orders, err := testDB.AllPendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, early.ID, orders[0].ID)
	assert.Equal(t, late.ID, orders[1].ID)
	assert.True(t, dec("150.25").Equal(orders[1].TargetPrice))
	assert.Equal(t, models.SideBuyLimit, orders[1].Side)

	got, err := testDB.GetLimitOrder(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Quantity)

	mine, err := testDB.GetUserOrders(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	deleted, err := testDB.DeleteOrder(ctx, late.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = testDB.DeleteOrder(ctx, late.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = testDB.GetLimitOrder(ctx, late.ID)
	assert.ErrorIs(t, err, market.ErrNotFound)
}

func TestDB_Alerts(t *testing.T) {
	setup(t)
	ctx := context.Background()

	a, err := testDB.InsertAlert(ctx, &models.PriceAlert{
		UserID: 1, Symbol: "AAPL", TargetPrice: dec("200"), Condition: models.ConditionAbove, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	b, err := testDB.InsertAlert(ctx, &models.PriceAlert{
		UserID: 1, Symbol: "AAPL", TargetPrice: dec("100"), Condition: models.ConditionBelow, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	flipped, err := testDB.MarkAlertTriggered(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, flipped)
	flipped, err = testDB.MarkAlertTriggered(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, flipped)

	alerts, err := testDB.AllUntriggeredAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, b.ID, alerts[0].ID)
	assert.Equal(t, models.ConditionBelow, alerts[0].Condition)

	deleted, err := testDB.DeleteAlert(ctx, b.ID, 2)
	require.NoError(t, err)
	assert.False(t, deleted)
	deleted, err = testDB.DeleteAlert(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestDB_CancelOrder_Concurrent(t *testing.T) {
	setup(t)
	ctx := context.Background()
	require.NoError(t, testDB.Deposit(ctx, 1, dec("1000")))

	svc := market.NewService(testDB, nil, nil, nil)
	order, err := svc.PlaceLimitOrder(ctx, 1, "AAPL", models.SideBuyLimit, dec("100"), 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	n := 10
	wg.Add(n)
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := svc.CancelOrder(ctx, order.ID, 1); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "expected exactly 1 successful cancellation")

	u, err := testDB.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(u.Balance), "refund applied once: %s", u.Balance)
}

func TestDB_Watchlist(t *testing.T) {
	setup(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	added, err := testDB.AddWatch(ctx, &models.Watch{UserID: 1, Symbol: "TSLA", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = testDB.AddWatch(ctx, &models.Watch{UserID: 1, Symbol: "AAPL", CreatedAt: now.Add(time.Second)})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = testDB.AddWatch(ctx, &models.Watch{UserID: 1, Symbol: "TSLA", CreatedAt: now.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.False(t, added)

	watches, err := testDB.GetWatchlist(ctx, 1)
	require.NoError(t, err)
	require.Len(t, watches, 2)
	assert.Equal(t, "TSLA", watches[0].Symbol)
	assert.Equal(t, "AAPL", watches[1].Symbol)

	removed, err := testDB.RemoveWatch(ctx, 1, "TSLA")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = testDB.RemoveWatch(ctx, 1, "TSLA")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDB_PricesKeepEightPlaces(t *testing.T) {
	setup(t)
	ctx := context.Background()
	require.NoError(t, testDB.Deposit(ctx, 1, dec("10")))

	svc := market.NewService(testDB, nil, nil, nil)
	order, err := svc.PlaceLimitOrder(ctx, 1, "CRYPTO:bitcoin", models.SideBuyLimit, dec("0.12345678"), 10)
	require.NoError(t, err)

	stored, err := testDB.GetLimitOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, dec("0.12345678").Equal(stored.TargetPrice))

	require.NoError(t, svc.CancelOrder(ctx, order.ID, 1))
	u, err := testDB.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(u.Balance), "balance %s", u.Balance)
}
