package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/auth"
	"github.com/xtrntr/tradebot/internal/config"
	"github.com/xtrntr/tradebot/internal/db"
	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
	"github.com/xtrntr/tradebot/internal/pricefeed"
)

type holding struct {
	symbol string
	shares int64
	price  string
}

var demoUsers = []struct {
	id       int64
	cash     string
	holdings []holding
}{
	{id: 1001, cash: "10000", holdings: []holding{{"AAPL", 10, "180"}, {"CRYPTO:bitcoin", 1, "60000"}}},
	{id: 1002, cash: "2500", holdings: []holding{{"TSLA", 4, "240"}}},
	{id: 1003, cash: "500"},
}

// Seed the database with demo balances, positions, and a few limit orders.
// With -hash it prints a bcrypt hash for AUTH_GATEWAY_SECRET_HASH instead.
func main() {
	hashSecret := flag.String("hash", "", "print the bcrypt hash of this gateway secret and exit")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if *hashSecret != "" {
		hash, err := auth.HashSecret(*hashSecret)
		if err != nil {
			logger.Fatal("Failed to hash secret", zap.Error(err))
		}
		fmt.Println(hash)
		return
	}

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	existing, err := database.AllPendingOrders(ctx)
	if err != nil {
		logger.Fatal("Failed to check orders", zap.Error(err))
	}
	if len(existing) > 0 {
		fmt.Printf("Database already has %d pending orders. No need to seed.\n", len(existing))
		os.Exit(0)
	}

	for _, u := range demoUsers {
		err := database.InTx(ctx, func(tx market.Tx) error {
			if err := tx.Deposit(ctx, u.id, decimal.RequireFromString(u.cash)); err != nil {
				return err
			}
			for _, h := range u.holdings {
				if err := tx.SettleBuy(ctx, u.id, h.symbol, h.shares, decimal.RequireFromString(h.price)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			logger.Fatal("Failed to seed user", zap.Int64("user_id", u.id), zap.Error(err))
		}
	}

	// Orders go through the service so their reservations are taken like any other.
	service := market.NewService(database, pricefeed.FeedFunc(nil), nil, logger)
	orders := []struct {
		user   int64
		symbol string
		side   models.Side
		target string
		qty    int64
	}{
		{1001, "AAPL", models.SideBuyLimit, "150", 5},
		{1001, "AAPL", models.SideSellLimit, "250", 5},
		{1002, "TSLA", models.SideSellLimit, "300", 2},
		{1003, "MSFT", models.SideBuyLimit, "100", 1},
	}
	for _, o := range orders {
		if _, err := service.PlaceLimitOrder(ctx, o.user, o.symbol, o.side, decimal.RequireFromString(o.target), o.qty); err != nil {
			logger.Fatal("Failed to place order", zap.Int64("user_id", o.user), zap.String("symbol", o.symbol), zap.Error(err))
		}
	}

	fmt.Printf("Seeded %d users and %d limit orders.\n", len(demoUsers), len(orders))
}
