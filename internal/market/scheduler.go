package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/models"
	"github.com/xtrntr/tradebot/internal/pricefeed"
)

// DefaultInterval is the time between matching sweeps
const DefaultInterval = 60 * time.Second

// Notifier delivers a message to a user. Delivery is best-effort and never
// fails the caller. The scheduler calls Notify from the tick, so network sinks
// belong behind notify.Async.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Notification) {}

// errOrderGone aborts an execution whose order was removed by a concurrent cancel
var errOrderGone = errors.New("order no longer pending")

// TickReport summarizes one sweep
type TickReport struct {
	Orders      int
	Alerts      int
	Symbols     int
	Unavailable int
	Executed    int
	Triggered   int
	Failed      int
}

// Scheduler periodically evaluates pending limit orders and untriggered alerts
// against live prices. It holds no state between ticks.
type Scheduler struct {
	store    Store
	feed     pricefeed.Feed
	notifier Notifier
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler. A non-positive interval selects DefaultInterval.
func NewScheduler(store Store, feed pricefeed.Feed, notifier Notifier, logger *zap.Logger, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Scheduler{
		store:    store,
		feed:     feed,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
// Ticks never overlap: a slow tick delays the next one.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Matching scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.safeTick(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("Matching scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Matching tick panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	s.Tick(ctx)
}

// Tick runs one sweep. All trades are committed before any notification is sent.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var report TickReport

	orders, err := s.store.AllPendingOrders(ctx)
	if err != nil {
		s.logger.Error("Failed to load pending orders", zap.Error(err))
		return report
	}
	alerts, err := s.store.AllUntriggeredAlerts(ctx)
	if err != nil {
		s.logger.Error("Failed to load untriggered alerts", zap.Error(err))
		return report
	}
	report.Orders, report.Alerts = len(orders), len(alerts)
	if len(orders) == 0 && len(alerts) == 0 {
		return report
	}

	prices := s.fetchPrices(ctx, symbolsOf(orders, alerts), &report)

	var outbox []models.Notification

	for _, alert := range alerts {
		price, ok := prices[alert.Symbol]
		if !ok || !AlertTriggered(alert, price) {
			continue
		}
		flipped, err := s.store.MarkAlertTriggered(ctx, alert.ID)
		if err != nil {
			report.Failed++
			s.logger.Error("Failed to mark alert triggered", zap.Int64("alert_id", alert.ID), zap.Error(err))
			continue
		}
		if !flipped {
			continue
		}
		report.Triggered++
		outbox = append(outbox, s.alertNotification(alert, price))
	}

	for _, order := range orders {
		price, ok := prices[order.Symbol]
		if !ok || !OrderMatches(order, price) {
			continue
		}
		err := s.execute(ctx, order, price)
		if errors.Is(err, errOrderGone) {
			s.logger.Debug("Order canceled before execution", zap.Int64("order_id", order.ID))
			continue
		}
		if err != nil {
			report.Failed++
			s.logger.Error("Failed to execute limit order",
				zap.Int64("order_id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.Error(err))
			continue
		}
		report.Executed++
		outbox = append(outbox, s.orderNotification(order, price))
	}

	for _, n := range outbox {
		s.notifier.Notify(ctx, n)
	}

	s.logger.Info("Matching tick complete",
		zap.Int("orders", report.Orders),
		zap.Int("alerts", report.Alerts),
		zap.Int("symbols", report.Symbols),
		zap.Int("unavailable", report.Unavailable),
		zap.Int("executed", report.Executed),
		zap.Int("triggered", report.Triggered),
		zap.Int("failed", report.Failed))
	return report
}

// fetchPrices looks up each distinct symbol once, rounded to PriceScale.
// Symbols without a price are absent from the result.
func (s *Scheduler) fetchPrices(ctx context.Context, symbols []string, report *TickReport) map[string]decimal.Decimal {
	report.Symbols = len(symbols)
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		price, err := s.feed.Price(ctx, symbol)
		price = price.Round(PriceScale)
		if err != nil || !price.IsPositive() {
			report.Unavailable++
			s.logger.Debug("Price unavailable, skipping symbol", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		prices[symbol] = price
	}
	return prices
}

// execute settles one matched order. The conditional delete comes first so a
// concurrent cancel and this execution cannot both take effect.
func (s *Scheduler) execute(ctx context.Context, order models.LimitOrder, price decimal.Decimal) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		deleted, err := tx.DeleteOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return errOrderGone
		}
		switch order.Side {
		case models.SideBuyLimit:
			return tx.SettleBuy(ctx, order.UserID, order.Symbol, order.Quantity, price)
		case models.SideSellLimit:
			return tx.SettleSell(ctx, order.UserID, price, order.Quantity)
		}
		return fmt.Errorf("unknown order side %q", order.Side)
	})
}

func (s *Scheduler) alertNotification(alert models.PriceAlert, price decimal.Decimal) models.Notification {
	return models.Notification{
		ID:     uuid.New(),
		UserID: alert.UserID,
		Kind:   models.KindAlertTriggered,
		Symbol: alert.Symbol,
		Price:  price,
		Message: fmt.Sprintf("Price Alert! %s hit $%s (Target: %s $%s)",
			alert.Symbol, price.StringFixed(2), alert.Condition, alert.TargetPrice.StringFixed(2)),
		CreatedAt: s.now().UTC(),
	}
}

func (s *Scheduler) orderNotification(order models.LimitOrder, price decimal.Decimal) models.Notification {
	n := models.Notification{
		ID:        uuid.New(),
		UserID:    order.UserID,
		Symbol:    order.Symbol,
		Price:     price,
		CreatedAt: s.now().UTC(),
	}
	if order.Side == models.SideBuyLimit {
		n.Kind = models.KindBuyExecuted
		n.Message = fmt.Sprintf("Limit Buy Executed! Bought %dx %s at $%s (Target: $%s)",
			order.Quantity, order.Symbol, price.StringFixed(2), order.TargetPrice.StringFixed(2))
		return n
	}
	total := price.Mul(decimal.NewFromInt(order.Quantity))
	n.Kind = models.KindSellExecuted
	n.Message = fmt.Sprintf("Limit Sell Executed! Sold %dx %s at $%s (Target: $%s). Earned $%s",
		order.Quantity, order.Symbol, price.StringFixed(2), order.TargetPrice.StringFixed(2), total.StringFixed(2))
	return n
}

func symbolsOf(orders []models.LimitOrder, alerts []models.PriceAlert) []string {
	seen := make(map[string]struct{})
	for _, o := range orders {
		seen[o.Symbol] = struct{}{}
	}
	for _, a := range alerts {
		seen[a.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
