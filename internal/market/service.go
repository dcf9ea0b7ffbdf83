package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/models"
	"github.com/xtrntr/tradebot/internal/pricefeed"
)

// QuoteLookup returns recently observed prices for display purposes. Symbols
// without a usable quote are absent from the result.
type QuoteLookup interface {
	Lookup(ctx context.Context, symbols []string) map[string]decimal.Decimal
}

// Service is the command-side entry point used by chat command handlers
type Service struct {
	store  Store
	feed   pricefeed.Feed
	quotes QuoteLookup
	logger *zap.Logger
}

// NewService creates a service. quotes may be nil.
func NewService(store Store, feed pricefeed.Feed, quotes QuoteLookup, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, feed: feed, quotes: quotes, logger: logger}
}

// Fill is the result of an immediately executed trade
type Fill struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Total    decimal.Decimal `json:"total"`
}

// Holding is a position valued at the latest known price
type Holding struct {
	models.Position
	Price decimal.NullDecimal `json:"price"`
	Value decimal.NullDecimal `json:"value"`
	PnL   decimal.NullDecimal `json:"pnl"`
}

// Portfolio is a user's cash plus valued holdings
type Portfolio struct {
	UserID     int64           `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	Holdings   []Holding       `json:"holdings"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// Quote is a live price for one symbol
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// WatchItem is a watched symbol with its latest known price, if any
type WatchItem struct {
	Symbol  string              `json:"symbol"`
	Price   decimal.NullDecimal `json:"price"`
	AddedAt time.Time           `json:"added_at"`
}

func validateOrder(symbol string, price decimal.Decimal, qty int64) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if !FitsScale(price) {
		return fmt.Errorf("%w: price has more than %d decimal places", ErrInvalidOrder, PriceScale)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	return nil
}

// PlaceLimitOrder reserves the order's notional (buy) or shares (sell) and
// stores the order, atomically.
func (s *Service) PlaceLimitOrder(ctx context.Context, userID int64, symbol string, side models.Side, target decimal.Decimal, qty int64) (*models.LimitOrder, error) {
	symbol = pricefeed.NormalizeSymbol(symbol)
	if !side.Valid() {
		return nil, fmt.Errorf("%w: side must be %q or %q", ErrInvalidOrder, models.SideBuyLimit, models.SideSellLimit)
	}
	if err := validateOrder(symbol, target, qty); err != nil {
		return nil, err
	}

	order := &models.LimitOrder{
		UserID:      userID,
		Symbol:      symbol,
		Side:        side,
		TargetPrice: target,
		Quantity:    qty,
		CreatedAt:   time.Now().UTC(),
	}

	var placed *models.LimitOrder
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		switch side {
		case models.SideBuyLimit:
			err = tx.ReserveForBuy(ctx, userID, order.Notional())
		case models.SideSellLimit:
			err = tx.ReserveForSell(ctx, userID, symbol, qty)
		}
		if err != nil {
			return err
		}
		placed, err = tx.InsertLimitOrder(ctx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Limit order placed",
		zap.Int64("order_id", placed.ID),
		zap.Int64("user_id", userID),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("target", target.String()),
		zap.Int64("quantity", qty))
	return placed, nil
}

// CancelOrder deletes the requester's order and reverses its reservation.
// If the scheduler executed the order first, the delete finds nothing and
// ErrNotFound is returned without a refund.
func (s *Service) CancelOrder(ctx context.Context, orderID, requester int64) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		order, err := tx.GetLimitOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != requester {
			return ErrNotOwner
		}

		deleted, err := tx.DeleteOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrNotFound
		}

		if order.Side == models.SideBuyLimit {
			return tx.RefundBuy(ctx, order.UserID, order.Notional())
		}
		return tx.RefundSell(ctx, order.UserID, order.Symbol, order.Quantity)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Limit order canceled", zap.Int64("order_id", orderID), zap.Int64("user_id", requester))
	return nil
}

// PlaceAlert stores a one-shot price alert. The condition is inferred from the
// live price, so an unavailable price rejects the alert.
func (s *Service) PlaceAlert(ctx context.Context, userID int64, symbol string, target decimal.Decimal) (*models.PriceAlert, error) {
	symbol = pricefeed.NormalizeSymbol(symbol)
	if err := validateOrder(symbol, target, 1); err != nil {
		return nil, err
	}

	current, err := s.feed.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}

	alert, err := s.store.InsertAlert(ctx, &models.PriceAlert{
		UserID:      userID,
		Symbol:      symbol,
		TargetPrice: target,
		Condition:   InferCondition(target, current),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Price alert placed",
		zap.Int64("alert_id", alert.ID),
		zap.Int64("user_id", userID),
		zap.String("symbol", symbol),
		zap.String("condition", string(alert.Condition)),
		zap.String("target", target.String()),
		zap.String("observed", current.String()))
	return alert, nil
}

// RemoveAlert deletes one of the requester's alerts
func (s *Service) RemoveAlert(ctx context.Context, alertID, requester int64) error {
	deleted, err := s.store.DeleteAlert(ctx, alertID, requester)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListOrders(ctx context.Context, userID int64) ([]models.LimitOrder, error) {
	return s.store.GetUserOrders(ctx, userID)
}

func (s *Service) ListAlerts(ctx context.Context, userID int64) ([]models.PriceAlert, error) {
	return s.store.GetUserAlerts(ctx, userID)
}

func (s *Service) Balance(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.GetUser(ctx, userID)
}

func (s *Service) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	return s.store.Deposit(ctx, userID, amount)
}

// MarketBuy buys qty shares at the live price
func (s *Service) MarketBuy(ctx context.Context, userID int64, symbol string, qty int64) (*Fill, error) {
	symbol = pricefeed.NormalizeSymbol(symbol)
	if err := validateOrder(symbol, decimal.NewFromInt(1), qty); err != nil {
		return nil, err
	}
	price, err := s.livePrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	total := price.Mul(decimal.NewFromInt(qty))

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.ReserveForBuy(ctx, userID, total); err != nil {
			return err
		}
		return tx.SettleBuy(ctx, userID, symbol, qty, price)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Market buy executed", zap.Int64("user_id", userID), zap.String("symbol", symbol), zap.Int64("quantity", qty), zap.String("price", price.String()))
	return &Fill{Symbol: symbol, Side: "buy", Quantity: qty, Price: price, Total: total}, nil
}

// MarketSell sells qty shares at the live price
func (s *Service) MarketSell(ctx context.Context, userID int64, symbol string, qty int64) (*Fill, error) {
	symbol = pricefeed.NormalizeSymbol(symbol)
	if err := validateOrder(symbol, decimal.NewFromInt(1), qty); err != nil {
		return nil, err
	}
	price, err := s.livePrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.ReserveForSell(ctx, userID, symbol, qty); err != nil {
			return err
		}
		return tx.SettleSell(ctx, userID, price, qty)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Market sell executed", zap.Int64("user_id", userID), zap.String("symbol", symbol), zap.Int64("quantity", qty), zap.String("price", price.String()))
	return &Fill{Symbol: symbol, Side: "sell", Quantity: qty, Price: price, Total: price.Mul(decimal.NewFromInt(qty))}, nil
}

// livePrice fetches a price from the feed at the scale balances are kept in
func (s *Service) livePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := s.feed.Price(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	price = price.Round(PriceScale)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", pricefeed.ErrUnavailable, symbol)
	}
	return price, nil
}

// Quote returns the live price for symbol
func (s *Service) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = pricefeed.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	price, err := s.livePrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &Quote{Symbol: symbol, Price: price}, nil
}

// Watch adds symbol to the user's watchlist
func (s *Service) Watch(ctx context.Context, userID int64, symbol string) (*models.Watch, error) {
	symbol = pricefeed.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	watch := &models.Watch{UserID: userID, Symbol: symbol, CreatedAt: time.Now().UTC()}
	added, err := s.store.AddWatch(ctx, watch)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, ErrAlreadyWatched
	}
	return watch, nil
}

// Unwatch removes symbol from the user's watchlist
func (s *Service) Unwatch(ctx context.Context, userID int64, symbol string) error {
	removed, err := s.store.RemoveWatch(ctx, userID, pricefeed.NormalizeSymbol(symbol))
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

// Watchlist lists the user's watched symbols with their latest known prices
func (s *Service) Watchlist(ctx context.Context, userID int64) ([]WatchItem, error) {
	watches, err := s.store.GetWatchlist(ctx, userID)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, len(watches))
	for i, w := range watches {
		symbols[i] = w.Symbol
	}
	prices := s.prices(ctx, symbols)

	items := make([]WatchItem, 0, len(watches))
	for _, w := range watches {
		item := WatchItem{Symbol: w.Symbol, AddedAt: w.CreatedAt}
		if price, ok := prices[w.Symbol]; ok {
			item.Price = decimal.NewNullDecimal(price)
		}
		items = append(items, item)
	}
	return items, nil
}

// Portfolio values every non-empty position. A recent cached quote is used
// when present, otherwise the live feed; holdings with no price carry no value.
func (s *Service) Portfolio(ctx context.Context, userID int64) (*Portfolio, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	var symbols []string
	for _, pos := range positions {
		if pos.Shares > 0 {
			symbols = append(symbols, pos.Symbol)
		}
	}
	prices := s.prices(ctx, symbols)

	p := &Portfolio{UserID: userID, Balance: user.Balance, Holdings: []Holding{}, TotalValue: user.Balance}
	for _, pos := range positions {
		if pos.Shares <= 0 {
			continue
		}
		h := Holding{Position: pos}
		if price, ok := prices[pos.Symbol]; ok {
			shares := decimal.NewFromInt(pos.Shares)
			value := price.Mul(shares)
			h.Price = decimal.NewNullDecimal(price)
			h.Value = decimal.NewNullDecimal(value)
			h.PnL = decimal.NewNullDecimal(value.Sub(pos.AvgBuyPrice.Mul(shares)))
			p.TotalValue = p.TotalValue.Add(value)
		}
		p.Holdings = append(p.Holdings, h)
	}
	return p, nil
}

// prices resolves symbols from the quote cache in one round trip and falls
// back to the live feed for each miss. Unpriceable symbols are left out.
func (s *Service) prices(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	if len(symbols) == 0 {
		return prices
	}
	if s.quotes != nil {
		for sym, price := range s.quotes.Lookup(ctx, symbols) {
			prices[sym] = price
		}
	}
	for _, sym := range symbols {
		if _, ok := prices[sym]; ok {
			continue
		}
		price, err := s.livePrice(ctx, sym)
		if err != nil {
			if !errors.Is(err, pricefeed.ErrUnavailable) {
				s.logger.Warn("Price lookup failed", zap.String("symbol", sym), zap.Error(err))
			}
			continue
		}
		prices[sym] = price
	}
	return prices
}
