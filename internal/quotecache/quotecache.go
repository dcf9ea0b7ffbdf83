// Package quotecache keeps the last observed price per symbol in Redis so
// display paths can avoid a round trip to the quote sources.
package quotecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/pricefeed"
)

const keyPrefix = "stock:"

// DefaultTTL bounds how stale a cached quote may be
const DefaultTTL = 2 * time.Minute

var (
	_ pricefeed.QuoteSink = (*Cache)(nil)
	_ market.QuoteLookup  = (*Cache)(nil)
)

// Quote is the cached value
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Put stores the quote with the cache TTL
func (c *Cache) Put(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	payload, err := json.Marshal(Quote{Symbol: symbol, Price: price, At: at.UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode quote: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+symbol, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache quote: %w", err)
	}
	return nil
}

// Snapshot fetches many symbols in one MGET. Missing or undecodable entries are omitted.
func (c *Cache) Snapshot(ctx context.Context, symbols []string) (map[string]Quote, error) {
	out := make(map[string]Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = keyPrefix + sym
	}
	results, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quotes: %w", err)
	}
	for i, val := range results {
		payload, ok := val.(string)
		if !ok || payload == "" {
			continue
		}
		var q Quote
		if err := json.Unmarshal([]byte(payload), &q); err != nil {
			c.logger.Debug("Discarding undecodable quote", zap.String("symbol", symbols[i]), zap.Error(err))
			continue
		}
		out[symbols[i]] = q
	}
	return out, nil
}

// Lookup returns the cached prices for symbols. Redis errors count as a miss.
func (c *Cache) Lookup(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	quotes, err := c.Snapshot(ctx, symbols)
	if err != nil {
		c.logger.Warn("Quote cache lookup failed", zap.Strings("symbols", symbols), zap.Error(err))
		return prices
	}
	for sym, q := range quotes {
		if q.Price.IsPositive() {
			prices[sym] = q.Price
		}
	}
	return prices
}

func (c *Cache) Close() error {
	return c.client.Close()
}
