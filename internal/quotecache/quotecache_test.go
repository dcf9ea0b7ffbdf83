package quotecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, time.Minute, zap.NewNop()), mr
}

func TestCache_PutLookup(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	assert.Empty(t, c.Lookup(ctx, []string{"AAPL"}))

	require.NoError(t, c.Put(ctx, "AAPL", decimal.RequireFromString("187.42"), time.Now()))
	assert.True(t, mr.Exists("stock:AAPL"))

	prices := c.Lookup(ctx, []string{"AAPL"})
	require.Contains(t, prices, "AAPL")
	assert.True(t, decimal.RequireFromString("187.42").Equal(prices["AAPL"]))
}

func TestCache_Expires(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	require.NoError(t, c.Put(ctx, "CRYPTO:bitcoin", decimal.NewFromInt(60000), time.Now()))
	mr.FastForward(2 * time.Minute)

	assert.Empty(t, c.Lookup(ctx, []string{"CRYPTO:bitcoin"}))
}

func TestCache_CorruptValueIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	require.NoError(t, mr.Set("stock:MSFT", "not json"))
	require.NoError(t, c.Put(ctx, "AAPL", decimal.NewFromInt(100), time.Now()))

	prices := c.Lookup(ctx, []string{"MSFT", "AAPL"})
	assert.Len(t, prices, 1)
	assert.Contains(t, prices, "AAPL")
}

func TestCache_Snapshot(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)

	require.NoError(t, c.Put(ctx, "AAPL", decimal.NewFromInt(100), time.Now()))
	require.NoError(t, c.Put(ctx, "TSLA", decimal.NewFromInt(250), time.Now()))
	require.NoError(t, c.Put(ctx, "ZERO", decimal.Zero, time.Now()))

	quotes, err := c.Snapshot(ctx, []string{"AAPL", "NVDA", "TSLA"})
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
	assert.True(t, decimal.NewFromInt(250).Equal(quotes["TSLA"].Price))

	empty, err := c.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	prices := c.Lookup(ctx, []string{"AAPL", "ZERO"})
	assert.Len(t, prices, 1, "non-positive prices are not quotes")
}

func TestCache_ServerDownIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	mr.Close()

	assert.Empty(t, c.Lookup(ctx, []string{"AAPL"}))
	assert.Error(t, c.Put(ctx, "AAPL", decimal.NewFromInt(1), time.Now()))
}
