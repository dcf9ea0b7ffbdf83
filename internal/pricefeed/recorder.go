package pricefeed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuoteSink stores observed quotes
type QuoteSink interface {
	Put(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error
}

// Recorder passes prices through from Next and records every successful quote in Sink.
// Failed lookups are not recorded, so the sink never holds a value newer than the last real quote.
type Recorder struct {
	Next   Feed
	Sink   QuoteSink
	Logger *zap.Logger
}

func (r *Recorder) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := r.Next.Price(ctx, symbol)
	if err != nil {
		return price, err
	}
	if r.Sink != nil {
		if err := r.Sink.Put(ctx, symbol, price, time.Now()); err != nil && r.Logger != nil {
			r.Logger.Warn("Failed to record quote", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return price, nil
}
