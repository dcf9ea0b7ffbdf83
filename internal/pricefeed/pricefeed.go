// Package pricefeed resolves a current price for a symbol from external quote sources.
//
// Equities are bare tickers ("AAPL"). Crypto symbols carry the CRYPTO: prefix
// followed by the upstream coin id ("CRYPTO:bitcoin").
package pricefeed

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// CryptoPrefix marks a symbol as a crypto coin id
const CryptoPrefix = "CRYPTO:"

// ErrUnavailable means no usable price could be obtained for the symbol.
// Callers skip the symbol; it is never a zero price.
var ErrUnavailable = errors.New("price unavailable")

// Feed returns the current price of a symbol
type Feed interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// FeedFunc adapts a function to the Feed interface
type FeedFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

func (f FeedFunc) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}

// NormalizeSymbol upper-cases equity tickers and lower-cases crypto coin ids,
// so "crypto:Bitcoin" and "CRYPTO:bitcoin" refer to the same row.
func NormalizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if IsCrypto(symbol) {
		return CryptoPrefix + strings.ToLower(symbol[len(CryptoPrefix):])
	}
	return strings.ToUpper(symbol)
}

// IsCrypto reports whether the symbol addresses the crypto source
func IsCrypto(symbol string) bool {
	return len(symbol) >= len(CryptoPrefix) && strings.EqualFold(symbol[:len(CryptoPrefix)], CryptoPrefix)
}

// Router dispatches by symbol namespace
type Router struct {
	Equity Feed
	Crypto Feed
}

func (r *Router) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if IsCrypto(symbol) {
		coin := symbol[len(CryptoPrefix):]
		if coin == "" || r.Crypto == nil {
			return decimal.Zero, ErrUnavailable
		}
		return r.Crypto.Price(ctx, strings.ToLower(coin))
	}
	if symbol == "" || r.Equity == nil {
		return decimal.Zero, ErrUnavailable
	}
	return r.Equity.Price(ctx, strings.ToUpper(symbol))
}
