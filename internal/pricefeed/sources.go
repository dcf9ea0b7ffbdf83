package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultEquityURL = "https://query1.finance.yahoo.com"
	DefaultCryptoURL = "https://api.coingecko.com"
	DefaultTimeout   = 10 * time.Second
)

// EquitySource reads the latest close from a chart endpoint
type EquitySource struct {
	BaseURL string
	Client  *http.Client
}

// NewEquitySource creates an equity source with its own timeout-bounded client
func NewEquitySource(baseURL string, timeout time.Duration) *EquitySource {
	if baseURL == "" {
		baseURL = DefaultEquityURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EquitySource{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice decimal.NullDecimal `json:"regularMarketPrice"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []decimal.NullDecimal `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

func (s *EquitySource) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1d", s.BaseURL, url.PathEscape(ticker))

	var resp chartResponse
	if err := getJSON(ctx, s.Client, endpoint, &resp); err != nil {
		return decimal.Zero, err
	}
	if len(resp.Chart.Result) == 0 {
		return decimal.Zero, ErrUnavailable
	}

	result := resp.Chart.Result[0]
	for _, quote := range result.Indicators.Quote {
		for i := len(quote.Close) - 1; i >= 0; i-- {
			if quote.Close[i].Valid && quote.Close[i].Decimal.IsPositive() {
				return quote.Close[i].Decimal, nil
			}
		}
	}
	if result.Meta.RegularMarketPrice.Valid && result.Meta.RegularMarketPrice.Decimal.IsPositive() {
		return result.Meta.RegularMarketPrice.Decimal, nil
	}
	return decimal.Zero, ErrUnavailable
}

// CryptoSource reads the USD spot price of a coin id
type CryptoSource struct {
	BaseURL string
	Client  *http.Client
}

// NewCryptoSource creates a crypto source with its own timeout-bounded client
func NewCryptoSource(baseURL string, timeout time.Duration) *CryptoSource {
	if baseURL == "" {
		baseURL = DefaultCryptoURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CryptoSource{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

func (s *CryptoSource) Price(ctx context.Context, coin string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd", s.BaseURL, url.QueryEscape(coin))

	var resp map[string]map[string]decimal.NullDecimal
	if err := getJSON(ctx, s.Client, endpoint, &resp); err != nil {
		return decimal.Zero, err
	}
	price, ok := resp[coin]["usd"]
	if !ok || !price.Valid || !price.Decimal.IsPositive() {
		return decimal.Zero, ErrUnavailable
	}
	return price.Decimal, nil
}

// getJSON fetches and decodes a JSON document. Every failure is reported as
// ErrUnavailable, wrapped with the cause.
func getJSON(ctx context.Context, client *http.Client, endpoint string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tradebot/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}
