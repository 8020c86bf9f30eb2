package bybit

import (
	"context"
	"net/url"
	"time"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/exchange/base"
)

type tickerResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		MarkPrice string `json:"markPrice"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
	} `json:"list"`
}

func tickers(ctx context.Context, b *base.BaseAdapter, category, symbol string, signed bool) (map[string]float64, error) {
	q := url.Values{}
	q.Set("category", category)
	if symbol != "" {
		q.Set("symbol", symbol)
	}

	res, err := get[tickerResult](ctx, b, "/v5/market/tickers", q, signed)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(res.List))
	for _, t := range res.List {
		prices[t.Symbol] = b.ParseFloat(t.LastPrice)
	}
	return prices, nil
}

// Tickers returns last prices keyed by symbol. An empty symbol fetches the
// whole category in one request.
func (c *Client) Tickers(ctx context.Context, symbol string) (map[string]float64, error) {
	return tickers(ctx, c.BaseAdapter, c.category, symbol, !c.creds.Empty())
}

type instrumentResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Status        string `json:"status"`
		LotSizeFilter struct {
			QtyStep     string `json:"qtyStep"`
			MinOrderQty string `json:"minOrderQty"`
		} `json:"lotSizeFilter"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
			MinPrice string `json:"minPrice"`
		} `json:"priceFilter"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

// Instruments returns the exchange's trading rules for symbol, or for the
// whole category when symbol is empty
func (c *Client) Instruments(ctx context.Context, symbol string) ([]core.SymbolRule, error) {
	return instruments(ctx, c.BaseAdapter, c.category, symbol)
}

func instruments(ctx context.Context, b *base.BaseAdapter, category, symbol string) ([]core.SymbolRule, error) {
	q := url.Values{}
	q.Set("category", category)
	if symbol != "" {
		q.Set("symbol", symbol)
	}

	res, err := get[instrumentResult](ctx, b, "/v5/market/instruments-info", q, false)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rules := make([]core.SymbolRule, 0, len(res.List))
	for _, raw := range res.List {
		rules = append(rules, core.SymbolRule{
			Symbol:      raw.Symbol,
			MinOrderQty: b.ParseFloat(raw.LotSizeFilter.MinOrderQty),
			StepSize:    b.ParseFloat(raw.LotSizeFilter.QtyStep),
			TickSize:    b.ParseFloat(raw.PriceFilter.TickSize),
			MinPrice:    b.ParseFloat(raw.PriceFilter.MinPrice),
			Active:      raw.Status == "Trading",
			UpdatedAt:   now,
		})
	}
	return rules, nil
}

// PublicClient reads market data without credentials. It backs price
// display when the account session is missing or failing.
type PublicClient struct {
	*base.BaseAdapter
	category string
}

// NewPublicClient creates an unauthenticated market data client
func NewPublicClient(baseURL, category string, timeout time.Duration, logger core.ILogger) *PublicClient {
	if baseURL == "" {
		baseURL = config.MainnetBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	b := base.NewBaseAdapter("bybit-public", baseURL, timeout, 0, logger)
	b.SetParseError(parseError)

	return &PublicClient{
		BaseAdapter: b,
		category:    orDefaultString(category, defaultCategory),
	}
}

// Ticker returns the last price of one symbol
func (p *PublicClient) Ticker(ctx context.Context, symbol string) (float64, error) {
	prices, err := tickers(ctx, p.BaseAdapter, p.category, symbol, false)
	if err != nil {
		return 0, err
	}
	return prices[symbol], nil
}

// Tickers returns last prices keyed by symbol, all symbols when symbol is empty
func (p *PublicClient) Tickers(ctx context.Context, symbol string) (map[string]float64, error) {
	return tickers(ctx, p.BaseAdapter, p.category, symbol, false)
}

// Instruments returns the trading rules without credentials
func (p *PublicClient) Instruments(ctx context.Context, symbol string) ([]core.SymbolRule, error) {
	return instruments(ctx, p.BaseAdapter, p.category, symbol)
}
