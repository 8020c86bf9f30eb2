// Package gateway wraps the exchange client with retries, parallel reads and
// safe defaults so a flaky call never aborts a polling cycle
package gateway

import (
	"context"
	"fmt"
	"time"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/exchange/bybit"
	"copytrader/pkg/concurrency"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/retry"
	"copytrader/pkg/telemetry"
)

// Session is the authenticated exchange API the gateway drives
type Session interface {
	WalletBalance(ctx context.Context) (float64, error)
	Positions(ctx context.Context, symbol string) ([]core.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]core.Order, error)
	OrderHistory(ctx context.Context, symbol string, limit int) ([]core.Order, error)
	CreateOrder(ctx context.Context, req core.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	Tickers(ctx context.Context, symbol string) (map[string]float64, error)
	TestConnection(ctx context.Context) error
}

// PriceSource is the unauthenticated price fallback
type PriceSource interface {
	Ticker(ctx context.Context, symbol string) (float64, error)
	Tickers(ctx context.Context, symbol string) (map[string]float64, error)
}

// Gateway implements core.IExchangeGateway. session may be nil when no
// credentials are configured; reads then degrade and prices come from public.
type Gateway struct {
	session Session
	public  PriceSource
	pool    *concurrency.WorkerPool
	cfg     config.GatewayConfig
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	historyLimit int
	creds        bybit.Credentials
}

// Option customizes a Gateway
type Option func(*Gateway)

// WithHistoryLimit sets how many filled orders GetOrdersParallel asks for
func WithHistoryLimit(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.historyLimit = n
		}
	}
}

var _ core.IExchangeGateway = (*Gateway)(nil)

// New creates a gateway over session and public
func New(session Session, public PriceSource, pool *concurrency.WorkerPool, cfg config.GatewayConfig, logger core.ILogger, opts ...Option) *Gateway {
	defaults := config.DefaultConfig()
	def := defaults.Gateway
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.OrdersTimeout <= 0 {
		cfg.OrdersTimeout = def.OrdersTimeout
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = def.BatchThreshold
	}

	g := &Gateway{
		session:      session,
		public:       public,
		pool:         pool,
		cfg:          cfg,
		logger:       logger.WithField("component", "exchange_gateway"),
		metrics:      telemetry.GetGlobalMetrics(),
		historyLimit: defaults.Trading.HistoryLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// call runs fn with the per-call timeout, retrying only timeouts
func call[T any](ctx context.Context, g *Gateway, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g.session == nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", op, apperrors.ErrNotConfigured)
	}

	policy := retry.FixedPolicy(g.cfg.RetryAttempts, g.cfg.RetryBackoff)
	policy.AttemptTimeout = g.cfg.CallTimeout
	policy.OnRetry = func(attempt int, err error) {
		g.metrics.RecordRetry(ctx, op)
		g.logger.Warn("Exchange call timed out, retrying", "op", op, "attempt", attempt, "error", err)
	}

	start := time.Now()
	out, err := retry.DoValue(ctx, policy, apperrors.IsTimeout, fn)
	g.metrics.RecordExchangeLatency(ctx, op, float64(time.Since(start).Milliseconds()))

	return out, err
}

// GetBalance returns total equity, 0 on failure
func (g *Gateway) GetBalance(ctx context.Context) float64 {
	balance, err := call(ctx, g, "get_balance", func(ctx context.Context) (float64, error) {
		return g.session.WalletBalance(ctx)
	})
	if err != nil {
		g.logger.Warn("Failed to get balance", "error", err)
		return 0
	}
	return balance
}

// GetPositions returns open positions, empty on failure
func (g *Gateway) GetPositions(ctx context.Context, symbol string) []core.Position {
	positions, err := call(ctx, g, "get_positions", func(ctx context.Context) ([]core.Position, error) {
		return g.session.Positions(ctx, symbol)
	})
	if err != nil {
		g.logger.Warn("Failed to get positions", "symbol", symbol, "error", err)
		return []core.Position{}
	}
	return positions
}

// GetOpenOrders returns active orders, empty on failure
func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) []core.Order {
	orders, err := call(ctx, g, "get_open_orders", func(ctx context.Context) ([]core.Order, error) {
		return g.session.OpenOrders(ctx, symbol)
	})
	if err != nil {
		g.logger.Warn("Failed to get open orders", "symbol", symbol, "error", err)
		return []core.Order{}
	}
	return orders
}

// GetOrderHistory returns filled orders, empty on failure
func (g *Gateway) GetOrderHistory(ctx context.Context, symbol string, limit int) []core.Order {
	orders, err := call(ctx, g, "get_order_history", func(ctx context.Context) ([]core.Order, error) {
		return g.session.OrderHistory(ctx, symbol, limit)
	})
	if err != nil {
		g.logger.Warn("Failed to get order history", "symbol", symbol, "error", err)
		return []core.Order{}
	}
	return orders
}

// GetOrdersParallel reads open orders and filled history at the same time.
// Each leg gets its own OrdersTimeout window; a leg that misses it comes
// back empty while the other is still returned.
func (g *Gateway) GetOrdersParallel(ctx context.Context) ([]core.Order, []core.Order) {
	limit := g.historyLimit

	start := time.Now()
	openF := concurrency.Go(g.pool, func() ([]core.Order, error) {
		return g.GetOpenOrders(ctx, ""), nil
	})
	filledF := concurrency.Go(g.pool, func() ([]core.Order, error) {
		return g.GetOrderHistory(ctx, "", limit), nil
	})

	open := g.waitOrders(openF, start, "open_orders")
	filled := g.waitOrders(filledF, start, "order_history")
	return open, filled
}

func (g *Gateway) waitOrders(f *concurrency.Future[[]core.Order], start time.Time, leg string) []core.Order {
	remaining := g.cfg.OrdersTimeout - time.Since(start)
	if remaining <= 0 {
		remaining = time.Nanosecond
	}
	orders, err := f.Wait(remaining)
	if err != nil {
		g.logger.Warn("Parallel order read failed", "leg", leg, "error", err)
		return []core.Order{}
	}
	return orders
}

// GetBalanceAndPositions reads balance and all positions in parallel
func (g *Gateway) GetBalanceAndPositions(ctx context.Context) (float64, []core.Position) {
	balanceF := concurrency.Go(g.pool, func() (float64, error) {
		return g.GetBalance(ctx), nil
	})
	positionsF := concurrency.Go(g.pool, func() ([]core.Position, error) {
		return g.GetPositions(ctx, ""), nil
	})

	deadline := time.Now().Add(g.cfg.OrdersTimeout)

	balance, err := balanceF.Wait(time.Until(deadline))
	if err != nil {
		g.logger.Warn("Parallel balance read failed", "error", err)
		balance = 0
	}
	positions, err := positionsF.Wait(max(time.Until(deadline), time.Nanosecond))
	if err != nil {
		g.logger.Warn("Parallel positions read failed", "error", err)
		positions = []core.Position{}
	}
	return balance, positions
}

// PlaceOrder places a market or limit order. An empty id means it failed.
func (g *Gateway) PlaceOrder(ctx context.Context, req core.OrderRequest) string {
	req.TriggerPrice = 0
	req.TriggerDirection = core.TriggerNone
	return g.place(ctx, "place_order", req)
}

// PlaceConditionalOrder places an order that arms when TriggerPrice is
// crossed in TriggerDirection. An empty id means it failed.
func (g *Gateway) PlaceConditionalOrder(ctx context.Context, req core.OrderRequest) string {
	if req.TriggerPrice <= 0 || req.TriggerDirection == core.TriggerNone {
		g.logger.Error("Conditional order needs a trigger", "symbol", req.Symbol, "trigger_price", req.TriggerPrice)
		return ""
	}
	return g.place(ctx, "place_conditional_order", req)
}

func (g *Gateway) place(ctx context.Context, op string, req core.OrderRequest) string {
	id, err := call(ctx, g, op, func(ctx context.Context) (string, error) {
		return g.session.CreateOrder(ctx, req)
	})
	if err != nil {
		g.logger.Error("Failed to place order",
			"symbol", req.Symbol,
			"side", req.Side,
			"type", req.OrderType,
			"qty", req.Qty,
			"error", err)
		return ""
	}
	return id
}

// CancelOrder cancels one order, reporting success
func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) bool {
	_, err := call(ctx, g, "cancel_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.session.CancelOrder(ctx, symbol, orderID)
	})
	if err != nil {
		g.logger.Error("Failed to cancel order", "symbol", symbol, "order_id", orderID, "error", err)
		return false
	}
	return true
}

// CancelAllOrders cancels all open orders for symbol, reporting success
func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) bool {
	_, err := call(ctx, g, "cancel_all_orders", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.session.CancelAllOrders(ctx, symbol)
	})
	if err != nil {
		g.logger.Error("Failed to cancel all orders", "symbol", symbol, "error", err)
		return false
	}
	return true
}

// GetTicker returns the last price of symbol, falling back to the public
// endpoint when the session fails. 0 when both fail.
func (g *Gateway) GetTicker(ctx context.Context, symbol string) float64 {
	price, err := g.ticker(ctx, symbol)
	if err != nil {
		g.logger.Warn("Failed to get ticker", "symbol", symbol, "error", err)
		return 0
	}
	return price
}

func (g *Gateway) ticker(ctx context.Context, symbol string) (float64, error) {
	prices, err := call(ctx, g, "get_ticker", func(ctx context.Context) (map[string]float64, error) {
		return g.session.Tickers(ctx, symbol)
	})
	if err == nil {
		if price, ok := prices[symbol]; ok && price > 0 {
			return price, nil
		}
		err = fmt.Errorf("%w: no ticker for %s", apperrors.ErrSymbolNotFound, symbol)
	}

	if g.public == nil {
		return 0, err
	}
	g.metrics.RecordFallback(ctx)
	g.logger.Debug("Session ticker failed, using public endpoint", "symbol", symbol, "error", err)

	pubCtx, cancel := g.publicContext(ctx)
	defer cancel()
	return g.public.Ticker(pubCtx, symbol)
}

func (g *Gateway) publicContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := g.cfg.PublicTimeout
	if timeout <= 0 {
		timeout = config.DefaultConfig().Gateway.PublicTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// GetTickers returns a price for every requested symbol, 0 where unknown.
// Small sets are served by one unfiltered request; larger sets fan out one
// request per symbol on the pool.
func (g *Gateway) GetTickers(ctx context.Context, symbols []string) map[string]float64 {
	if len(symbols) == 0 {
		return map[string]float64{}
	}

	if len(symbols) <= g.cfg.BatchThreshold {
		all := g.allTickers(ctx)
		out := make(map[string]float64, len(symbols))
		for _, s := range symbols {
			out[s] = all[s]
		}
		return out
	}

	return concurrency.FanOut(g.pool, symbols, g.cfg.OrdersTimeout, 0.0, func(symbol string) (float64, error) {
		return g.ticker(ctx, symbol)
	})
}

func (g *Gateway) allTickers(ctx context.Context) map[string]float64 {
	all, err := call(ctx, g, "get_tickers", func(ctx context.Context) (map[string]float64, error) {
		return g.session.Tickers(ctx, "")
	})
	if err == nil {
		return all
	}

	if g.public == nil {
		g.logger.Warn("Failed to get tickers", "error", err)
		return map[string]float64{}
	}
	g.metrics.RecordFallback(ctx)
	g.logger.Debug("Session tickers failed, using public endpoint", "error", err)

	pubCtx, cancel := g.publicContext(ctx)
	defer cancel()
	all, err = g.public.Tickers(pubCtx, "")
	if err != nil {
		g.logger.Warn("Failed to get tickers", "error", err)
		return map[string]float64{}
	}
	return all
}

// TestConnection performs one signed call to verify the credentials
func (g *Gateway) TestConnection(ctx context.Context) error {
	_, err := call(ctx, g, "test_connection", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.session.TestConnection(ctx)
	})
	return err
}
