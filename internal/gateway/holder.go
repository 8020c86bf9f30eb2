package gateway

import (
	"context"
	"sync/atomic"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/exchange/bybit"
	"copytrader/pkg/concurrency"
)

// Factory builds a gateway for a credential pair. The public price client
// and the worker pool are shared by every gateway it builds.
type Factory struct {
	cfg    *config.Config
	public *bybit.PublicClient
	pool   *concurrency.WorkerPool
	logger core.ILogger
}

// NewFactory creates a factory from the application config
func NewFactory(cfg *config.Config, pool *concurrency.WorkerPool, logger core.ILogger) *Factory {
	publicURL := cfg.Exchange.PublicURL
	if publicURL == "" {
		publicURL = cfg.Exchange.BaseURL
	}
	return &Factory{
		cfg:    cfg,
		public: bybit.NewPublicClient(publicURL, cfg.Exchange.Category, cfg.Gateway.PublicTimeout, logger),
		pool:   pool,
		logger: logger,
	}
}

// Build creates a gateway. Empty credentials give a gateway without a
// session that still serves public prices.
func (f *Factory) Build(creds bybit.Credentials) *Gateway {
	var session Session
	if !creds.Empty() {
		session = bybit.NewClient(f.cfg.Exchange, creds, f.cfg.Gateway.CallTimeout, f.logger)
	}
	g := New(session, f.public, f.pool, f.cfg.Gateway, f.logger, WithHistoryLimit(f.cfg.Trading.HistoryLimit))
	g.creds = creds
	return g
}

// Instruments reads the exchange's trading rules through the public client
func (f *Factory) Instruments(ctx context.Context, symbol string) ([]core.SymbolRule, error) {
	return f.public.Instruments(ctx, symbol)
}

// Holder is the shared reference dependents use to reach the current
// gateway. A credential change swaps the whole gateway at once.
type Holder struct {
	current atomic.Pointer[Gateway]
}

var _ core.IExchangeGateway = (*Holder)(nil)

// NewHolder creates a holder pointing at g
func NewHolder(g *Gateway) *Holder {
	h := &Holder{}
	h.current.Store(g)
	return h
}

// Load returns the current gateway
func (h *Holder) Load() *Gateway {
	return h.current.Load()
}

// Swap installs g and returns the previous gateway
func (h *Holder) Swap(g *Gateway) *Gateway {
	return h.current.Swap(g)
}

// Credentials returns the key pair of the current gateway
func (h *Holder) Credentials() bybit.Credentials {
	return h.Load().creds
}

func (h *Holder) GetBalance(ctx context.Context) float64 {
	return h.Load().GetBalance(ctx)
}

func (h *Holder) GetPositions(ctx context.Context, symbol string) []core.Position {
	return h.Load().GetPositions(ctx, symbol)
}

func (h *Holder) GetOpenOrders(ctx context.Context, symbol string) []core.Order {
	return h.Load().GetOpenOrders(ctx, symbol)
}

func (h *Holder) GetOrderHistory(ctx context.Context, symbol string, limit int) []core.Order {
	return h.Load().GetOrderHistory(ctx, symbol, limit)
}

func (h *Holder) GetOrdersParallel(ctx context.Context) ([]core.Order, []core.Order) {
	return h.Load().GetOrdersParallel(ctx)
}

func (h *Holder) GetBalanceAndPositions(ctx context.Context) (float64, []core.Position) {
	return h.Load().GetBalanceAndPositions(ctx)
}

func (h *Holder) PlaceOrder(ctx context.Context, req core.OrderRequest) string {
	return h.Load().PlaceOrder(ctx, req)
}

func (h *Holder) PlaceConditionalOrder(ctx context.Context, req core.OrderRequest) string {
	return h.Load().PlaceConditionalOrder(ctx, req)
}

func (h *Holder) CancelOrder(ctx context.Context, symbol, orderID string) bool {
	return h.Load().CancelOrder(ctx, symbol, orderID)
}

func (h *Holder) CancelAllOrders(ctx context.Context, symbol string) bool {
	return h.Load().CancelAllOrders(ctx, symbol)
}

func (h *Holder) GetTicker(ctx context.Context, symbol string) float64 {
	return h.Load().GetTicker(ctx, symbol)
}

func (h *Holder) GetTickers(ctx context.Context, symbols []string) map[string]float64 {
	return h.Load().GetTickers(ctx, symbols)
}

func (h *Holder) TestConnection(ctx context.Context) error {
	return h.Load().TestConnection(ctx)
}
