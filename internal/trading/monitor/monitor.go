package monitor

import (
	"context"
	"sync/atomic"

	"copytrader/internal/core"
	"copytrader/internal/infrastructure/events"

	"golang.org/x/sync/errgroup"
)

// Monitor groups the caches and gates their refresh tasks on exchange
// connectivity
type Monitor struct {
	Prices  *PriceMonitor
	Account *AccountMonitor
	Orders  *OrderMonitor

	logger    core.ILogger
	connected atomic.Bool
}

// New creates the caches over one exchange gateway
func New(exchange core.IExchangeGateway, bus *events.Bus, historyLimit int, logger core.ILogger) *Monitor {
	return &Monitor{
		Prices:  NewPriceMonitor(exchange, bus, logger),
		Account: NewAccountMonitor(exchange, bus, logger),
		Orders:  NewOrderMonitor(exchange, bus, historyLimit, logger),
		logger:  logger.WithField("component", "monitor"),
	}
}

// SetConnected records whether the exchange answered the last connection test
func (m *Monitor) SetConnected(up bool) {
	m.connected.Store(up)
}

// Connected reports the exchange connectivity flag
func (m *Monitor) Connected() bool {
	return m.connected.Load()
}

// UpdatePrices is the update_prices task
func (m *Monitor) UpdatePrices(ctx context.Context) error {
	if !m.Connected() {
		return nil
	}
	return m.Prices.Refresh(ctx)
}

// UpdateBalance is the update_balance task
func (m *Monitor) UpdateBalance(ctx context.Context) error {
	if !m.Connected() {
		return nil
	}
	return m.Account.Refresh(ctx)
}

// UpdateOrders is the update_orders task
func (m *Monitor) UpdateOrders(ctx context.Context) error {
	if !m.Connected() {
		return nil
	}
	return m.Orders.RefreshOpen(ctx)
}

// UpdateHistory is the update_history task
func (m *Monitor) UpdateHistory(ctx context.Context) error {
	if !m.Connected() {
		return nil
	}
	return m.Orders.RefreshHistory(ctx)
}

// InitialLoad loads the balance first, then prices, positions and orders in
// parallel
func (m *Monitor) InitialLoad(ctx context.Context) error {
	if !m.Connected() {
		return nil
	}

	if err := m.Account.LoadBalance(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Prices.Refresh(gctx) })
	g.Go(func() error { return m.Account.RefreshPositions(gctx) })
	g.Go(func() error { return m.Orders.RefreshAll(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	m.logger.Info("Initial data loaded",
		"wallet", m.Account.WalletBalance(),
		"positions", len(m.Account.Positions()),
		"open_orders", len(m.Orders.OpenOrders()))
	return nil
}
