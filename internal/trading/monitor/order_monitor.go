package monitor

import (
	"context"
	"sync"

	"copytrader/internal/core"
	"copytrader/internal/infrastructure/events"
)

// DefaultHistoryLimit is how many filled orders a history refresh keeps
const DefaultHistoryLimit = 50

// OrderMonitor caches open orders and the filled order history
type OrderMonitor struct {
	exchange     core.IExchangeGateway
	bus          *events.Bus
	logger       core.ILogger
	historyLimit int

	mu      sync.RWMutex
	open    []core.Order
	history []core.Order
}

// NewOrderMonitor creates an empty order cache
func NewOrderMonitor(exchange core.IExchangeGateway, bus *events.Bus, historyLimit int, logger core.ILogger) *OrderMonitor {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &OrderMonitor{
		exchange:     exchange,
		bus:          bus,
		logger:       logger.WithField("component", "order_monitor"),
		historyLimit: historyLimit,
	}
}

// OpenOrders returns a copy of the cached open orders
func (om *OrderMonitor) OpenOrders() []core.Order {
	om.mu.RLock()
	defer om.mu.RUnlock()
	return append([]core.Order(nil), om.open...)
}

// History returns a copy of the cached filled orders
func (om *OrderMonitor) History() []core.Order {
	om.mu.RLock()
	defer om.mu.RUnlock()
	return append([]core.Order(nil), om.history...)
}

// RefreshOpen fetches open orders on every symbol and emits them
func (om *OrderMonitor) RefreshOpen(ctx context.Context) error {
	orders := om.exchange.GetOpenOrders(ctx, "")

	om.mu.Lock()
	om.open = orders
	om.mu.Unlock()

	om.bus.Emit(events.OnOrdersUpdated, om.OpenOrders())
	return nil
}

// RefreshHistory fetches the filled order history and emits it
func (om *OrderMonitor) RefreshHistory(ctx context.Context) error {
	orders := om.exchange.GetOrderHistory(ctx, "", om.historyLimit)

	om.mu.Lock()
	om.history = orders
	om.mu.Unlock()

	om.bus.Emit(events.OnHistoryUpdated, om.History())
	return nil
}

// RefreshAll fetches open orders and history in parallel and emits both
func (om *OrderMonitor) RefreshAll(ctx context.Context) error {
	open, filled := om.exchange.GetOrdersParallel(ctx)

	om.mu.Lock()
	om.open = open
	om.history = filled
	om.mu.Unlock()

	om.logger.Debug("Orders loaded", "open", len(open), "filled", len(filled))
	om.bus.Emit(events.OnOrdersUpdated, om.OpenOrders())
	om.bus.Emit(events.OnHistoryUpdated, om.History())
	return nil
}
