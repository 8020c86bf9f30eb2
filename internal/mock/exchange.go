// Package mock provides in-memory fakes of the exchange gateway and the
// control server for tests
package mock

import (
	"context"
	"fmt"
	"sync"

	"copytrader/internal/core"
)

// MockExchange implements core.IExchangeGateway in memory
type MockExchange struct {
	mu             sync.RWMutex
	orders         map[string]core.Order
	clientOrderMap map[string]string
	orderIDCounter int64
	placed         []core.OrderRequest

	balance   float64
	positions []core.Position
	history   []core.Order
	tickers   map[string]float64

	connErr error

	// PlaceHook runs before every placement. A non-empty return replaces the
	// order id, "-" makes the placement fail. It may panic to simulate a
	// programmer fault.
	PlaceHook func(req core.OrderRequest) string
}

var _ core.IExchangeGateway = (*MockExchange)(nil)

// NewMockExchange creates an exchange with a 10000 balance
func NewMockExchange() *MockExchange {
	return &MockExchange{
		orders:         make(map[string]core.Order),
		clientOrderMap: make(map[string]string),
		tickers:        make(map[string]float64),
		balance:        10000,
		orderIDCounter: 1000,
	}
}

// SetTicker sets the last price of symbol
func (m *MockExchange) SetTicker(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = price
}

// SetBalance sets the account equity
func (m *MockExchange) SetBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
}

// SetPositions replaces the open positions
func (m *MockExchange) SetPositions(positions []core.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = positions
}

// SetHistory replaces the filled order history
func (m *MockExchange) SetHistory(orders []core.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = orders
}

// SetConnectionError makes TestConnection fail with err
func (m *MockExchange) SetConnectionError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connErr = err
}

// Placed returns every placement request in order
func (m *MockExchange) Placed() []core.OrderRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.OrderRequest, len(m.placed))
	copy(out, m.placed)
	return out
}

func (m *MockExchange) GetBalance(ctx context.Context) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance
}

func (m *MockExchange) GetPositions(ctx context.Context, symbol string) []core.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []core.Position{}
	for _, p := range m.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockExchange) GetOpenOrders(ctx context.Context, symbol string) []core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []core.Order{}
	for _, o := range m.orders {
		if o.Status == "New" && (symbol == "" || o.Symbol == symbol) {
			out = append(out, o)
		}
	}
	return out
}

func (m *MockExchange) GetOrderHistory(ctx context.Context, symbol string, limit int) []core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []core.Order{}
	for _, o := range m.history {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (m *MockExchange) GetOrdersParallel(ctx context.Context) ([]core.Order, []core.Order) {
	return m.GetOpenOrders(ctx, ""), m.GetOrderHistory(ctx, "", 0)
}

func (m *MockExchange) GetBalanceAndPositions(ctx context.Context) (float64, []core.Position) {
	return m.GetBalance(ctx), m.GetPositions(ctx, "")
}

func (m *MockExchange) PlaceOrder(ctx context.Context, req core.OrderRequest) string {
	return m.place(req)
}

func (m *MockExchange) PlaceConditionalOrder(ctx context.Context, req core.OrderRequest) string {
	if req.TriggerPrice <= 0 || req.TriggerDirection == core.TriggerNone {
		return ""
	}
	return m.place(req)
}

func (m *MockExchange) place(req core.OrderRequest) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.placed = append(m.placed, req)

	var override string
	if m.PlaceHook != nil {
		override = m.PlaceHook(req)
		if override == "-" {
			return ""
		}
	}

	// Idempotency: a known client order id returns the existing order
	if req.ClientOrderID != "" {
		if existing, ok := m.clientOrderMap[req.ClientOrderID]; ok {
			return existing
		}
	}

	m.orderIDCounter++
	id := override
	if id == "" {
		id = fmt.Sprintf("mock-%d", m.orderIDCounter)
	}

	status := "Filled"
	if req.OrderType != "Market" {
		status = "New"
	}
	var price float64
	if req.Price != nil {
		price = *req.Price
	}

	m.orders[id] = core.Order{
		OrderID:      id,
		OrderLinkID:  req.ClientOrderID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		OrderType:    req.OrderType,
		Status:       status,
		Price:        price,
		Qty:          req.Qty,
		TriggerPrice: req.TriggerPrice,
	}
	if req.ClientOrderID != "" {
		m.clientOrderMap[req.ClientOrderID] = id
	}
	return id
}

func (m *MockExchange) CancelOrder(ctx context.Context, symbol, orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false
	}
	o.Status = "Cancelled"
	m.orders[orderID] = o
	return true
}

func (m *MockExchange) CancelAllOrders(ctx context.Context, symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.orders {
		if o.Status == "New" && (symbol == "" || o.Symbol == symbol) {
			o.Status = "Cancelled"
			m.orders[id] = o
		}
	}
	return true
}

func (m *MockExchange) GetTicker(ctx context.Context, symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tickers[symbol]
}

func (m *MockExchange) GetTickers(ctx context.Context, symbols []string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = m.tickers[s]
	}
	return out
}

func (m *MockExchange) TestConnection(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connErr
}
