package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"copytrader/internal/core"
	"copytrader/internal/infrastructure/events"
	"copytrader/internal/mock"
	"copytrader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects bus payloads per event. Emits from InitialLoad come from
// several goroutines.
type recorder struct {
	mu  sync.Mutex
	got map[string][]interface{}
}

func record(bus *events.Bus, names ...string) *recorder {
	r := &recorder{got: make(map[string][]interface{})}
	for _, name := range names {
		name := name
		bus.Subscribe(name, func(data interface{}) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.got[name] = append(r.got[name], data)
			return nil
		})
	}
	return r
}

func (r *recorder) last(name string) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.got[name]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got[name])
}

func setup() (*Monitor, *mock.MockExchange, *recorder) {
	logger := logging.NewNopLogger()
	ex := mock.NewMockExchange()
	bus := events.NewBus(logger)
	rec := record(bus,
		events.OnPriceUpdated,
		events.OnBalanceUpdated,
		events.OnPositionsUpdated,
		events.OnOrdersUpdated,
		events.OnHistoryUpdated,
	)
	return New(ex, bus, 0, logger), ex, rec
}

func TestMonitor_TasksSkippedWhileDisconnected(t *testing.T) {
	m, ex, rec := setup()
	ex.SetTicker("BTCUSDT", 60000)
	m.Prices.SetSymbols([]string{"BTCUSDT"})

	ctx := context.Background()
	require.NoError(t, m.UpdatePrices(ctx))
	require.NoError(t, m.UpdateBalance(ctx))
	require.NoError(t, m.UpdateOrders(ctx))
	require.NoError(t, m.UpdateHistory(ctx))
	require.NoError(t, m.InitialLoad(ctx))

	assert.Equal(t, 0.0, m.Prices.Price("BTCUSDT"))
	assert.Equal(t, 0.0, m.Account.WalletBalance())
	assert.Equal(t, 0, rec.count(events.OnPriceUpdated))
	assert.Equal(t, 0, rec.count(events.OnBalanceUpdated))

	m.SetConnected(true)
	require.NoError(t, m.UpdatePrices(ctx))
	assert.Equal(t, 60000.0, m.Prices.Price("BTCUSDT"))
	assert.Equal(t, 1, rec.count(events.OnPriceUpdated))
}

func TestPriceMonitor_KeepsLastKnownPrice(t *testing.T) {
	m, ex, rec := setup()
	m.SetConnected(true)
	m.Prices.SetSymbols([]string{"ETHUSDT", "BTCUSDT"})
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, m.Prices.Symbols())

	ex.SetTicker("BTCUSDT", 60000)
	ex.SetTicker("ETHUSDT", 3000)
	require.NoError(t, m.UpdatePrices(context.Background()))

	// The next read fails for BTC
	ex.SetTicker("BTCUSDT", 0)
	ex.SetTicker("ETHUSDT", 3100)
	require.NoError(t, m.UpdatePrices(context.Background()))

	assert.Equal(t, 60000.0, m.Prices.Price("BTCUSDT"))
	assert.Equal(t, 3100.0, m.Prices.Price("ETHUSDT"))
	assert.Equal(t, map[string]float64{"BTCUSDT": 60000, "ETHUSDT": 3100}, rec.last(events.OnPriceUpdated))
	assert.NoError(t, m.Prices.CheckHealth(time.Minute))
}

func TestPriceMonitor_SetSymbolsAndStreamUpdates(t *testing.T) {
	m, _, _ := setup()
	assert.Error(t, m.Prices.CheckHealth(time.Minute))

	m.Prices.SetSymbols([]string{"BTCUSDT"})
	m.Prices.Update("BTCUSDT", 61000)
	m.Prices.Update("BTCUSDT", 0)
	m.Prices.Update("DOGEUSDT", 0.1)

	assert.Equal(t, map[string]float64{"BTCUSDT": 61000}, m.Prices.Prices())

	// Tracked prices survive a symbol change, dropped symbols go away
	m.Prices.SetSymbols([]string{"BTCUSDT", "SOLUSDT"})
	assert.Equal(t, map[string]float64{"BTCUSDT": 61000, "SOLUSDT": 0}, m.Prices.Prices())
	m.Prices.SetSymbols([]string{"SOLUSDT"})
	assert.Equal(t, 0.0, m.Prices.Price("BTCUSDT"))
}

func TestAccountMonitor_RefreshEmitsBalanceAndPositions(t *testing.T) {
	m, ex, rec := setup()
	m.SetConnected(true)
	ex.SetBalance(2500)
	ex.SetPositions([]core.Position{{Symbol: "BTCUSDT", Side: core.SideBuy, Size: 0.1, AvgPrice: 60000}})
	m.Account.SetTradingBalance(100)

	require.NoError(t, m.UpdateBalance(context.Background()))

	assert.Equal(t, BalanceSnapshot{Wallet: 2500, Trading: 100}, rec.last(events.OnBalanceUpdated))
	positions, ok := rec.last(events.OnPositionsUpdated).([]core.Position)
	require.True(t, ok)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)

	pnl, err := m.Account.PositionPnL("BTCUSDT", core.SideBuy, 61000)
	require.NoError(t, err)
	assert.InDelta(t, 100, pnl, 1e-9)

	_, err = m.Account.PositionPnL("BTCUSDT", core.SideSell, 61000)
	assert.Error(t, err)
}

func TestAccountMonitor_Ratio(t *testing.T) {
	m, ex, _ := setup()
	m.SetConnected(true)

	m.Account.SetTradingBalance(100)
	assert.Equal(t, 0.0, m.Account.Ratio())

	m.Account.SetMasterBalance(1000)
	assert.Equal(t, 0.1, m.Account.Ratio())

	ex.SetBalance(500)
	require.NoError(t, m.Account.LoadBalance(context.Background()))
	assert.NoError(t, m.Account.ValidateTradingBalance(500))
	assert.Error(t, m.Account.ValidateTradingBalance(501))
}

func TestOrderMonitor_Refresh(t *testing.T) {
	logger := logging.NewNopLogger()
	ex := mock.NewMockExchange()
	bus := events.NewBus(logger)
	rec := record(bus, events.OnOrdersUpdated, events.OnHistoryUpdated)

	price := 59000.0
	ex.PlaceOrder(context.Background(), core.OrderRequest{Symbol: "BTCUSDT", Side: core.SideBuy, OrderType: "Limit", Qty: 0.1, Price: &price})
	ex.SetHistory([]core.Order{{OrderID: "h1"}, {OrderID: "h2"}, {OrderID: "h3"}})

	om := NewOrderMonitor(ex, bus, 2, logger)
	require.NoError(t, om.RefreshOpen(context.Background()))
	require.NoError(t, om.RefreshHistory(context.Background()))

	require.Len(t, om.OpenOrders(), 1)
	assert.Equal(t, "BTCUSDT", om.OpenOrders()[0].Symbol)
	assert.Len(t, om.History(), 2)
	assert.Equal(t, 1, rec.count(events.OnOrdersUpdated))
	assert.Equal(t, 1, rec.count(events.OnHistoryUpdated))
}

func TestMonitor_InitialLoad(t *testing.T) {
	m, ex, rec := setup()
	m.SetConnected(true)
	ex.SetBalance(1234)
	ex.SetTicker("BTCUSDT", 60000)
	ex.SetPositions([]core.Position{{Symbol: "BTCUSDT", Side: core.SideSell, Size: 0.2, AvgPrice: 61000}})
	ex.SetHistory([]core.Order{{OrderID: "h1", Symbol: "BTCUSDT"}})
	m.Prices.SetSymbols([]string{"BTCUSDT"})

	require.NoError(t, m.InitialLoad(context.Background()))

	assert.Equal(t, 1234.0, m.Account.WalletBalance())
	assert.Equal(t, 60000.0, m.Prices.Price("BTCUSDT"))
	assert.Len(t, m.Account.Positions(), 1)
	assert.Len(t, m.Orders.History(), 1)

	assert.Equal(t, BalanceSnapshot{Wallet: 1234}, rec.last(events.OnBalanceUpdated))
	assert.Equal(t, 1, rec.count(events.OnPriceUpdated))
	assert.Equal(t, 1, rec.count(events.OnPositionsUpdated))
	assert.Equal(t, 1, rec.count(events.OnOrdersUpdated))
	assert.Equal(t, 1, rec.count(events.OnHistoryUpdated))
}
