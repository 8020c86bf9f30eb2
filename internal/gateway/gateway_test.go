package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/exchange/bybit"
	"copytrader/pkg/concurrency"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu    sync.Mutex
	calls map[string]int

	balance    func() (float64, error)
	positions  func() ([]core.Position, error)
	openOrders func() ([]core.Order, error)
	history    func() ([]core.Order, error)
	create     func(req core.OrderRequest) (string, error)
	tickers    func(symbol string) (map[string]float64, error)
}

func (f *fakeSession) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
}

func (f *fakeSession) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeSession) WalletBalance(ctx context.Context) (float64, error) {
	f.record("balance")
	return f.balance()
}

func (f *fakeSession) Positions(ctx context.Context, symbol string) ([]core.Position, error) {
	f.record("positions")
	return f.positions()
}

func (f *fakeSession) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	f.record("open_orders")
	return f.openOrders()
}

func (f *fakeSession) OrderHistory(ctx context.Context, symbol string, limit int) ([]core.Order, error) {
	f.record("history")
	return f.history()
}

func (f *fakeSession) CreateOrder(ctx context.Context, req core.OrderRequest) (string, error) {
	f.record("create")
	return f.create(req)
}

func (f *fakeSession) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.record("cancel")
	return nil
}

func (f *fakeSession) CancelAllOrders(ctx context.Context, symbol string) error {
	f.record("cancel_all")
	return errors.New("boom")
}

func (f *fakeSession) Tickers(ctx context.Context, symbol string) (map[string]float64, error) {
	f.record("tickers")
	return f.tickers(symbol)
}

func (f *fakeSession) TestConnection(ctx context.Context) error {
	f.record("test")
	return nil
}

type fakePublic struct {
	calls  atomic.Int32
	prices map[string]float64
	err    error
}

func (p *fakePublic) Ticker(ctx context.Context, symbol string) (float64, error) {
	p.calls.Add(1)
	if p.err != nil {
		return 0, p.err
	}
	return p.prices[symbol], nil
}

func (p *fakePublic) Tickers(ctx context.Context, symbol string) (map[string]float64, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.prices, nil
}

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		RetryAttempts:  1,
		RetryBackoff:   5 * time.Millisecond,
		CallTimeout:    time.Second,
		OrdersTimeout:  200 * time.Millisecond,
		BatchThreshold: 5,
		PublicTimeout:  time.Second,
	}
}

func newTestGateway(t *testing.T, s Session, p PriceSource) *Gateway {
	t.Helper()
	logger := logging.NewNopLogger()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 8}, logger)
	t.Cleanup(pool.Stop)
	return New(s, p, pool, testConfig(), logger)
}

var errTimeout = fmt.Errorf("GET /v5/account/wallet-balance: %w", apperrors.ErrTimeout)

func TestGetBalance_RetriesOnceOnTimeout(t *testing.T) {
	attempts := 0
	s := &fakeSession{balance: func() (float64, error) {
		attempts++
		if attempts == 1 {
			return 0, errTimeout
		}
		return 250.5, nil
	}}
	g := newTestGateway(t, s, nil)

	assert.Equal(t, 250.5, g.GetBalance(context.Background()))
	assert.Equal(t, 2, s.count("balance"))
}

func TestGetBalance_GivesUpAfterRetry(t *testing.T) {
	s := &fakeSession{balance: func() (float64, error) { return 0, errTimeout }}
	g := newTestGateway(t, s, nil)

	assert.Equal(t, 0.0, g.GetBalance(context.Background()))
	assert.Equal(t, 2, s.count("balance"))
}

func TestGetBalance_NoRetryOnOtherErrors(t *testing.T) {
	s := &fakeSession{balance: func() (float64, error) { return 0, apperrors.ErrAuthenticationFailed }}
	g := newTestGateway(t, s, nil)

	assert.Equal(t, 0.0, g.GetBalance(context.Background()))
	assert.Equal(t, 1, s.count("balance"))
}

func TestReadsDegradeToEmpty(t *testing.T) {
	fail := errors.New("boom")
	s := &fakeSession{
		positions:  func() ([]core.Position, error) { return nil, fail },
		openOrders: func() ([]core.Order, error) { return nil, fail },
		history:    func() ([]core.Order, error) { return nil, fail },
	}
	g := newTestGateway(t, s, nil)
	ctx := context.Background()

	assert.NotNil(t, g.GetPositions(ctx, ""))
	assert.Empty(t, g.GetPositions(ctx, ""))
	assert.Empty(t, g.GetOpenOrders(ctx, "BTCUSDT"))
	assert.Empty(t, g.GetOrderHistory(ctx, "", 50))
}

func TestPlaceOrder_EmptyIDOnFailure(t *testing.T) {
	s := &fakeSession{create: func(req core.OrderRequest) (string, error) {
		return "", apperrors.ErrInsufficientFunds
	}}
	g := newTestGateway(t, s, nil)

	id := g.PlaceOrder(context.Background(), core.OrderRequest{Symbol: "BTCUSDT", Side: core.SideBuy, Qty: 1, OrderType: "Market"})
	assert.Empty(t, id)
	assert.Equal(t, 1, s.count("create"))
}

func TestPlaceOrder_ClearsTrigger(t *testing.T) {
	var got core.OrderRequest
	s := &fakeSession{create: func(req core.OrderRequest) (string, error) {
		got = req
		return "ex-1", nil
	}}
	g := newTestGateway(t, s, nil)

	id := g.PlaceOrder(context.Background(), core.OrderRequest{
		Symbol: "BTCUSDT", Side: core.SideBuy, Qty: 1, OrderType: "Market",
		TriggerPrice: 100, TriggerDirection: core.TriggerOnRise,
	})
	assert.Equal(t, "ex-1", id)
	assert.Equal(t, core.TriggerNone, got.TriggerDirection)
	assert.Zero(t, got.TriggerPrice)
}

func TestPlaceConditionalOrder_RequiresTrigger(t *testing.T) {
	s := &fakeSession{create: func(req core.OrderRequest) (string, error) { return "ex-1", nil }}
	g := newTestGateway(t, s, nil)
	ctx := context.Background()

	assert.Empty(t, g.PlaceConditionalOrder(ctx, core.OrderRequest{Symbol: "BTCUSDT", Qty: 1}))
	assert.Equal(t, 0, s.count("create"))

	id := g.PlaceConditionalOrder(ctx, core.OrderRequest{
		Symbol: "BTCUSDT", Side: core.SideSell, Qty: 1, OrderType: "Limit",
		TriggerPrice: 100, TriggerDirection: core.TriggerOnFall,
	})
	assert.Equal(t, "ex-1", id)
}

func TestCancel(t *testing.T) {
	s := &fakeSession{}
	g := newTestGateway(t, s, nil)
	ctx := context.Background()

	assert.True(t, g.CancelOrder(ctx, "BTCUSDT", "ex-1"))
	assert.False(t, g.CancelAllOrders(ctx, "BTCUSDT"))
}

func TestGetTicker_FallsBackToPublic(t *testing.T) {
	s := &fakeSession{tickers: func(string) (map[string]float64, error) {
		return nil, apperrors.ErrAuthenticationFailed
	}}
	pub := &fakePublic{prices: map[string]float64{"BTCUSDT": 61000}}
	g := newTestGateway(t, s, pub)

	assert.Equal(t, 61000.0, g.GetTicker(context.Background(), "BTCUSDT"))
	assert.Equal(t, int32(1), pub.calls.Load())
}

func TestGetTicker_ZeroOnTotalFailure(t *testing.T) {
	s := &fakeSession{tickers: func(string) (map[string]float64, error) { return nil, errors.New("boom") }}
	pub := &fakePublic{err: errors.New("public down")}
	g := newTestGateway(t, s, pub)

	assert.Equal(t, 0.0, g.GetTicker(context.Background(), "BTCUSDT"))
}

func TestGetTicker_NoSessionUsesPublic(t *testing.T) {
	pub := &fakePublic{prices: map[string]float64{"ETHUSDT": 3000}}
	g := newTestGateway(t, nil, pub)
	ctx := context.Background()

	assert.Equal(t, 3000.0, g.GetTicker(ctx, "ETHUSDT"))
	assert.Equal(t, 0.0, g.GetBalance(ctx))
	assert.Empty(t, g.PlaceOrder(ctx, core.OrderRequest{Symbol: "ETHUSDT", Qty: 1}))
	assert.ErrorIs(t, g.TestConnection(ctx), apperrors.ErrNotConfigured)
}

func TestGetTickers_SmallSetUsesOneBatch(t *testing.T) {
	s := &fakeSession{tickers: func(symbol string) (map[string]float64, error) {
		assert.Empty(t, symbol)
		return map[string]float64{"BTCUSDT": 60000, "ETHUSDT": 3000, "SOLUSDT": 150}, nil
	}}
	g := newTestGateway(t, s, nil)

	prices := g.GetTickers(context.Background(), []string{"BTCUSDT", "ETHUSDT", "XYZUSDT"})
	assert.Equal(t, map[string]float64{"BTCUSDT": 60000, "ETHUSDT": 3000, "XYZUSDT": 0}, prices)
	assert.Equal(t, 1, s.count("tickers"))
}

func TestGetTickers_LargeSetFansOut(t *testing.T) {
	symbols := []string{"A", "B", "C", "D", "E", "F", "G"}
	s := &fakeSession{tickers: func(symbol string) (map[string]float64, error) {
		switch symbol {
		case "C":
			return nil, errors.New("boom")
		case "D":
			time.Sleep(2 * time.Second)
		}
		return map[string]float64{symbol: 10}, nil
	}}
	g := newTestGateway(t, s, &fakePublic{err: errors.New("public down")})

	start := time.Now()
	prices := g.GetTickers(context.Background(), symbols)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, prices, len(symbols))
	assert.Equal(t, 10.0, prices["A"])
	assert.Equal(t, 0.0, prices["C"])
	assert.Equal(t, 0.0, prices["D"])
	assert.Equal(t, len(symbols), s.count("tickers"))
}

func TestGetOrdersParallel_SlowLegDegrades(t *testing.T) {
	s := &fakeSession{
		openOrders: func() ([]core.Order, error) {
			return []core.Order{{OrderID: "open-1"}}, nil
		},
		history: func() ([]core.Order, error) {
			time.Sleep(time.Second)
			return []core.Order{{OrderID: "late"}}, nil
		},
	}
	g := newTestGateway(t, s, nil)

	start := time.Now()
	open, filled := g.GetOrdersParallel(context.Background())
	assert.Less(t, time.Since(start), 600*time.Millisecond)

	require.Len(t, open, 1)
	assert.Equal(t, "open-1", open[0].OrderID)
	assert.Empty(t, filled)
}

func TestGetBalanceAndPositions_RunInParallel(t *testing.T) {
	s := &fakeSession{
		balance: func() (float64, error) {
			time.Sleep(100 * time.Millisecond)
			return 500, nil
		},
		positions: func() ([]core.Position, error) {
			time.Sleep(100 * time.Millisecond)
			return []core.Position{{Symbol: "BTCUSDT", Size: 1}}, nil
		},
	}
	g := newTestGateway(t, s, nil)

	start := time.Now()
	balance, positions := g.GetBalanceAndPositions(context.Background())
	assert.Less(t, time.Since(start), 190*time.Millisecond)
	assert.Equal(t, 500.0, balance)
	require.Len(t, positions, 1)
}

func TestHolderSwap(t *testing.T) {
	first := newTestGateway(t, &fakeSession{balance: func() (float64, error) { return 1, nil }}, nil)
	second := newTestGateway(t, &fakeSession{balance: func() (float64, error) { return 2, nil }}, nil)
	second.creds = bybit.Credentials{APIKey: "k2"}

	h := NewHolder(first)
	assert.Equal(t, 1.0, h.GetBalance(context.Background()))

	prev := h.Swap(second)
	assert.Same(t, first, prev)
	assert.Equal(t, 2.0, h.GetBalance(context.Background()))
	assert.Equal(t, "k2", string(h.Credentials().APIKey))
}

func TestFactoryBuild(t *testing.T) {
	logger := logging.NewNopLogger()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test"}, logger)
	defer pool.Stop()

	f := NewFactory(config.DefaultConfig(), pool, logger)

	empty := f.Build(bybit.Credentials{})
	assert.Nil(t, empty.session)
	assert.NotNil(t, empty.public)

	g := f.Build(bybit.Credentials{APIKey: "abcdefghijklmnop", APISecret: "abcdefghijklmnop"})
	assert.NotNil(t, g.session)
	assert.Equal(t, config.Secret("abcdefghijklmnop"), g.creds.APIKey)
}
