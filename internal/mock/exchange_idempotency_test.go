package mock

import (
	"context"
	"testing"

	"copytrader/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestMockExchange_ClientOrderIDIdempotency(t *testing.T) {
	m := NewMockExchange()
	ctx := context.Background()

	req := core.OrderRequest{Symbol: "BTCUSDT", Side: core.SideBuy, Qty: 1, OrderType: "Market", ClientOrderID: "ct-1"}
	first := m.PlaceOrder(ctx, req)
	second := m.PlaceOrder(ctx, req)

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Len(t, m.Placed(), 2)
}

func TestMockExchange_PlaceHookFails(t *testing.T) {
	m := NewMockExchange()
	m.PlaceHook = func(core.OrderRequest) string { return "-" }

	assert.Empty(t, m.PlaceOrder(context.Background(), core.OrderRequest{Symbol: "BTCUSDT", Qty: 1}))
}

func TestMockExchange_OpenOrdersAndCancel(t *testing.T) {
	m := NewMockExchange()
	ctx := context.Background()
	price := 100.0

	id := m.PlaceOrder(ctx, core.OrderRequest{Symbol: "ETHUSDT", Side: core.SideSell, Qty: 2, OrderType: "Limit", Price: &price})
	assert.Len(t, m.GetOpenOrders(ctx, "ETHUSDT"), 1)

	assert.True(t, m.CancelOrder(ctx, "ETHUSDT", id))
	assert.Empty(t, m.GetOpenOrders(ctx, ""))
	assert.False(t, m.CancelOrder(ctx, "ETHUSDT", "missing"))
}
