// Package execution turns a sized command into an exchange order
package execution

import (
	"context"
	"fmt"

	"copytrader/internal/core"
)

// Exchange order type spellings
const (
	orderTypeMarket = "Market"
	orderTypeLimit  = "Limit"
)

const msgOrderNotPlaced = "Order not placed"

// ClientOrderID is the exchange link id for a command. Re-sending the same
// command reuses it, so the exchange rejects the duplicate.
func ClientOrderID(commandID int64) string {
	return fmt.Sprintf("ct-%d", commandID)
}

// Dispatcher places the order a command asks for. It holds no state.
type Dispatcher struct {
	exchange core.IExchangeGateway
	logger   core.ILogger
}

// NewDispatcher creates a dispatcher over the exchange gateway
func NewDispatcher(exchange core.IExchangeGateway, logger core.ILogger) *Dispatcher {
	return &Dispatcher{
		exchange: exchange,
		logger:   logger.WithField("component", "dispatcher"),
	}
}

// Dispatch places cmd for qty. The current price is read once up front: it
// is the reported price for market orders and the fallback for limit and
// conditional orders without a trade price. Fee is always 0 at placement.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd core.Command, qty float64) core.ExecutionResult {
	orderType, err := core.ParseOrderType(cmd.OrderType)
	if err != nil {
		d.logger.Warn("Unsupported order type", "command_id", cmd.ID, "order_type", cmd.OrderType)
		return core.ExecutionResult{Status: core.StatusFailed, Message: err.Error()}
	}

	current := d.exchange.GetTicker(ctx, cmd.Symbol)

	price := cmd.Price()
	if price <= 0 {
		price = current
	}

	req := core.OrderRequest{
		Symbol:        cmd.Symbol,
		Side:          cmd.Side,
		Qty:           qty,
		ClientOrderID: ClientOrderID(cmd.ID),
	}

	var orderID string
	switch orderType.(type) {
	case core.Market:
		// Open and close both trade in the command's side; the master
		// already sends the flattening side for a close.
		req.OrderType = orderTypeMarket
		orderID = d.exchange.PlaceOrder(ctx, req)
		price = current

	case core.Limit:
		if price <= 0 {
			return core.ExecutionResult{Status: core.StatusFailed, Message: "Limit order has no price"}
		}
		req.OrderType = orderTypeLimit
		req.Price = &price
		orderID = d.exchange.PlaceOrder(ctx, req)

	case core.StopLimit:
		orderID = d.placeConditional(ctx, req, cmd, triggerWith(cmd.Side))

	case core.ProfitLimit:
		orderID = d.placeConditional(ctx, req, cmd, triggerAgainst(cmd.Side))
	}

	if orderID == "" {
		return core.ExecutionResult{Status: core.StatusFailed, Message: msgOrderNotPlaced}
	}

	d.logger.Info("Order placed",
		"command_id", cmd.ID,
		"symbol", cmd.Symbol,
		"side", cmd.Side,
		"order_type", orderType.Kind(),
		"qty", qty,
		"order_id", orderID)

	return core.ExecutionResult{
		Status:          core.StatusSuccess,
		ExchangeOrderID: orderID,
		Price:           price,
		Fee:             0,
	}
}

// placeConditional arms a limit order at the trade price once the trade
// price is crossed in dir
func (d *Dispatcher) placeConditional(ctx context.Context, req core.OrderRequest, cmd core.Command, dir core.TriggerDirection) string {
	trigger := cmd.Price()
	if trigger <= 0 {
		d.logger.Warn("Conditional order has no trade price", "command_id", cmd.ID, "symbol", cmd.Symbol)
		return ""
	}
	req.OrderType = orderTypeLimit
	req.Price = &trigger
	req.TriggerPrice = trigger
	req.TriggerDirection = dir
	return d.exchange.PlaceConditionalOrder(ctx, req)
}

// A buy stop triggers on a rise, a sell stop on a fall
func triggerWith(side core.Side) core.TriggerDirection {
	if side == core.SideBuy {
		return core.TriggerOnRise
	}
	return core.TriggerOnFall
}

func triggerAgainst(side core.Side) core.TriggerDirection {
	if side == core.SideBuy {
		return core.TriggerOnFall
	}
	return core.TriggerOnRise
}
