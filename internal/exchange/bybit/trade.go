package bybit

import (
	"context"
	"errors"
	"fmt"

	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/tradingutils"
)

type createOrderRequest struct {
	Category         string `json:"category"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	OrderType        string `json:"orderType"`
	Qty              string `json:"qty"`
	Price            string `json:"price,omitempty"`
	TriggerPrice     string `json:"triggerPrice,omitempty"`
	TriggerDirection int    `json:"triggerDirection,omitempty"`
	TimeInForce      string `json:"timeInForce,omitempty"`
	OrderLinkID      string `json:"orderLinkId,omitempty"`
}

type orderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// CreateOrder places a market, limit or conditional order. Qty and prices go
// out as exact decimal strings. A duplicate orderLinkId resolves to the order
// that already carries it.
func (c *Client) CreateOrder(ctx context.Context, req core.OrderRequest) (string, error) {
	if req.Qty <= 0 {
		return "", fmt.Errorf("%w: qty %v", apperrors.ErrInvalidOrderParameter, req.Qty)
	}

	body := createOrderRequest{
		Category:    c.category,
		Symbol:      req.Symbol,
		Side:        string(req.Side),
		OrderType:   req.OrderType,
		Qty:         tradingutils.FormatDecimal(req.Qty),
		OrderLinkID: req.ClientOrderID,
	}
	if body.OrderType == "" {
		body.OrderType = "Market"
	}
	if req.Price != nil && body.OrderType != "Market" {
		body.Price = tradingutils.FormatDecimal(*req.Price)
		body.TimeInForce = "GTC"
	}
	if req.TriggerDirection != core.TriggerNone {
		body.TriggerPrice = tradingutils.FormatDecimal(req.TriggerPrice)
		body.TriggerDirection = int(req.TriggerDirection)
	}

	res, err := post[orderResult](ctx, c.BaseAdapter, "/v5/order/create", body)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateOrder) && req.ClientOrderID != "" {
			existing, lookupErr := c.OrderByLinkID(ctx, req.Symbol, req.ClientOrderID)
			if lookupErr == nil && existing != nil {
				c.Logger.Info("Order already placed", "symbol", req.Symbol, "order_link_id", req.ClientOrderID, "order_id", existing.OrderID)
				return existing.OrderID, nil
			}
		}
		return "", err
	}

	return res.OrderID, nil
}

// CancelOrder cancels one order. An order that is already gone counts as cancelled.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	_, err := post[orderResult](ctx, c.BaseAdapter, "/v5/order/cancel", body)
	if errors.Is(err, apperrors.ErrOrderNotFound) {
		c.Logger.Debug("Order already closed", "symbol", symbol, "order_id", orderID)
		return nil
	}
	return err
}

// CancelAllOrders cancels every open order for symbol, or for the settle coin
// when symbol is empty
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]string{"category": c.category}
	if symbol != "" {
		body["symbol"] = symbol
	} else {
		body["settleCoin"] = c.settleCoin
	}
	_, err := post[struct {
		List []orderResult `json:"list"`
	}](ctx, c.BaseAdapter, "/v5/order/cancel-all", body)
	return err
}
