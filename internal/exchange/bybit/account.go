package bybit

import (
	"context"
	"net/url"
	"strconv"

	"copytrader/internal/core"
)

type walletResult struct {
	List []struct {
		AccountType           string `json:"accountType"`
		TotalEquity           string `json:"totalEquity"`
		TotalWalletBalance    string `json:"totalWalletBalance"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
	} `json:"list"`
}

// WalletBalance returns the unified account's total equity
func (c *Client) WalletBalance(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")

	res, err := get[walletResult](ctx, c.BaseAdapter, "/v5/account/wallet-balance", q, true)
	if err != nil {
		return 0, err
	}
	if len(res.List) == 0 {
		return 0, nil
	}
	return c.ParseFloat(res.List[0].TotalEquity), nil
}

type positionResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealisedPnl string `json:"unrealisedPnl"`
		Leverage      string `json:"leverage"`
		UpdatedTime   string `json:"updatedTime"`
	} `json:"list"`
}

// Positions lists open linear positions. Entries with zero size are dropped.
func (c *Client) Positions(ctx context.Context, symbol string) ([]core.Position, error) {
	res, err := get[positionResult](ctx, c.BaseAdapter, "/v5/position/list", c.scopedQuery(symbol), true)
	if err != nil {
		return nil, err
	}

	positions := make([]core.Position, 0, len(res.List))
	for _, raw := range res.List {
		size := c.ParseFloat(raw.Size)
		if size == 0 {
			continue
		}
		side, _ := core.ParseSide(raw.Side)
		positions = append(positions, core.Position{
			Symbol:        raw.Symbol,
			Side:          side,
			Size:          size,
			AvgPrice:      c.ParseFloat(raw.AvgPrice),
			MarkPrice:     c.ParseFloat(raw.MarkPrice),
			UnrealisedPnL: c.ParseFloat(raw.UnrealisedPnl),
			Leverage:      c.ParseFloat(raw.Leverage),
			UpdatedAt:     c.ParseTimestamp(raw.UpdatedTime),
		})
	}
	return positions, nil
}

type rawOrder struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	OrderStatus  string `json:"orderStatus"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	CumExecQty   string `json:"cumExecQty"`
	AvgPrice     string `json:"avgPrice"`
	TriggerPrice string `json:"triggerPrice"`
	CreatedTime  string `json:"createdTime"`
	UpdatedTime  string `json:"updatedTime"`
}

type orderListResult struct {
	List           []rawOrder `json:"list"`
	NextPageCursor string     `json:"nextPageCursor"`
}

func (c *Client) toOrder(raw rawOrder) core.Order {
	side, _ := core.ParseSide(raw.Side)
	return core.Order{
		OrderID:      raw.OrderID,
		OrderLinkID:  raw.OrderLinkID,
		Symbol:       raw.Symbol,
		Side:         side,
		OrderType:    raw.OrderType,
		Status:       raw.OrderStatus,
		Price:        c.ParseFloat(raw.Price),
		Qty:          c.ParseFloat(raw.Qty),
		CumExecQty:   c.ParseFloat(raw.CumExecQty),
		AvgPrice:     c.ParseFloat(raw.AvgPrice),
		TriggerPrice: c.ParseFloat(raw.TriggerPrice),
		CreatedAt:    c.ParseTimestamp(raw.CreatedTime),
		UpdatedAt:    c.ParseTimestamp(raw.UpdatedTime),
	}
}

func (c *Client) toOrders(list []rawOrder) []core.Order {
	orders := make([]core.Order, len(list))
	for i, raw := range list {
		orders[i] = c.toOrder(raw)
	}
	return orders
}

// OpenOrders lists active orders, scoped to the settle coin when symbol is empty
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	res, err := get[orderListResult](ctx, c.BaseAdapter, "/v5/order/realtime", c.scopedQuery(symbol), true)
	if err != nil {
		return nil, err
	}
	return c.toOrders(res.List), nil
}

// OrderHistory lists filled orders, newest first
func (c *Client) OrderHistory(ctx context.Context, symbol string, limit int) ([]core.Order, error) {
	q := c.scopedQuery(symbol)
	q.Set("orderStatus", "Filled")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	res, err := get[orderListResult](ctx, c.BaseAdapter, "/v5/order/history", q, true)
	if err != nil {
		return nil, err
	}
	return c.toOrders(res.List), nil
}

// OrderByLinkID finds a recent order by its client id
func (c *Client) OrderByLinkID(ctx context.Context, symbol, linkID string) (*core.Order, error) {
	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", symbol)
	q.Set("orderLinkId", linkID)

	res, err := get[orderListResult](ctx, c.BaseAdapter, "/v5/order/realtime", q, true)
	if err != nil {
		return nil, err
	}
	if len(res.List) == 0 {
		return nil, nil
	}
	o := c.toOrder(res.List[0])
	return &o, nil
}
