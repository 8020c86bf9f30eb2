package core

import (
	"strings"
	"time"
)

// Side is the order direction as the exchange spells it
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// ParseSide accepts any casing of buy/sell
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	}
	return "", false
}

// Opposite returns the flattening side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide tells whether a command opens or closes a position
type PositionSide string

const (
	PositionOpen  PositionSide = "open"
	PositionClose PositionSide = "close"
)

// OrderKind is the order type as sent by the master
type OrderKind string

const (
	OrderKindMarket      OrderKind = "market"
	OrderKindLimit       OrderKind = "limit"
	OrderKindStopLimit   OrderKind = "stop_limit"
	OrderKindProfitLimit OrderKind = "profit_limit"
)

// Command is one trading instruction received from the master
type Command struct {
	ID           int64        `json:"id"`
	Symbol       string       `json:"symbol"`
	Side         Side         `json:"side"`
	PositionSide PositionSide `json:"position_side"`
	OrderType    OrderKind    `json:"order_type"`
	TradeQty     float64      `json:"trade_qty"`
	TradePrice   *float64     `json:"trade_price"`
	Status       string       `json:"status"`
}

// Price returns the command's trade price or zero when absent
func (c Command) Price() float64 {
	if c.TradePrice == nil {
		return 0
	}
	return *c.TradePrice
}

// SymbolRule holds exchange trading constraints for one symbol
type SymbolRule struct {
	Symbol      string
	MinOrderQty float64
	MinPrice    float64
	TickSize    float64
	StepSize    float64
	Active      bool
	UpdatedAt   time.Time
}

// ExecutionStatus is the terminal outcome of a command
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusSkipped ExecutionStatus = "skipped"
)

// ExecutionResult is the normalized outcome of dispatching a command.
// Fee is always zero at placement time.
type ExecutionResult struct {
	Status          ExecutionStatus
	ExchangeOrderID string
	Price           float64
	Fee             float64
	Message         string
}

// TradeStatus is the lifecycle state of a trade record
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// TradeRecord is one locally persisted position lifecycle
type TradeRecord struct {
	ID            int64
	ServerTradeID int64 // 0 when the control server did not register it
	CommandID     int64
	Symbol        string
	Side          Side
	EntryQty      float64
	EntryPrice    float64
	ExitQty       float64
	ExitPrice     float64
	PnL           float64
	Status        TradeStatus
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// TradeOpen describes a trade record to append
type TradeOpen struct {
	CommandID     int64
	ServerTradeID int64
	Symbol        string
	Side          Side
	Qty           float64
	Price         float64
	OpenedAt      time.Time
}

// TradeClose describes how the oldest open record of a symbol gets closed
type TradeClose struct {
	Symbol    string
	ExitQty   float64
	ExitPrice float64
	ClosedAt  time.Time
}

// ExecutedCommand is the persisted dedup entry for a processed command
type ExecutedCommand struct {
	CommandID       int64
	Symbol          string
	Side            Side
	OrderType       OrderKind
	MasterQty       float64
	TerminalQty     float64
	TerminalPrice   float64
	Status          ExecutionStatus
	ExchangeOrderID string
	ExecutedAt      time.Time
}

// Position is an open exchange position
type Position struct {
	Symbol        string
	Side          Side
	Size          float64
	AvgPrice      float64
	MarkPrice     float64
	UnrealisedPnL float64
	Leverage      float64
	UpdatedAt     time.Time
}

// Order is an exchange order, either open or from history
type Order struct {
	OrderID      string
	OrderLinkID  string
	Symbol       string
	Side         Side
	OrderType    string
	Status       string
	Price        float64
	Qty          float64
	CumExecQty   float64
	AvgPrice     float64
	TriggerPrice float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TriggerDirection tells a conditional order which way the price must cross
type TriggerDirection int

const (
	TriggerNone   TriggerDirection = 0
	TriggerOnRise TriggerDirection = 1
	TriggerOnFall TriggerDirection = 2
)

// OrderRequest is a placement request handed to the exchange gateway
type OrderRequest struct {
	Symbol           string
	Side             Side
	Qty              float64
	OrderType        string // exchange spelling: Market or Limit
	Price            *float64
	TriggerPrice     float64
	TriggerDirection TriggerDirection
	ClientOrderID    string
}

// Report is the execution report sent back to the control server
type Report struct {
	OrderID         int64    `json:"order_id"`
	Symbol          string   `json:"symbol"`
	Action          string   `json:"action"`
	Side            Side     `json:"side"`
	OrderType       string   `json:"order_type"`
	PositionSide    string   `json:"position_side"`
	MasterQty       float64  `json:"master_qty"`
	MasterPrice     *float64 `json:"master_price"`
	TerminalQty     float64  `json:"terminal_qty"`
	TerminalPrice   float64  `json:"terminal_price"`
	TerminalFee     float64  `json:"terminal_fee"`
	Status          string   `json:"status"`
	ErrorMessage    *string  `json:"error_message"`
	ExchangeOrderID string   `json:"exchange_order_id"`
	ReceivedAtMs    int64    `json:"received_at_ms"`
	ExecutedAtMs    int64    `json:"executed_at_ms"`
}

// OpenTradeRequest registers an opened trade with the control server
type OpenTradeRequest struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	EntryQty   float64 `json:"entry_qty"`
	EntryPrice float64 `json:"entry_price"`
}

// CloseTradeRequest closes a registered trade on the control server
type CloseTradeRequest struct {
	TradeID   int64   `json:"trade_id"`
	ExitQty   float64 `json:"exit_qty"`
	ExitPrice float64 `json:"exit_price"`
	TotalFee  float64 `json:"total_fee"`
}
