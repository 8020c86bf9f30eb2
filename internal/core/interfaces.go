// Package core defines the domain types and interfaces of the copy-trading terminal
package core

import (
	"context"
	"time"
)

// IExchangeGateway is the resilient exchange access layer.
// Read methods never fail: they degrade to zero values. Write methods
// report failure through sentinel returns (empty id, false).
type IExchangeGateway interface {
	GetBalance(ctx context.Context) float64
	GetPositions(ctx context.Context, symbol string) []Position
	GetOpenOrders(ctx context.Context, symbol string) []Order
	GetOrderHistory(ctx context.Context, symbol string, limit int) []Order
	GetOrdersParallel(ctx context.Context) (open []Order, filled []Order)
	GetBalanceAndPositions(ctx context.Context) (float64, []Position)

	PlaceOrder(ctx context.Context, req OrderRequest) string
	PlaceConditionalOrder(ctx context.Context, req OrderRequest) string
	CancelOrder(ctx context.Context, symbol, orderID string) bool
	CancelAllOrders(ctx context.Context, symbol string) bool

	GetTicker(ctx context.Context, symbol string) float64
	GetTickers(ctx context.Context, symbols []string) map[string]float64

	TestConnection(ctx context.Context) error
}

// IControlServer is the master control server API
type IControlServer interface {
	Status(ctx context.Context) (string, error)
	Orders(ctx context.Context) ([]Command, error)
	SendReport(ctx context.Context, report Report) error
	OpenTrade(ctx context.Context, req OpenTradeRequest) (int64, error)
	CloseTrade(ctx context.Context, req CloseTradeRequest) error
}

// LedgerTx is the set of ledger mutations that can share one transaction
type LedgerTx interface {
	RecordOpen(ctx context.Context, open TradeOpen) (int64, error)
	// CloseOldestOpen returns nil, nil when the symbol has no open record
	CloseOldestOpen(ctx context.Context, close TradeClose) (*TradeRecord, error)
	MarkExecuted(ctx context.Context, cmd ExecutedCommand) error
}

// ILedger stores trade lifecycles and processed command ids
type ILedger interface {
	LedgerTx
	IsExecuted(commandID int64) bool
	OldestOpen(ctx context.Context, symbol string) (*TradeRecord, error)
	Trades(ctx context.Context, status TradeStatus, limit int) ([]TradeRecord, error)
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// ISymbolStore holds the symbol rules synced from the master
type ISymbolStore interface {
	ReplaceSymbols(ctx context.Context, rules []SymbolRule) error
	ActiveSymbols(ctx context.Context) (map[string]SymbolRule, error)
	AllSymbols(ctx context.Context) (map[string]SymbolRule, error)
}

// ISettingsStore is a key/value settings table
type ISettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// ILogStore persists log entries
type ILogStore interface {
	AppendLog(ctx context.Context, level, message, data string, at time.Time) error
}

// IHealthMonitor aggregates component health checks
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
