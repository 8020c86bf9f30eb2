// Package ledger persists trade lifecycles, executed commands, symbol rules,
// settings and logs
package ledger

import (
	"context"
	"time"

	"copytrader/internal/core"
	"copytrader/pkg/tradingutils"
)

// Store is everything the terminal keeps on disk
type Store interface {
	core.ILedger
	core.ISymbolStore
	core.ISettingsStore
	core.ILogStore

	RecentLogs(ctx context.Context, limit int) ([]LogEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

// LogEntry is one persisted log line
type LogEntry struct {
	ID        int64
	Level     string
	Message   string
	Data      string
	CreatedAt time.Time
}

// Setting keys
const (
	SettingTradingBalance = "trading_balance"
	SettingAPIURL         = "api_url"
	SettingUID            = "uid"
	SettingToken          = "token"
	SettingAPIKey         = "bybit_api_key"
	SettingAPISecret      = "bybit_api_secret"
)

// realizedPnL is (exit-entry)*qty for a long record and the reverse for a short
func realizedPnL(side core.Side, entry, exit, qty float64) float64 {
	return tradingutils.CalculatePnL(side == core.SideBuy, entry, exit, qty)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
