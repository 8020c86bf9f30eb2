package monitor

import (
	"context"
	"fmt"
	"sync"

	"copytrader/internal/core"
	"copytrader/internal/infrastructure/events"
	"copytrader/internal/trading/sizing"
	"copytrader/pkg/cli"
	"copytrader/pkg/telemetry"
	"copytrader/pkg/tradingutils"
)

// BalanceSnapshot is the payload of on_balance_updated
type BalanceSnapshot struct {
	Wallet  float64 `json:"wallet"`
	Trading float64 `json:"trading"`
}

// AccountMonitor caches the wallet balance and open positions and holds the
// two balances that define the copy ratio
type AccountMonitor struct {
	exchange core.IExchangeGateway
	bus      *events.Bus
	logger   core.ILogger

	mu        sync.RWMutex
	wallet    float64
	trading   float64
	master    float64
	positions []core.Position
}

// NewAccountMonitor creates an empty account cache
func NewAccountMonitor(exchange core.IExchangeGateway, bus *events.Bus, logger core.ILogger) *AccountMonitor {
	return &AccountMonitor{
		exchange: exchange,
		bus:      bus,
		logger:   logger.WithField("component", "account_monitor"),
	}
}

// SetTradingBalance sets the local allocation copied against the master
func (am *AccountMonitor) SetTradingBalance(amount float64) {
	am.mu.Lock()
	am.trading = amount
	am.mu.Unlock()
}

// SetMasterBalance sets the master's balance from the control server
func (am *AccountMonitor) SetMasterBalance(amount float64) {
	am.mu.Lock()
	am.master = amount
	am.mu.Unlock()
}

// ValidateTradingBalance checks amount against the cached wallet balance
func (am *AccountMonitor) ValidateTradingBalance(amount float64) error {
	return cli.ValidateTradingBalance(amount, am.WalletBalance())
}

// Ratio is trading balance over master balance, 0 when the master balance is
// unknown
func (am *AccountMonitor) Ratio() float64 {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return sizing.Ratio(am.trading, am.master)
}

func (am *AccountMonitor) WalletBalance() float64 {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.wallet
}

func (am *AccountMonitor) TradingBalance() float64 {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.trading
}

func (am *AccountMonitor) MasterBalance() float64 {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.master
}

// Positions returns a copy of the cached positions
func (am *AccountMonitor) Positions() []core.Position {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return append([]core.Position(nil), am.positions...)
}

// Balances returns the on_balance_updated payload
func (am *AccountMonitor) Balances() BalanceSnapshot {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return BalanceSnapshot{Wallet: am.wallet, Trading: am.trading}
}

// LoadBalance fetches the wallet balance alone and emits it
func (am *AccountMonitor) LoadBalance(ctx context.Context) error {
	balance := am.exchange.GetBalance(ctx)

	am.mu.Lock()
	am.wallet = balance
	am.mu.Unlock()

	am.bus.Emit(events.OnBalanceUpdated, am.Balances())
	return nil
}

// RefreshPositions fetches open positions and emits them
func (am *AccountMonitor) RefreshPositions(ctx context.Context) error {
	am.storePositions(am.exchange.GetPositions(ctx, ""))
	am.bus.Emit(events.OnPositionsUpdated, am.Positions())
	return nil
}

// Refresh fetches balance and positions together and emits both
func (am *AccountMonitor) Refresh(ctx context.Context) error {
	balance, positions := am.exchange.GetBalanceAndPositions(ctx)

	am.mu.Lock()
	am.wallet = balance
	am.mu.Unlock()
	am.storePositions(positions)

	am.bus.Emit(events.OnBalanceUpdated, am.Balances())
	am.bus.Emit(events.OnPositionsUpdated, am.Positions())
	return nil
}

func (am *AccountMonitor) storePositions(positions []core.Position) {
	am.mu.Lock()
	previous := am.positions
	am.positions = positions
	am.mu.Unlock()

	metrics := telemetry.GetGlobalMetrics()
	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		seen[p.Symbol] = true
		metrics.SetPositionSize(p.Symbol, p.Size)
	}
	for _, p := range previous {
		if !seen[p.Symbol] {
			metrics.SetPositionSize(p.Symbol, 0)
		}
	}
}

// PositionPnL is the unrealized PnL of the cached position on symbol/side at
// currentPrice
func (am *AccountMonitor) PositionPnL(symbol string, side core.Side, currentPrice float64) (float64, error) {
	for _, p := range am.Positions() {
		if p.Symbol != symbol || p.Side != side {
			continue
		}
		if p.Size <= 0 || p.AvgPrice <= 0 {
			return 0, nil
		}
		return tradingutils.CalculatePnL(p.Side == core.SideBuy, p.AvgPrice, currentPrice, p.Size), nil
	}
	return 0, fmt.Errorf("no %s position on %s", side, symbol)
}
