// Package monitor keeps the terminal's market and account caches fresh and
// publishes them on the event bus
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"copytrader/internal/core"
	"copytrader/internal/exchange/bybit"
	"copytrader/internal/infrastructure/events"
	"copytrader/pkg/websocket"
)

// PriceMonitor caches the last price of every tracked symbol
type PriceMonitor struct {
	exchange core.IExchangeGateway
	bus      *events.Bus
	logger   core.ILogger

	mu      sync.RWMutex
	symbols []string
	prices  map[string]float64

	lastUpdate atomic.Value // holds time.Time

	streamMu sync.Mutex
	stream   *websocket.Client
}

// NewPriceMonitor creates a price cache fed by exchange
func NewPriceMonitor(exchange core.IExchangeGateway, bus *events.Bus, logger core.ILogger) *PriceMonitor {
	pm := &PriceMonitor{
		exchange: exchange,
		bus:      bus,
		logger:   logger.WithField("component", "price_monitor"),
		prices:   make(map[string]float64),
	}
	pm.lastUpdate.Store(time.Time{})
	return pm
}

// SetSymbols replaces the tracked symbols. Known prices of symbols that stay
// tracked are kept, new symbols start at zero.
func (pm *PriceMonitor) SetSymbols(symbols []string) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	pm.mu.Lock()
	defer pm.mu.Unlock()

	prices := make(map[string]float64, len(sorted))
	for _, s := range sorted {
		prices[s] = pm.prices[s]
	}
	pm.symbols = sorted
	pm.prices = prices
}

// Symbols returns the tracked symbols, sorted
func (pm *PriceMonitor) Symbols() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return append([]string(nil), pm.symbols...)
}

// Refresh fetches every tracked symbol and emits the cache. Fetched prices
// are merged into the cache rather than replacing it, so a zero or missing
// price from the exchange leaves the last known price in place.
func (pm *PriceMonitor) Refresh(ctx context.Context) error {
	symbols := pm.Symbols()
	if len(symbols) == 0 {
		return nil
	}

	fetched := pm.exchange.GetTickers(ctx, symbols)

	updated := 0
	pm.mu.Lock()
	for symbol, price := range fetched {
		if _, tracked := pm.prices[symbol]; !tracked || price <= 0 {
			continue
		}
		pm.prices[symbol] = price
		updated++
	}
	pm.mu.Unlock()

	if updated == 0 {
		pm.logger.Warn("Failed to fetch prices", "symbols", len(symbols))
	} else {
		pm.lastUpdate.Store(time.Now())
	}

	pm.bus.Emit(events.OnPriceUpdated, pm.Prices())
	return nil
}

// Update stores one streamed price
func (pm *PriceMonitor) Update(symbol string, price float64) {
	if price <= 0 {
		return
	}
	pm.mu.Lock()
	_, tracked := pm.prices[symbol]
	if tracked {
		pm.prices[symbol] = price
	}
	pm.mu.Unlock()

	if tracked {
		pm.lastUpdate.Store(time.Now())
	}
}

// Price returns the cached price of symbol, zero when unknown
func (pm *PriceMonitor) Price(symbol string) float64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.prices[symbol]
}

// Prices returns a copy of the cache
func (pm *PriceMonitor) Prices() map[string]float64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make(map[string]float64, len(pm.prices))
	for k, v := range pm.prices {
		out[k] = v
	}
	return out
}

// StartStream subscribes to the public ticker stream of the tracked
// symbols. A running stream is replaced.
func (pm *PriceMonitor) StartStream(ctx context.Context, wsURL string) {
	symbols := pm.Symbols()

	pm.streamMu.Lock()
	defer pm.streamMu.Unlock()

	if pm.stream != nil {
		pm.stream.Stop()
		pm.stream = nil
	}
	if len(symbols) == 0 {
		return
	}
	pm.stream = bybit.StartPriceStream(ctx, wsURL, symbols, pm.Update, pm.logger)
	pm.logger.Info("Price stream started", "symbols", len(symbols))
}

// StopStream stops the ticker stream if one runs
func (pm *PriceMonitor) StopStream() {
	pm.streamMu.Lock()
	defer pm.streamMu.Unlock()

	if pm.stream != nil {
		pm.stream.Stop()
		pm.stream = nil
	}
}

// CheckHealth fails when no price arrived within maxAge
func (pm *PriceMonitor) CheckHealth(maxAge time.Duration) error {
	last := pm.lastUpdate.Load().(time.Time)
	if last.IsZero() {
		return fmt.Errorf("no price updates received yet")
	}
	if age := time.Since(last); age > maxAge {
		return fmt.Errorf("stale price data: last update %s ago", age.Round(time.Second))
	}
	return nil
}
