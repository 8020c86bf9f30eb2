// Package events is a named publish/subscribe bus for the presentation layer
package events

import (
	"fmt"
	"sync"

	"copytrader/internal/core"
)

// Event names
const (
	OnPriceUpdated     = "on_price_updated"
	OnBalanceUpdated   = "on_balance_updated"
	OnPositionsUpdated = "on_positions_updated"
	OnOrdersUpdated    = "on_orders_updated"
	OnHistoryUpdated   = "on_history_updated"
	OnAPIStatus        = "on_api_status"
	OnBybitStatus      = "on_bybit_status"
	OnCommandReceived  = "on_command_received"
	OnConnected        = "on_connected"
	OnDisconnected     = "on_disconnected"
	OnUILog            = "on_ui_log"
)

// Handler receives an event payload. A returned error or a panic is logged
// and dropped.
type Handler func(data interface{}) error

// Bus delivers events synchronously to every subscriber of the name.
// Delivery order across subscribers is unspecified.
type Bus struct {
	logger core.ILogger

	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
}

// NewBus creates an empty bus
func NewBus(logger core.ILogger) *Bus {
	return &Bus{
		logger: logger.WithField("component", "event_bus"),
		subs:   make(map[string]map[uint64]Handler),
	}
}

// Subscribe registers h for event and returns a function that removes it
func (b *Bus) Subscribe(event string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[event] == nil {
		b.subs[event] = make(map[uint64]Handler)
	}
	b.subs[event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[event], id)
			if len(b.subs[event]) == 0 {
				delete(b.subs, event)
			}
		})
	}
}

// Subscribers returns how many handlers listen to event
func (b *Bus) Subscribers(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

// Emit calls every subscriber of event with data. Emitting on a nil bus is
// a no-op.
func (b *Bus) Emit(event string, data interface{}) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event]))
	for _, h := range b.subs[event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := deliver(h, data); err != nil {
			b.reportFailure(event, err)
		}
	}
}

func deliver(h Handler, data interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return h(data)
}

// reportFailure logs a subscriber failure. Failures of the log mirror stay
// at debug level so they never feed back into it.
func (b *Bus) reportFailure(event string, err error) {
	if event == OnUILog {
		b.logger.Debug("Event subscriber failed", "event", event, "error", err)
		return
	}
	b.logger.Warn("Event subscriber failed", "event", event, "error", err)
}
