// Package alert pushes connectivity alerts to chat channels
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"copytrader/internal/core"
	"copytrader/internal/infrastructure/events"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

const sendTimeout = 10 * time.Second

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager fans an alert out to every channel without blocking the
// caller
type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	mu       sync.RWMutex
	inflight sync.WaitGroup

	stateMu sync.Mutex
	up      map[string]bool
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
		up:       make(map[string]bool),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Channels reports how many channels are configured
func (am *AlertManager) Channels() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.channels)
}

func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, ch := range am.channels {
		am.inflight.Add(1)
		go func(c AlertChannel) {
			defer am.inflight.Done()
			timeoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Wait blocks until every alert sent so far was delivered or failed
func (am *AlertManager) Wait() {
	am.inflight.Wait()
}

// Watch raises an alert whenever the control server or exchange link goes
// down, and again when it recovers. Repeated failures while down are
// not re-alerted.
func (am *AlertManager) Watch(bus *events.Bus) (unsubscribe func()) {
	offAPI := bus.Subscribe(events.OnAPIStatus, am.linkHandler("control server"))
	offBybit := bus.Subscribe(events.OnBybitStatus, am.linkHandler("exchange"))
	return func() {
		offAPI()
		offBybit()
	}
}

func (am *AlertManager) linkHandler(link string) events.Handler {
	return func(data interface{}) error {
		payload, ok := data.(map[string]interface{})
		if !ok {
			return fmt.Errorf("unexpected %s status payload %T", link, data)
		}
		up, _ := payload["status"].(bool)

		am.stateMu.Lock()
		was, seen := am.up[link]
		am.up[link] = up
		am.stateMu.Unlock()

		switch {
		case !up && (!seen || was):
			fields := map[string]string{"link": link}
			if reason, ok := payload["reason"].(string); ok {
				fields["reason"] = reason
			}
			am.Alert(context.Background(), "Connection lost", link+" is unreachable, copying is paused", Critical, fields)
		case up && seen && !was:
			am.Alert(context.Background(), "Connection restored", link+" is reachable again", Info, map[string]string{"link": link})
		}
		return nil
	}
}
