package bootstrap

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"copytrader/internal/core"
	"copytrader/internal/infrastructure/events"
	"copytrader/pkg/logging"
)

const mirrorBuffer = 256

// UILogEntry is the payload of on_ui_log
type UILogEntry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	At      time.Time              `json:"at"`
}

// InitLogger builds the zap logger for cfg. Entries at INFO and above are
// mirrored to sink.
func InitLogger(cfg *Config, sink logging.Sink) (*logging.ZapLogger, error) {
	level, err := logging.ParseLevel(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}

	var opts []logging.Option
	if sink != nil {
		opts = append(opts, logging.WithSink("INFO", sink))
	}
	logger, err := logging.NewZapLogger(level, opts...)
	if err != nil {
		return nil, err
	}

	// Set as global logger
	logging.SetGlobalLogger(logger)
	return logger, nil
}

// logMirror forwards log entries to the event bus and persists WARN and
// above to the log store. Writes happen on Run's goroutine: the store has a
// single connection that the logging caller may be holding.
type logMirror struct {
	store   core.ILogStore
	bus     atomic.Pointer[events.Bus]
	entries chan UILogEntry
	dropped atomic.Int64
}

func newLogMirror(store core.ILogStore) *logMirror {
	return &logMirror{
		store:   store,
		entries: make(chan UILogEntry, mirrorBuffer),
	}
}

// Attach starts forwarding to bus
func (m *logMirror) Attach(bus *events.Bus) {
	m.bus.Store(bus)
}

// Sink is the logging.Sink handed to the logger. It never blocks; entries
// beyond the buffer are dropped and counted.
func (m *logMirror) Sink(level, message string, fields map[string]interface{}, at time.Time) {
	select {
	case m.entries <- UILogEntry{Level: level, Message: message, Fields: fields, At: at}:
	default:
		m.dropped.Add(1)
	}
}

// Dropped reports how many entries did not fit the buffer
func (m *logMirror) Dropped() int64 {
	return m.dropped.Load()
}

// Run drains the buffer until ctx is done, then flushes what is left
func (m *logMirror) Run(ctx context.Context) error {
	for {
		select {
		case entry := <-m.entries:
			m.handle(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-m.entries:
					m.handle(entry)
				default:
					return nil
				}
			}
		}
	}
}

func (m *logMirror) handle(entry UILogEntry) {
	m.bus.Load().Emit(events.OnUILog, entry)

	if m.store == nil || !persisted(entry.Level) {
		return
	}
	data := ""
	if len(entry.Fields) > 0 {
		if b, err := json.Marshal(entry.Fields); err == nil {
			data = string(b)
		}
	}
	// A failing log table must not produce more log entries
	_ = m.store.AppendLog(context.Background(), entry.Level, entry.Message, data, entry.At)
}

func persisted(level string) bool {
	switch level {
	case "WARN", "ERROR", "FATAL", "DPANIC", "PANIC":
		return true
	}
	return false
}
