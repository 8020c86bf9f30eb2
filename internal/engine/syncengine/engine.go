// Package syncengine mirrors the master's command queue onto the local
// exchange account.
//
// One cycle checks the control server's change hash, fetches the full queue
// when it moved, and runs every command not yet executed through
// size → dispatch → report → ledger update → mark executed. Commands run
// strictly in queue order, one at a time.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"copytrader/internal/core"
	"copytrader/internal/infrastructure/events"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher places the order for a sized command
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd core.Command, qty float64) core.ExecutionResult
}

// RatioSource yields the trading/master balance ratio at sizing time
type RatioSource interface {
	Ratio() float64
}

// ReauthFunc obtains a fresh token after the control server rejected the
// current one
type ReauthFunc func(ctx context.Context) error

// Option configures an Engine
type Option func(*Engine)

// WithReauth sets the hook run when a status check comes back unauthorized
func WithReauth(fn ReauthFunc) Option {
	return func(e *Engine) { e.reauth = fn }
}

// WithClock replaces time.Now for received/executed timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the command sync loop. Cycles are serialized; the ledger and the
// executed set are written only from inside a cycle.
type Engine struct {
	control    core.IControlServer
	ledger     core.ILedger
	symbols    core.ISymbolStore
	dispatcher Dispatcher
	ratio      RatioSource
	bus        *events.Bus
	logger     core.ILogger
	tracer     trace.Tracer

	reauth ReauthFunc
	now    func() time.Time

	cycleMu   sync.Mutex
	lastHash  string
	attempted map[int64]struct{}

	connected atomic.Bool
}

// New creates a sync engine
func New(
	control core.IControlServer,
	ledger core.ILedger,
	symbols core.ISymbolStore,
	dispatcher Dispatcher,
	ratio RatioSource,
	bus *events.Bus,
	logger core.ILogger,
	opts ...Option,
) *Engine {
	e := &Engine{
		control:    control,
		ledger:     ledger,
		symbols:    symbols,
		dispatcher: dispatcher,
		ratio:      ratio,
		bus:        bus,
		logger:     logger.WithField("component", "sync_engine"),
		tracer:     telemetry.GetTracer("sync-engine"),
		now:        time.Now,
		attempted:  make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connected reports whether the last status check reached the control server
func (e *Engine) Connected() bool {
	return e.connected.Load()
}

// LastHash is the change hash of the last fetched queue
func (e *Engine) LastHash() string {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	return e.lastHash
}

// Reset forgets the last hash so the next cycle refetches the queue. Used
// after a login to a different master.
func (e *Engine) Reset() {
	e.cycleMu.Lock()
	e.lastHash = ""
	e.cycleMu.Unlock()
}

// PollStatus runs one cycle. It is the poll_status scheduler task.
func (e *Engine) PollStatus(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cycleID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "SyncCycle", trace.WithAttributes(attribute.String("cycle_id", cycleID)))
	defer span.End()

	hash, err := e.control.Status(ctx)
	if err != nil {
		unauthorized := errors.Is(err, apperrors.ErrUnauthorized)
		reason := ""
		if unauthorized {
			reason = "unauthorized"
		}
		e.setConnected(false, reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, "status check failed")
		if unauthorized && e.reauth != nil {
			if rerr := e.reauth(ctx); rerr != nil {
				e.logger.Error("Re-authentication failed", "error", rerr)
			} else {
				e.logger.Info("Re-authenticated with control server")
			}
		}
		return fmt.Errorf("status check: %w", err)
	}
	e.setConnected(true, "")

	changed := hash != e.lastHash
	telemetry.GetGlobalMetrics().RecordSyncCycle(ctx, changed)
	if !changed {
		return nil
	}

	commands, err := e.control.Orders(ctx)
	if err != nil {
		// The hash stays unseen so the next tick retries the fetch
		span.RecordError(err)
		return fmt.Errorf("fetch commands: %w", err)
	}
	e.lastHash = hash

	e.logger.Info("Command queue changed", "cycle_id", cycleID, "hash", hash, "commands", len(commands))
	e.process(ctx, commands)

	e.bus.Emit(events.OnCommandReceived, map[string]interface{}{"count": len(commands)})
	return nil
}

// Process runs cmds through the per-command pipeline outside of a poll.
// Already executed commands are skipped.
func (e *Engine) Process(ctx context.Context, cmds []core.Command) []Outcome {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	return e.process(ctx, cmds)
}

func (e *Engine) process(ctx context.Context, cmds []core.Command) []Outcome {
	rules, err := e.symbols.ActiveSymbols(ctx)
	if err != nil {
		e.logger.Error("Failed to load symbol rules", "error", err)
		rules = map[string]core.SymbolRule{}
	}

	outcomes := make([]Outcome, 0, len(cmds))
	for _, cmd := range cmds {
		if e.isExecuted(cmd.ID) {
			continue
		}
		outcomes = append(outcomes, e.processCommand(ctx, cmd, rules[cmd.Symbol]))
	}
	return outcomes
}

func (e *Engine) setConnected(up bool, reason string) {
	was := e.connected.Swap(up)
	telemetry.GetGlobalMetrics().SetConnectionUp("control", up)
	switch {
	case !up:
		payload := map[string]interface{}{"status": false}
		if reason != "" {
			payload["reason"] = reason
		}
		e.bus.Emit(events.OnAPIStatus, payload)
	case !was:
		e.bus.Emit(events.OnAPIStatus, map[string]interface{}{"status": true})
	}
}

func (e *Engine) isExecuted(id int64) bool {
	if _, ok := e.attempted[id]; ok {
		return true
	}
	return e.ledger.IsExecuted(id)
}
