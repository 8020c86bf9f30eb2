package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"copytrader/internal/core"
)

// MemoryStore implements Store in memory
type MemoryStore struct {
	mu       sync.RWMutex
	trades   []core.TradeRecord
	nextID   int64
	executed map[int64]core.ExecutedCommand
	symbols  map[string]core.SymbolRule
	settings map[string]string
	logs     []LogEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executed: make(map[int64]core.ExecutedCommand),
		symbols:  make(map[string]core.SymbolRule),
		settings: make(map[string]string),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) IsExecuted(commandID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.executed[commandID]
	return ok
}

// RunInTx runs fn against the store. If fn fails every change it made is
// rolled back.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx core.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := append([]core.TradeRecord(nil), s.trades...)
	nextID := s.nextID
	executed := make(map[int64]core.ExecutedCommand, len(s.executed))
	for k, v := range s.executed {
		executed[k] = v
	}

	if err := fn(&memoryTx{s: s}); err != nil {
		s.trades = trades
		s.nextID = nextID
		s.executed = executed
		return err
	}
	return nil
}

func (s *MemoryStore) RecordOpen(ctx context.Context, open core.TradeOpen) (int64, error) {
	var id int64
	err := s.RunInTx(ctx, func(tx core.LedgerTx) error {
		var err error
		id, err = tx.RecordOpen(ctx, open)
		return err
	})
	return id, err
}

func (s *MemoryStore) CloseOldestOpen(ctx context.Context, close core.TradeClose) (*core.TradeRecord, error) {
	var rec *core.TradeRecord
	err := s.RunInTx(ctx, func(tx core.LedgerTx) error {
		var err error
		rec, err = tx.CloseOldestOpen(ctx, close)
		return err
	})
	return rec, err
}

func (s *MemoryStore) MarkExecuted(ctx context.Context, cmd core.ExecutedCommand) error {
	return s.RunInTx(ctx, func(tx core.LedgerTx) error {
		return tx.MarkExecuted(ctx, cmd)
	})
}

func (s *MemoryStore) OldestOpen(ctx context.Context, symbol string) (*core.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.oldestOpenIndex(symbol); i >= 0 {
		rec := s.trades[i]
		return &rec, nil
	}
	return nil, nil
}

// oldestOpenIndex expects s.mu to be held
func (s *MemoryStore) oldestOpenIndex(symbol string) int {
	best := -1
	for i, t := range s.trades {
		if t.Symbol != symbol || t.Status != core.TradeStatusOpen {
			continue
		}
		if best < 0 || t.OpenedAt.Before(s.trades[best].OpenedAt) ||
			(t.OpenedAt.Equal(s.trades[best].OpenedAt) && t.ID < s.trades[best].ID) {
			best = i
		}
	}
	return best
}

func (s *MemoryStore) Trades(ctx context.Context, status core.TradeStatus, limit int) ([]core.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.TradeRecord
	for _, t := range s.trades {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ReplaceSymbols(ctx context.Context, rules []core.SymbolRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = make(map[string]core.SymbolRule, len(rules))
	for _, r := range rules {
		s.symbols[r.Symbol] = r
	}
	return nil
}

func (s *MemoryStore) ActiveSymbols(ctx context.Context) (map[string]core.SymbolRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.SymbolRule)
	for k, r := range s.symbols {
		if r.Active {
			out[k] = r
		}
	}
	return out, nil
}

func (s *MemoryStore) AllSymbols(ctx context.Context) (map[string]core.SymbolRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.SymbolRule, len(s.symbols))
	for k, r := range s.symbols {
		out[k] = r
	}
	return out, nil
}

func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *MemoryStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *MemoryStore) DeleteSetting(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, key)
	return nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, level, message, data string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, LogEntry{
		ID:        int64(len(s.logs) + 1),
		Level:     level,
		Message:   message,
		Data:      data,
		CreatedAt: at,
	})
	return nil
}

func (s *MemoryStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		out = append(out, s.logs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// memoryTx mutates the store directly; RunInTx holds the lock
type memoryTx struct {
	s *MemoryStore
}

func (t *memoryTx) RecordOpen(ctx context.Context, open core.TradeOpen) (int64, error) {
	openedAt := open.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now()
	}
	t.s.nextID++
	t.s.trades = append(t.s.trades, core.TradeRecord{
		ID:            t.s.nextID,
		ServerTradeID: open.ServerTradeID,
		CommandID:     open.CommandID,
		Symbol:        open.Symbol,
		Side:          open.Side,
		EntryQty:      open.Qty,
		EntryPrice:    open.Price,
		Status:        core.TradeStatusOpen,
		OpenedAt:      openedAt,
	})
	return t.s.nextID, nil
}

func (t *memoryTx) CloseOldestOpen(ctx context.Context, close core.TradeClose) (*core.TradeRecord, error) {
	i := t.s.oldestOpenIndex(close.Symbol)
	if i < 0 {
		return nil, nil
	}

	closedAt := close.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	rec := &t.s.trades[i]
	rec.ExitQty = close.ExitQty
	rec.ExitPrice = close.ExitPrice
	rec.PnL = realizedPnL(rec.Side, rec.EntryPrice, close.ExitPrice, close.ExitQty)
	rec.Status = core.TradeStatusClosed
	rec.ClosedAt = closedAt

	out := *rec
	return &out, nil
}

func (t *memoryTx) MarkExecuted(ctx context.Context, cmd core.ExecutedCommand) error {
	if _, ok := t.s.executed[cmd.CommandID]; ok {
		return nil
	}
	if cmd.ExecutedAt.IsZero() {
		cmd.ExecutedAt = time.Now()
	}
	t.s.executed[cmd.CommandID] = cmd
	return nil
}
