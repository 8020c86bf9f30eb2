package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"copytrader/internal/core"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// migrations are applied in order; PRAGMA user_version records progress
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server_trade_id INTEGER NOT NULL DEFAULT 0,
		command_id INTEGER NOT NULL DEFAULT 0,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_qty REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_qty REAL NOT NULL DEFAULT 0,
		exit_price REAL NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		opened_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_trades_open ON trades (symbol, status, opened_at);`,

	`CREATE TABLE IF NOT EXISTS executed_commands (
		command_id INTEGER PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		master_qty REAL NOT NULL,
		terminal_qty REAL NOT NULL,
		terminal_price REAL NOT NULL,
		status TEXT NOT NULL,
		exchange_order_id TEXT NOT NULL DEFAULT '',
		executed_at INTEGER NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS symbols (
		symbol TEXT PRIMARY KEY,
		min_order_qty REAL NOT NULL DEFAULT 0,
		min_price REAL NOT NULL DEFAULT 0,
		tick_size REAL NOT NULL DEFAULT 0,
		step_size REAL NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);`,
}

var tradeColumns = []string{
	"id", "server_trade_id", "command_id", "symbol", "side", "entry_qty", "entry_price",
	"exit_qty", "exit_price", "pnl", "status", "opened_at", "closed_at",
}

// SQLiteStore is the on-disk Store
type SQLiteStore struct {
	db *sql.DB
	sq squirrel.StatementBuilderType

	mu       sync.RWMutex
	executed map[int64]struct{}
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath, applies
// migrations and loads the executed command ids
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		sq:       squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		executed: make(map[int64]struct{}),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadExecuted(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration: %w", err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadExecuted() error {
	rows, err := s.sq.Select("command_id").From("executed_commands").RunWith(s.db).Query()
	if err != nil {
		return fmt.Errorf("failed to load executed commands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan executed command: %w", err)
		}
		s.executed[id] = struct{}{}
	}
	return rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsExecuted reports whether the command reached a terminal outcome before
func (s *SQLiteStore) IsExecuted(commandID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.executed[commandID]
	return ok
}

// RunInTx runs fn in one transaction. Executed ids marked inside fn become
// visible to IsExecuted only after commit.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx core.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ltx := &sqliteTx{runner: tx, sq: s.sq}
	if err := fn(ltx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.mu.Lock()
	for _, id := range ltx.marked {
		s.executed[id] = struct{}{}
	}
	s.mu.Unlock()
	return nil
}

func (s *SQLiteStore) RecordOpen(ctx context.Context, open core.TradeOpen) (int64, error) {
	var id int64
	err := s.RunInTx(ctx, func(tx core.LedgerTx) error {
		var err error
		id, err = tx.RecordOpen(ctx, open)
		return err
	})
	return id, err
}

func (s *SQLiteStore) CloseOldestOpen(ctx context.Context, close core.TradeClose) (*core.TradeRecord, error) {
	var rec *core.TradeRecord
	err := s.RunInTx(ctx, func(tx core.LedgerTx) error {
		var err error
		rec, err = tx.CloseOldestOpen(ctx, close)
		return err
	})
	return rec, err
}

func (s *SQLiteStore) MarkExecuted(ctx context.Context, cmd core.ExecutedCommand) error {
	return s.RunInTx(ctx, func(tx core.LedgerTx) error {
		return tx.MarkExecuted(ctx, cmd)
	})
}

// OldestOpen returns the earliest opened open record of symbol, nil if none
func (s *SQLiteStore) OldestOpen(ctx context.Context, symbol string) (*core.TradeRecord, error) {
	return oldestOpen(ctx, s.db, s.sq, symbol)
}

// Trades lists records newest first. An empty status lists all.
func (s *SQLiteStore) Trades(ctx context.Context, status core.TradeStatus, limit int) ([]core.TradeRecord, error) {
	q := s.sq.Select(tradeColumns...).From("trades").OrderBy("opened_at DESC", "id DESC")
	if status != "" {
		q = q.Where(squirrel.Eq{"status": string(status)})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []core.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ReplaceSymbols swaps the whole symbols table for rules
func (s *SQLiteStore) ReplaceSymbols(ctx context.Context, rules []core.SymbolRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := s.sq.Delete("symbols").RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to clear symbols: %w", err)
	}

	for _, r := range rules {
		_, err := s.sq.Insert("symbols").
			Options("OR REPLACE").
			Columns("symbol", "min_order_qty", "min_price", "tick_size", "step_size", "is_active", "updated_at").
			Values(r.Symbol, r.MinOrderQty, r.MinPrice, r.TickSize, r.StepSize, r.Active, toMillis(r.UpdatedAt)).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert symbol %s: %w", r.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit symbols: %w", err)
	}
	return nil
}

// ActiveSymbols returns the active rules keyed by symbol
func (s *SQLiteStore) ActiveSymbols(ctx context.Context) (map[string]core.SymbolRule, error) {
	return s.symbols(ctx, true)
}

// AllSymbols returns every rule keyed by symbol
func (s *SQLiteStore) AllSymbols(ctx context.Context) (map[string]core.SymbolRule, error) {
	return s.symbols(ctx, false)
}

func (s *SQLiteStore) symbols(ctx context.Context, activeOnly bool) (map[string]core.SymbolRule, error) {
	q := s.sq.Select("symbol", "min_order_qty", "min_price", "tick_size", "step_size", "is_active", "updated_at").
		From("symbols")
	if activeOnly {
		q = q.Where(squirrel.Eq{"is_active": 1})
	}

	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	out := make(map[string]core.SymbolRule)
	for rows.Next() {
		var r core.SymbolRule
		var updated int64
		if err := rows.Scan(&r.Symbol, &r.MinOrderQty, &r.MinPrice, &r.TickSize, &r.StepSize, &r.Active, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		r.UpdatedAt = fromMillis(updated)
		out[r.Symbol] = r
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.sq.Select("value").From("settings").Where(squirrel.Eq{"key": key}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.sq.Insert("settings").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value").
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.sq.Delete("settings").Where(squirrel.Eq{"key": key}).RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, level, message, data string, at time.Time) error {
	_, err := s.sq.Insert("logs").
		Columns("level", "message", "data", "created_at").
		Values(level, message, data, toMillis(at)).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// RecentLogs returns the newest log entries first
func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	q := s.sq.Select("id", "level", "message", "data", "created_at").From("logs").OrderBy("id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var at int64
		if err := rows.Scan(&e.ID, &e.Level, &e.Message, &e.Data, &at); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		e.CreatedAt = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// sqliteTx applies ledger mutations inside one transaction
type sqliteTx struct {
	runner squirrel.BaseRunner
	sq     squirrel.StatementBuilderType
	marked []int64
}

func (t *sqliteTx) RecordOpen(ctx context.Context, open core.TradeOpen) (int64, error) {
	openedAt := open.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now()
	}

	res, err := t.sq.Insert("trades").
		Columns("server_trade_id", "command_id", "symbol", "side", "entry_qty", "entry_price", "status", "opened_at").
		Values(open.ServerTradeID, open.CommandID, open.Symbol, string(open.Side), open.Qty, open.Price, string(core.TradeStatusOpen), toMillis(openedAt)).
		RunWith(t.runner).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) CloseOldestOpen(ctx context.Context, close core.TradeClose) (*core.TradeRecord, error) {
	rec, err := oldestOpen(ctx, t.runner, t.sq, close.Symbol)
	if err != nil || rec == nil {
		return nil, err
	}

	closedAt := close.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	rec.ExitQty = close.ExitQty
	rec.ExitPrice = close.ExitPrice
	rec.PnL = realizedPnL(rec.Side, rec.EntryPrice, close.ExitPrice, close.ExitQty)
	rec.Status = core.TradeStatusClosed
	rec.ClosedAt = closedAt

	_, err = t.sq.Update("trades").
		Set("exit_qty", rec.ExitQty).
		Set("exit_price", rec.ExitPrice).
		Set("pnl", rec.PnL).
		Set("status", string(core.TradeStatusClosed)).
		Set("closed_at", toMillis(closedAt)).
		Where(squirrel.Eq{"id": rec.ID}).
		RunWith(t.runner).
		ExecContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to close trade %d: %w", rec.ID, err)
	}
	return rec, nil
}

func (t *sqliteTx) MarkExecuted(ctx context.Context, cmd core.ExecutedCommand) error {
	executedAt := cmd.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}

	_, err := t.sq.Insert("executed_commands").
		Options("OR IGNORE").
		Columns("command_id", "symbol", "side", "order_type", "master_qty", "terminal_qty", "terminal_price", "status", "exchange_order_id", "executed_at").
		Values(cmd.CommandID, cmd.Symbol, string(cmd.Side), string(cmd.OrderType), cmd.MasterQty, cmd.TerminalQty, cmd.TerminalPrice, string(cmd.Status), cmd.ExchangeOrderID, toMillis(executedAt)).
		RunWith(t.runner).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark command %d executed: %w", cmd.CommandID, err)
	}
	t.marked = append(t.marked, cmd.CommandID)
	return nil
}

func oldestOpen(ctx context.Context, runner squirrel.BaseRunner, sq squirrel.StatementBuilderType, symbol string) (*core.TradeRecord, error) {
	rows, err := sq.Select(tradeColumns...).
		From("trades").
		Where(squirrel.Eq{"symbol": symbol, "status": string(core.TradeStatusOpen)}).
		OrderBy("opened_at ASC", "id ASC").
		Limit(1).
		RunWith(runner).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trade: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanTrade(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (*core.TradeRecord, error) {
	var r core.TradeRecord
	var side, status string
	var openedAt, closedAt int64
	err := row.Scan(&r.ID, &r.ServerTradeID, &r.CommandID, &r.Symbol, &side, &r.EntryQty, &r.EntryPrice,
		&r.ExitQty, &r.ExitPrice, &r.PnL, &status, &openedAt, &closedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}
	r.Side = core.Side(side)
	r.Status = core.TradeStatus(status)
	r.OpenedAt = fromMillis(openedAt)
	r.ClosedAt = fromMillis(closedAt)
	return &r, nil
}
