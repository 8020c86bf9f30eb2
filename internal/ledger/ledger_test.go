package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"copytrader/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "terminal.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestLedger_FIFOClose(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		t1 := time.UnixMilli(1_700_000_000_000)
		t2 := t1.Add(time.Minute)

		// Inserted out of order: the earlier open must still close first
		id2, err := s.RecordOpen(ctx, core.TradeOpen{Symbol: "BTCUSDT", Side: core.SideBuy, Qty: 0.2, Price: 61000, OpenedAt: t2})
		require.NoError(t, err)
		id1, err := s.RecordOpen(ctx, core.TradeOpen{Symbol: "BTCUSDT", Side: core.SideBuy, Qty: 0.1, Price: 60000, OpenedAt: t1})
		require.NoError(t, err)
		_, err = s.RecordOpen(ctx, core.TradeOpen{Symbol: "ETHUSDT", Side: core.SideSell, Qty: 1, Price: 3000, OpenedAt: t1.Add(-time.Hour)})
		require.NoError(t, err)

		first, err := s.CloseOldestOpen(ctx, core.TradeClose{Symbol: "BTCUSDT", ExitQty: 0.1, ExitPrice: 62000})
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, id1, first.ID)
		assert.Equal(t, core.TradeStatusClosed, first.Status)
		assert.InDelta(t, 200.0, first.PnL, 1e-9)
		assert.False(t, first.ClosedAt.IsZero())

		second, err := s.CloseOldestOpen(ctx, core.TradeClose{Symbol: "BTCUSDT", ExitQty: 0.2, ExitPrice: 60000})
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, id2, second.ID)
		assert.InDelta(t, -200.0, second.PnL, 1e-9)

		none, err := s.CloseOldestOpen(ctx, core.TradeClose{Symbol: "BTCUSDT", ExitQty: 1, ExitPrice: 1})
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestLedger_ShortPnL(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.RecordOpen(ctx, core.TradeOpen{Symbol: "ETHUSDT", Side: core.SideSell, Qty: 2, Price: 3000})
		require.NoError(t, err)

		rec, err := s.CloseOldestOpen(ctx, core.TradeClose{Symbol: "ETHUSDT", ExitQty: 2, ExitPrice: 2900})
		require.NoError(t, err)
		assert.InDelta(t, 200.0, rec.PnL, 1e-9)
	})
}

func TestLedger_OldestOpenAndTrades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.UnixMilli(1_700_000_000_000)

		none, err := s.OldestOpen(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.Nil(t, none)

		for i := 0; i < 3; i++ {
			_, err := s.RecordOpen(ctx, core.TradeOpen{
				CommandID: int64(i + 1), ServerTradeID: int64(100 + i),
				Symbol: "BTCUSDT", Side: core.SideBuy, Qty: 1, Price: 100,
				OpenedAt: base.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
		}

		oldest, err := s.OldestOpen(ctx, "BTCUSDT")
		require.NoError(t, err)
		require.NotNil(t, oldest)
		assert.Equal(t, int64(100), oldest.ServerTradeID)
		assert.Equal(t, int64(1), oldest.CommandID)

		_, err = s.CloseOldestOpen(ctx, core.TradeClose{Symbol: "BTCUSDT", ExitQty: 1, ExitPrice: 110})
		require.NoError(t, err)

		open, err := s.Trades(ctx, core.TradeStatusOpen, 0)
		require.NoError(t, err)
		assert.Len(t, open, 2)
		assert.Equal(t, int64(102), open[0].ServerTradeID, "newest first")

		closed, err := s.Trades(ctx, core.TradeStatusClosed, 0)
		require.NoError(t, err)
		require.Len(t, closed, 1)
		assert.Equal(t, int64(100), closed[0].ServerTradeID)

		all, err := s.Trades(ctx, "", 2)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestLedger_MarkExecuted(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		assert.False(t, s.IsExecuted(42))

		cmd := core.ExecutedCommand{CommandID: 42, Symbol: "BTCUSDT", Side: core.SideBuy, OrderType: core.OrderKindMarket, Status: core.StatusSkipped}
		require.NoError(t, s.MarkExecuted(ctx, cmd))
		assert.True(t, s.IsExecuted(42))

		// Marking twice keeps the first outcome and does not fail
		require.NoError(t, s.MarkExecuted(ctx, cmd))
		assert.True(t, s.IsExecuted(42))
	})
}

func TestLedger_RunInTxRollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.RunInTx(ctx, func(tx core.LedgerTx) error {
			if _, err := tx.RecordOpen(ctx, core.TradeOpen{Symbol: "BTCUSDT", Side: core.SideBuy, Qty: 1, Price: 1}); err != nil {
				return err
			}
			if err := tx.MarkExecuted(ctx, core.ExecutedCommand{CommandID: 7, Status: core.StatusSuccess}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		assert.False(t, s.IsExecuted(7))
		trades, err := s.Trades(ctx, "", 0)
		require.NoError(t, err)
		assert.Empty(t, trades)

		err = s.RunInTx(ctx, func(tx core.LedgerTx) error {
			if _, err := tx.RecordOpen(ctx, core.TradeOpen{Symbol: "BTCUSDT", Side: core.SideBuy, Qty: 1, Price: 1}); err != nil {
				return err
			}
			return tx.MarkExecuted(ctx, core.ExecutedCommand{CommandID: 7, Status: core.StatusSuccess})
		})
		require.NoError(t, err)
		assert.True(t, s.IsExecuted(7))
	})
}

func TestLedger_Symbols(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.ReplaceSymbols(ctx, []core.SymbolRule{
			{Symbol: "BTCUSDT", MinOrderQty: 0.001, StepSize: 0.001, TickSize: 0.1, Active: true},
			{Symbol: "ETHUSDT", MinOrderQty: 0.01, StepSize: 0.01, Active: false},
		}))

		active, err := s.ActiveSymbols(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, 0.001, active["BTCUSDT"].StepSize)

		all, err := s.AllSymbols(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		// Replaced wholesale, not merged
		require.NoError(t, s.ReplaceSymbols(ctx, []core.SymbolRule{{Symbol: "SOLUSDT", StepSize: 0.1, Active: true}}))
		all, err = s.AllSymbols(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		assert.Contains(t, all, "SOLUSDT")
	})
}

func TestLedger_Settings(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, ok, err := s.GetSetting(ctx, SettingToken)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SetSetting(ctx, SettingToken, "a"))
		require.NoError(t, s.SetSetting(ctx, SettingToken, "b"))
		v, ok, err := s.GetSetting(ctx, SettingToken)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "b", v)

		require.NoError(t, s.DeleteSetting(ctx, SettingToken))
		_, ok, err = s.GetSetting(ctx, SettingToken)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestLedger_Logs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.UnixMilli(1_700_000_000_000)

		require.NoError(t, s.AppendLog(ctx, "WARN", "first", `{"a":1}`, now))
		require.NoError(t, s.AppendLog(ctx, "ERROR", "second", "", now.Add(time.Second)))

		logs, err := s.RecentLogs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "second", logs[0].Message)
		assert.Equal(t, `{"a":1}`, logs[1].Data)
		assert.Equal(t, now, logs[1].CreatedAt)
	})
}

func TestSQLiteStore_ExecutedSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "terminal.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.MarkExecuted(ctx, core.ExecutedCommand{CommandID: 9, Symbol: "BTCUSDT", Status: core.StatusSuccess}))
	_, err = s.RecordOpen(ctx, core.TradeOpen{Symbol: "BTCUSDT", Side: core.SideBuy, Qty: 1, Price: 1})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.IsExecuted(9))
	open, err := reopened.Trades(ctx, core.TradeStatusOpen, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}
