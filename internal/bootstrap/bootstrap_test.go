package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/infrastructure/events"
	"copytrader/internal/ledger"
	"copytrader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogMirror_PersistsWarningsAndEmits(t *testing.T) {
	store := ledger.NewMemoryStore()
	bus := events.NewBus(logging.NewNopLogger())

	var mu sync.Mutex
	var seen []UILogEntry
	bus.Subscribe(events.OnUILog, func(payload interface{}) error {
		mu.Lock()
		seen = append(seen, payload.(UILogEntry))
		mu.Unlock()
		return nil
	})

	m := newLogMirror(store)
	m.Attach(bus)

	at := time.Unix(1700000000, 0)
	m.Sink("INFO", "started", nil, at)
	m.Sink("WARN", "slow", map[string]interface{}{"ms": 1200}, at)
	m.Sink("ERROR", "failed", nil, at)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Run(ctx))

	mu.Lock()
	assert.Len(t, seen, 3)
	mu.Unlock()

	logs, err := store.RecentLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "ERROR", logs[0].Level)
	assert.Equal(t, "WARN", logs[1].Level)
	assert.JSONEq(t, `{"ms":1200}`, logs[1].Data)
}

func TestLogMirror_DropsWhenFull(t *testing.T) {
	m := newLogMirror(nil)
	for i := 0; i < mirrorBuffer+5; i++ {
		m.Sink("INFO", "x", nil, time.Now())
	}
	assert.Equal(t, int64(5), m.Dropped())
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Timing.PollStatus, cfg.Timing.PollStatus)
}

func TestLoadConfig_InsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "exchange:\n  api_key: abcdefghijklmnopqrstu\n  secret_key: abcdefghijklmnopqrstu\nstorage:\n  db_path: " +
		filepath.Join(dir, "data", "t.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")

	require.NoError(t, os.Chmod(path, 0o600))
	_, err = LoadConfig(path)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestEnrichRules(t *testing.T) {
	lookup := func(ctx context.Context, symbol string) ([]core.SymbolRule, error) {
		switch symbol {
		case "BTCUSDT":
			return []core.SymbolRule{{Symbol: "BTCUSDT", StepSize: 0.001, MinOrderQty: 0.001, TickSize: 0.1}}, nil
		default:
			return nil, errors.New("unknown symbol")
		}
	}
	rules := []core.SymbolRule{
		{Symbol: "BTCUSDT", MinOrderQty: 0.01, Active: true},
		{Symbol: "ETHUSDT", StepSize: 0.01, MinOrderQty: 0.01, TickSize: 0.01, Active: true},
		{Symbol: "XYZUSDT", Active: true},
	}

	out := enrichRules(context.Background(), rules, lookup, logging.NewNopLogger())
	require.Len(t, out, 3)
	assert.Equal(t, 0.001, out[0].StepSize)
	assert.Equal(t, 0.01, out[0].MinOrderQty, "master minimum wins")
	assert.Equal(t, 0.1, out[0].TickSize)
	assert.Equal(t, rules[1], out[1])
	assert.Zero(t, out[2].StepSize)
}

func TestResolveTradingBalance(t *testing.T) {
	logger := logging.NewNopLogger()
	assert.Equal(t, 250.0, resolveTradingBalance("250", true, 100, logger))
	assert.Equal(t, 100.0, resolveTradingBalance("", false, 100, logger))
	assert.Equal(t, 100.0, resolveTradingBalance("abc", true, 100, logger))
	assert.Equal(t, 100.0, resolveTradingBalance("-5", true, 100, logger))
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "t.db")
	cfg.Timing.Tick = 10 * time.Millisecond
	cfg.Trading.TradingBalance = 150

	app, err := NewAppFromConfig(cfg, WithStore(ledger.NewMemoryStore()))
	require.NoError(t, err)
	return app
}

func TestApp_RegistersTasks(t *testing.T) {
	app := newTestApp(t)
	defer app.Close()

	assert.ElementsMatch(t, []string{
		"poll_status", "update_prices", "update_balance", "update_orders",
		"update_history", "refresh_token", "reload_credentials",
	}, app.Scheduler.Tasks())
	assert.ElementsMatch(t, []string{"control", "exchange", "ledger", "prices"}, app.Health.Components())
}

func TestApp_StartWithoutSessionOrKeys(t *testing.T) {
	app := newTestApp(t)
	defer app.Close()

	require.NoError(t, app.Start(context.Background()))
	assert.Equal(t, 150.0, app.Monitor.Account.TradingBalance())
	assert.False(t, app.Session.IsAuthenticated())
	assert.False(t, app.Monitor.Connected())
	assert.False(t, app.Health.IsHealthy())
}

func TestApp_SyncSymbolsUpdatesTrackedPrices(t *testing.T) {
	app := newTestApp(t)
	defer app.Close()
	ctx := context.Background()

	// Rules with full sizing data skip the instrument lookup
	err := app.SyncSymbols(ctx, []core.SymbolRule{
		{Symbol: "ETHUSDT", StepSize: 0.01, MinOrderQty: 0.01, TickSize: 0.01, Active: true},
		{Symbol: "BTCUSDT", StepSize: 0.001, MinOrderQty: 0.001, TickSize: 0.1, Active: true},
		{Symbol: "SOLUSDT", StepSize: 0.1, MinOrderQty: 0.1, TickSize: 0.01, Active: false},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, app.Monitor.Prices.Symbols())

	all, err := app.Store.AllSymbols(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestApp_ConfigureExchangeRejectsShortKey(t *testing.T) {
	app := newTestApp(t)
	defer app.Close()

	err := app.ConfigureExchange(context.Background(), "short", "short")
	require.Error(t, err)
	_, ok, _ := app.Store.GetSetting(context.Background(), ledger.SettingAPIKey)
	assert.False(t, ok)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, app.Scheduler.Running, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.NoError(t, app.Close(), "Close is idempotent")
}

// newSharedApp runs the terminal on a SQLite file and returns a second store
// on the same file, standing in for a CLI process
func newSharedApp(t *testing.T) (*App, *ledger.SQLiteStore) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "shared.db")
	cfg.Trading.TradingBalance = 150

	app, err := NewAppFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	cli, err := ledger.NewSQLiteStore(cfg.Storage.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return app, cli
}

func TestApp_UpdateBalanceRereadsTradingBalance(t *testing.T) {
	app, cli := newSharedApp(t)
	ctx := context.Background()

	require.NoError(t, app.Start(ctx))
	assert.Equal(t, 150.0, app.Monitor.Account.TradingBalance())

	require.NoError(t, cli.SetSetting(ctx, ledger.SettingTradingBalance, "50"))
	require.NoError(t, app.updateBalance(ctx))
	assert.Equal(t, 50.0, app.Monitor.Account.TradingBalance())
}

func TestApp_ReloadFollowsLoginAndLogout(t *testing.T) {
	var inits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/terminal/init" {
			http.NotFound(w, r)
			return
		}
		inits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"token":"t2","info":{"balance":1000},"pairs":[]}`))
	}))
	defer srv.Close()

	app, cli := newSharedApp(t)
	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	require.False(t, app.Session.IsAuthenticated())

	const uid = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	require.NoError(t, cli.SetSetting(ctx, ledger.SettingAPIURL, srv.URL))
	require.NoError(t, cli.SetSetting(ctx, ledger.SettingUID, uid))
	require.NoError(t, cli.SetSetting(ctx, ledger.SettingToken, "t1"))

	require.NoError(t, app.reloadSettings(ctx))
	assert.True(t, app.Session.IsAuthenticated())
	assert.Equal(t, uid, app.Session.UID())
	assert.Equal(t, "t2", app.Session.Token(), "session refreshed after pickup")
	assert.Equal(t, 1000.0, app.Monitor.Account.MasterBalance())
	assert.Equal(t, int32(1), inits.Load())

	// The refreshed token is stored, so the next reload is a no-op
	require.NoError(t, app.reloadSettings(ctx))
	assert.Equal(t, int32(1), inits.Load())

	require.NoError(t, cli.DeleteSetting(ctx, ledger.SettingToken))
	require.NoError(t, app.reloadSettings(ctx))
	assert.False(t, app.Session.IsAuthenticated())
	assert.Empty(t, app.Engine.LastHash())
}

func TestApp_LoadBalancesSkipsStartup(t *testing.T) {
	app, cli := newSharedApp(t)
	ctx := context.Background()

	var connected atomic.Int32
	app.Bus.Subscribe(events.OnConnected, func(interface{}) error {
		connected.Add(1)
		return nil
	})
	require.NoError(t, cli.SetSetting(ctx, ledger.SettingTradingBalance, "75"))
	require.NoError(t, cli.ReplaceSymbols(ctx, []core.SymbolRule{
		{Symbol: "BTCUSDT", StepSize: 0.001, MinOrderQty: 0.001, TickSize: 0.1, Active: true},
	}))

	require.NoError(t, app.LoadBalances(ctx))
	assert.Equal(t, 75.0, app.Monitor.Account.TradingBalance())
	assert.Zero(t, connected.Load())
	assert.Empty(t, app.Monitor.Prices.Symbols(), "symbols are not loaded")
}
