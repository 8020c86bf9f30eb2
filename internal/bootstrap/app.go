// Package bootstrap builds the terminal from configuration and runs its
// lifecycle
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"copytrader/internal/alert"
	"copytrader/internal/config"
	"copytrader/internal/control"
	"copytrader/internal/core"
	"copytrader/internal/engine/syncengine"
	"copytrader/internal/exchange/bybit"
	"copytrader/internal/gateway"
	"copytrader/internal/infrastructure/events"
	"copytrader/internal/infrastructure/health"
	"copytrader/internal/infrastructure/scheduler"
	"copytrader/internal/infrastructure/server"
	"copytrader/internal/ledger"
	"copytrader/internal/trading/execution"
	"copytrader/internal/trading/monitor"
	"copytrader/pkg/concurrency"
	"copytrader/pkg/logging"
	"copytrader/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App represents the application context and holds core dependencies.
type App struct {
	Cfg       *Config
	Logger    core.ILogger
	Store     ledger.Store
	Bus       *events.Bus
	Pool      *concurrency.WorkerPool
	Factory   *gateway.Factory
	Exchange  *gateway.Holder
	Session   *control.Session
	Monitor   *monitor.Monitor
	Engine    *syncengine.Engine
	Scheduler *scheduler.Scheduler
	Health    *health.HealthManager
	Server    *server.HealthServer
	Alerts    *alert.AlertManager

	zap        *logging.ZapLogger
	telemetry  *telemetry.Telemetry
	stopAlerts func()

	mirror       *logMirror
	mirrorCancel context.CancelFunc
	mirrorDone   chan struct{}

	streamMu  sync.Mutex
	streamCtx context.Context

	closeOnce sync.Once
	closeErr  error
}

// Option customizes NewAppFromConfig
type Option func(*appOptions)

type appOptions struct {
	store ledger.Store
}

// WithStore replaces the SQLite store, for tests
func WithStore(store ledger.Store) Option {
	return func(o *appOptions) { o.store = store }
}

// NewApp creates a new App instance by bootstrapping all dependencies.
func NewApp(configPath string, opts ...Option) (*App, error) {
	// 1. Load Configuration
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return NewAppFromConfig(cfg, opts...)
}

// NewAppFromConfig wires every component. Nothing touches the network
// until Start.
func NewAppFromConfig(cfg *Config, opts ...Option) (*App, error) {
	o := appOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	// 2. Local datastore
	store := o.store
	if store == nil {
		s, err := ledger.NewSQLiteStore(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		store = s
	}

	// 3. Logger, mirrored to the log table and the event bus
	mirror := newLogMirror(store)
	zl, err := InitLogger(cfg, mirror.Sink)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("logger: %w", err)
	}
	logger := zl.WithField("service", "copytrader")

	a := &App{
		Cfg:    cfg,
		Logger: logger,
		Store:  store,
		zap:    zl,
		mirror: mirror,
	}

	if cfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup("copytrader", telemetry.WithAttributes(
			attribute.String("exchange.category", cfg.Exchange.Category),
			attribute.Bool("exchange.testnet", cfg.Exchange.Testnet),
		))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		a.telemetry = tel
	}

	a.Bus = events.NewBus(logger)
	mirror.Attach(a.Bus)
	a.startMirror()

	// 4. Exchange access
	a.Pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "exchange",
		MaxWorkers:  cfg.Gateway.PoolSize,
		MaxCapacity: cfg.Gateway.PoolSize * 10,
	}, logger)
	a.Factory = gateway.NewFactory(cfg, a.Pool, logger)
	a.Exchange = gateway.NewHolder(a.Factory.Build(bybit.Credentials{}))

	// 5. Control server, caches and the sync engine
	a.Session = control.NewSession(store, cfg.Server.Timeout, logger)
	a.Monitor = monitor.New(a.Exchange, a.Bus, cfg.Trading.HistoryLimit, logger)
	a.Engine = syncengine.New(
		a.Session,
		store,
		store,
		execution.NewDispatcher(a.Exchange, logger),
		a.Monitor.Account,
		a.Bus,
		logger,
		syncengine.WithReauth(a.refreshSession),
	)

	a.Alerts = newAlertManager(cfg.Alerts, logger)
	if a.Alerts.Channels() > 0 {
		a.stopAlerts = a.Alerts.Watch(a.Bus)
	}

	a.Scheduler = scheduler.New(cfg.Timing.Tick, logger)
	a.registerTasks()

	a.Health = health.NewHealthManager(logger)
	a.registerHealthChecks()
	if cfg.Telemetry.EnableMetrics {
		a.Server = server.NewHealthServer(fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort), logger, a.Health)
		a.Server.AddStatusProvider(a.statusSnapshot)
	}

	return a, nil
}

func newAlertManager(cfg config.AlertConfig, logger core.ILogger) *alert.AlertManager {
	am := alert.NewAlertManager(logger)
	if cfg.SlackWebhook != "" {
		am.AddChannel(alert.NewSlackChannel(cfg.SlackWebhook.Reveal()))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		am.AddChannel(alert.NewTelegramChannel(alert.TelegramAPIURL, cfg.TelegramToken.Reveal(), cfg.TelegramChatID))
	}
	return am
}

func (a *App) registerTasks() {
	t := a.Cfg.Timing
	a.Scheduler.AddTask("poll_status", t.PollStatus, a.pollStatus)
	a.Scheduler.AddTask("update_prices", t.UpdatePrices, a.Monitor.UpdatePrices)
	a.Scheduler.AddTask("update_balance", t.UpdateBalance, a.updateBalance)
	a.Scheduler.AddTask("update_orders", t.UpdateOrders, a.Monitor.UpdateOrders)
	a.Scheduler.AddTask("update_history", t.UpdateHistory, a.Monitor.UpdateHistory)
	a.Scheduler.AddTask("refresh_token", t.RefreshToken, a.refreshSession)
	a.Scheduler.AddTask("reload_credentials", t.ReloadCredentials, a.reloadSettings)
}

func (a *App) registerHealthChecks() {
	a.Health.Register("control", func() error {
		if !a.Session.IsAuthenticated() {
			return errors.New("not logged in")
		}
		if !a.Engine.Connected() {
			return errors.New("control server unreachable")
		}
		return nil
	})
	a.Health.Register("exchange", func() error {
		if !a.Monitor.Connected() {
			return errors.New("exchange not connected")
		}
		return nil
	})
	a.Health.Register("ledger", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return a.Store.Ping(ctx)
	})
	a.Health.RegisterInfo("prices", func() error {
		return a.Monitor.Prices.CheckHealth(3 * a.Cfg.Timing.UpdatePrices)
	})
}

func (a *App) statusSnapshot() map[string]interface{} {
	account := a.Monitor.Account
	return map[string]interface{}{
		"api_connected":   a.Engine.Connected(),
		"bybit_connected": a.Monitor.Connected(),
		"last_hash":       a.Engine.LastHash(),
		"uid":             a.Session.UID(),
		"wallet_balance":  account.WalletBalance(),
		"trading_balance": account.TradingBalance(),
		"master_balance":  account.MasterBalance(),
		"ratio":           account.Ratio(),
		"symbols":         a.Monitor.Prices.Symbols(),
		"log_dropped":     a.mirror.Dropped(),
	}
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// Run starts the terminal and blocks until ctx is cancelled or a signal
// arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	// Create a context that is canceled when a termination signal is received.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.Close()
		return err
	}

	if a.Server != nil {
		if err := a.Server.Start(); err != nil {
			a.Logger.Error("Failed to start health server", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	a.Logger.Info("Terminal started", "tasks", a.Scheduler.Tasks())

	runners := []Runner{a.Scheduler}
	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Terminal stopped with error", "error", err)
	}

	a.Bus.Emit(events.OnDisconnected, map[string]interface{}{"ts": time.Now().UnixMilli()})
	a.Logger.Info("Terminal shutting down")
	if cerr := a.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Start restores the session and exchange connection and loads the caches.
// Connectivity failures are logged; only a broken datastore fails Start.
func (a *App) Start(ctx context.Context) error {
	a.Bus.Emit(events.OnConnected, map[string]interface{}{"ts": time.Now().UnixMilli()})

	a.streamMu.Lock()
	a.streamCtx = ctx
	a.streamMu.Unlock()

	if err := a.LoadTradingBalance(ctx); err != nil {
		return err
	}
	if err := a.loadSymbols(ctx); err != nil {
		return err
	}

	restored, err := a.Session.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if restored {
		a.Logger.Info("Session restored", "uid", a.Session.UID())
		if err := a.refreshSession(ctx); err != nil {
			a.Logger.Warn("Failed to refresh session at startup", "error", err)
		}
	} else {
		a.Logger.Info("No stored session, log in to start copying")
	}

	if err := a.ReloadCredentials(ctx); err != nil {
		a.Logger.Warn("Exchange not connected", "error", err)
	}
	a.restartStream()
	return nil
}

func (a *App) startMirror() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mirrorCancel = cancel
	a.mirrorDone = make(chan struct{})
	go func() {
		defer close(a.mirrorDone)
		_ = a.mirror.Run(ctx)
	}()
}

// Close releases every resource. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		a.Monitor.Prices.StopStream()
		if a.Server != nil {
			if err := a.Server.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("health server: %w", err))
			}
		}
		a.Pool.Stop()
		if a.stopAlerts != nil {
			a.stopAlerts()
			a.Alerts.Wait()
		}
		if a.telemetry != nil {
			if err := a.telemetry.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		a.mirrorCancel()
		<-a.mirrorDone
		_ = a.zap.Sync()

		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
