package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"copytrader/internal/config"
	"copytrader/internal/control"
	"copytrader/internal/core"
	"copytrader/internal/exchange/bybit"
	"copytrader/internal/infrastructure/events"
	"copytrader/internal/ledger"
	"copytrader/pkg/cli"
	"copytrader/pkg/telemetry"
)

// InstrumentLookup reads exchange trading rules for one symbol
type InstrumentLookup func(ctx context.Context, symbol string) ([]core.SymbolRule, error)

// Login authenticates against a control server, persists the session and
// syncs the master's symbol list
func (a *App) Login(ctx context.Context, serverURL, uid string) (*control.InitResult, error) {
	res, err := a.Session.Login(ctx, serverURL, uid)
	if err != nil {
		return nil, err
	}
	a.Engine.Reset()
	a.Monitor.Account.SetMasterBalance(res.Info.Balance)
	if err := a.SyncSymbols(ctx, res.Pairs); err != nil {
		return res, err
	}
	return res, nil
}

// Logout drops the session and its stored token
func (a *App) Logout(ctx context.Context) error {
	a.Engine.Reset()
	return a.Session.Logout(ctx)
}

// ConfigureExchange validates and stores exchange keys, then reconnects
func (a *App) ConfigureExchange(ctx context.Context, apiKey, apiSecret string) error {
	if err := cli.ValidateAPIKey(apiKey); err != nil {
		return err
	}
	if err := cli.ValidateAPIKey(apiSecret); err != nil {
		return fmt.Errorf("api secret: %w", err)
	}
	if err := a.Store.SetSetting(ctx, ledger.SettingAPIKey, apiKey); err != nil {
		return err
	}
	if err := a.Store.SetSetting(ctx, ledger.SettingAPISecret, apiSecret); err != nil {
		return err
	}
	a.Logger.Info("Exchange keys stored", "api_key", config.Secret(apiKey).Hint())
	return a.ReloadCredentials(ctx)
}

// ReloadCredentials is the reload_credentials task. The gateway is rebuilt
// only when the stored keys changed or the last connection test failed.
func (a *App) ReloadCredentials(ctx context.Context) error {
	creds, err := a.credentials(ctx)
	if err != nil {
		return err
	}
	current := a.Exchange.Credentials()

	if creds.Empty() {
		if !current.Empty() {
			a.Logger.Warn("Exchange keys removed, disconnecting")
			a.Exchange.Swap(a.Factory.Build(creds))
			a.setExchangeStatus(false)
		}
		return nil
	}
	if creds == current && a.Monitor.Connected() {
		return nil
	}
	if creds != current {
		a.Logger.Info("Exchange keys changed, reconnecting", "api_key", creds.APIKey.Hint())
	}
	return a.connectExchange(ctx, creds)
}

// credentials resolves the exchange keys. Stored settings take precedence
// over the config file.
func (a *App) credentials(ctx context.Context) (bybit.Credentials, error) {
	key, _, err := a.Store.GetSetting(ctx, ledger.SettingAPIKey)
	if err != nil {
		return bybit.Credentials{}, err
	}
	secret, _, err := a.Store.GetSetting(ctx, ledger.SettingAPISecret)
	if err != nil {
		return bybit.Credentials{}, err
	}
	if key != "" && secret != "" {
		return bybit.Credentials{APIKey: config.Secret(key), APISecret: config.Secret(secret)}, nil
	}
	return bybit.Credentials{APIKey: a.Cfg.Exchange.APIKey, APISecret: a.Cfg.Exchange.SecretKey}, nil
}

func (a *App) connectExchange(ctx context.Context, creds bybit.Credentials) error {
	g := a.Factory.Build(creds)
	a.Exchange.Swap(g)

	if err := g.TestConnection(ctx); err != nil {
		a.setExchangeStatus(false)
		return fmt.Errorf("exchange connection test: %w", err)
	}
	a.setExchangeStatus(true)
	a.Logger.Info("Exchange connected")

	if err := a.Monitor.InitialLoad(ctx); err != nil {
		a.Logger.Warn("Initial data load incomplete", "error", err)
	}
	return nil
}

func (a *App) setExchangeStatus(up bool) {
	a.Monitor.SetConnected(up)
	telemetry.GetGlobalMetrics().SetConnectionUp("exchange", up)
	a.Bus.Emit(events.OnBybitStatus, map[string]interface{}{"status": up})
}

// SetTradingBalance validates amount against a fresh wallet balance and
// stores it
func (a *App) SetTradingBalance(ctx context.Context, amount float64) error {
	if err := a.Monitor.Account.LoadBalance(ctx); err != nil {
		return err
	}
	if err := a.Monitor.Account.ValidateTradingBalance(amount); err != nil {
		return err
	}
	value := strconv.FormatFloat(amount, 'f', -1, 64)
	if err := a.Store.SetSetting(ctx, ledger.SettingTradingBalance, value); err != nil {
		return err
	}
	a.Monitor.Account.SetTradingBalance(amount)
	a.Logger.Info("Trading balance set", "amount", amount)
	return nil
}

// updateBalance is the update_balance task. The trading balance is re-read
// first so a value set from the CLI applies to the next ratio.
func (a *App) updateBalance(ctx context.Context) error {
	if err := a.LoadTradingBalance(ctx); err != nil {
		return err
	}
	return a.Monitor.UpdateBalance(ctx)
}

// LoadBalances reads the trading balance and a fresh wallet balance. Unlike
// Start it leaves the session, the symbols table and the caches alone.
func (a *App) LoadBalances(ctx context.Context) error {
	if err := a.LoadTradingBalance(ctx); err != nil {
		return err
	}
	if err := a.ReloadCredentials(ctx); err != nil {
		return err
	}
	return a.Monitor.Account.LoadBalance(ctx)
}

// LoadTradingBalance applies the stored trading balance, falling back to the
// config value
func (a *App) LoadTradingBalance(ctx context.Context) error {
	stored, ok, err := a.Store.GetSetting(ctx, ledger.SettingTradingBalance)
	if err != nil {
		return fmt.Errorf("load trading balance: %w", err)
	}
	a.Monitor.Account.SetTradingBalance(resolveTradingBalance(stored, ok, a.Cfg.Trading.TradingBalance, a.Logger))
	return nil
}

func resolveTradingBalance(stored string, ok bool, fallback float64, logger core.ILogger) float64 {
	if !ok || stored == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(stored, 64)
	if err != nil || v < 0 {
		logger.Warn("Ignoring stored trading balance", "value", stored)
		return fallback
	}
	return v
}

func (a *App) loadSymbols(ctx context.Context) error {
	active, err := a.Store.ActiveSymbols(ctx)
	if err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}
	a.Monitor.Prices.SetSymbols(sortedSymbols(active))
	return nil
}

// SyncSymbols replaces the stored symbol rules with pairs. Rules the master
// sent without sizing data are completed from the exchange.
func (a *App) SyncSymbols(ctx context.Context, pairs []core.SymbolRule) error {
	if len(pairs) == 0 {
		return nil
	}
	rules := enrichRules(ctx, pairs, a.Factory.Instruments, a.Logger)
	if err := a.Store.ReplaceSymbols(ctx, rules); err != nil {
		return fmt.Errorf("store symbols: %w", err)
	}
	if err := a.loadSymbols(ctx); err != nil {
		return err
	}
	a.restartStream()
	a.Logger.Info("Symbols synced", "count", len(rules))
	return nil
}

// enrichRules fills zero step, tick or minimum fields from lookup. Master
// values always win; lookup failures leave the rule as sent.
func enrichRules(ctx context.Context, rules []core.SymbolRule, lookup InstrumentLookup, logger core.ILogger) []core.SymbolRule {
	out := make([]core.SymbolRule, 0, len(rules))
	for _, r := range rules {
		if lookup != nil && (r.StepSize == 0 || r.MinOrderQty == 0 || r.TickSize == 0) {
			found, err := lookup(ctx, r.Symbol)
			if err != nil {
				logger.Warn("Failed to load instrument rules", "symbol", r.Symbol, "error", err)
			}
			for _, f := range found {
				if f.Symbol != r.Symbol {
					continue
				}
				if r.StepSize == 0 {
					r.StepSize = f.StepSize
				}
				if r.MinOrderQty == 0 {
					r.MinOrderQty = f.MinOrderQty
				}
				if r.TickSize == 0 {
					r.TickSize = f.TickSize
				}
				if r.MinPrice == 0 {
					r.MinPrice = f.MinPrice
				}
				break
			}
		}
		out = append(out, r)
	}
	return out
}

func sortedSymbols(rules map[string]core.SymbolRule) []string {
	symbols := make([]string, 0, len(rules))
	for s := range rules {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func (a *App) restartStream() {
	if !a.Cfg.Exchange.PriceStream {
		return
	}
	a.streamMu.Lock()
	ctx := a.streamCtx
	a.streamMu.Unlock()
	if ctx == nil {
		return
	}
	a.Monitor.Prices.StartStream(ctx, a.Cfg.Exchange.WSURL)
}

// reloadSettings is the reload_credentials task. It picks up a login, logout
// or key change written by another process.
func (a *App) reloadSettings(ctx context.Context) error {
	if err := a.reloadSession(ctx); err != nil {
		a.Logger.Warn("Failed to reload session", "error", err)
	}
	return a.ReloadCredentials(ctx)
}

func (a *App) reloadSession(ctx context.Context) error {
	changed, err := a.Session.Reload(ctx)
	if err != nil || !changed {
		return err
	}
	a.Engine.Reset()
	if !a.Session.IsAuthenticated() {
		a.Logger.Info("Logged out, copying paused")
		return nil
	}
	return a.refreshSession(ctx)
}

func (a *App) pollStatus(ctx context.Context) error {
	if !a.Session.IsAuthenticated() {
		return nil
	}
	return a.Engine.PollStatus(ctx)
}

// refreshSession is the refresh_token task and the re-authentication hook
func (a *App) refreshSession(ctx context.Context) error {
	if a.Session.UID() == "" {
		return nil
	}
	if _, err := a.Session.Refresh(ctx); err != nil {
		return err
	}
	if b := a.Session.MasterBalance(); b > 0 {
		a.Monitor.Account.SetMasterBalance(b)
	}
	return a.SyncSymbols(ctx, a.Session.Pairs())
}

// Trades lists ledger trades, newest first
func (a *App) Trades(ctx context.Context, status core.TradeStatus, limit int) ([]core.TradeRecord, error) {
	return a.Store.Trades(ctx, status, limit)
}
