package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"copytrader/internal/bootstrap"
	"copytrader/internal/config"
	"copytrader/internal/core"
	format "copytrader/pkg/cli"
	"copytrader/pkg/tradingutils"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "copytrader",
		Usage: "Copy a master account's trades onto a local Bybit account",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "configs/config.yaml",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the sync loop (default)",
				Action: runAction,
			},
			{
				Name:  "login",
				Usage: "Authenticate against a control server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Usage: "Control server `URL`", Required: true},
					&cli.StringFlag{Name: "uid", Usage: "Terminal `UUID`", Required: true},
				},
				Action: loginAction,
			},
			{
				Name:   "logout",
				Usage:  "Forget the stored session",
				Action: logoutAction,
			},
			{
				Name:  "keys",
				Usage: "Store Bybit API keys and test the connection",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-key", Required: true, Sources: cli.EnvVars("BYBIT_API_KEY")},
					&cli.StringFlag{Name: "api-secret", Required: true, Sources: cli.EnvVars("BYBIT_API_SECRET")},
				},
				Action: keysAction,
			},
			{
				Name:   "balance",
				Usage:  "Show wallet, trading and master balances",
				Action: balanceAction,
				Commands: []*cli.Command{
					{
						Name:  "set",
						Usage: "Set the trading balance copied against the master",
						Flags: []cli.Flag{
							&cli.FloatFlag{Name: "amount", Required: true},
						},
						Action: setBalanceAction,
					},
				},
			},
			{
				Name:  "trades",
				Usage: "List ledger trades",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "open or closed, empty for both"},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: tradesAction,
			},
			{
				Name:   "symbols",
				Usage:  "List synced symbol rules",
				Action: symbolsAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func withApp(ctx context.Context, cmd *cli.Command, fn func(app *bootstrap.App) error) error {
	app, err := bootstrap.NewApp(cmd.Root().String("config"))
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	app, err := bootstrap.NewApp(cmd.Root().String("config"))
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	url, uid := cmd.String("url"), cmd.String("uid")
	if err := format.ValidateServerURL(url); err != nil {
		return err
	}
	if err := format.ValidateUID(uid); err != nil {
		return err
	}
	return withApp(ctx, cmd, func(app *bootstrap.App) error {
		res, err := app.Login(ctx, url, uid)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in, master balance %s, %d pairs\n", format.FormatPrice(res.Info.Balance), len(res.Pairs))
		return nil
	})
}

func logoutAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *bootstrap.App) error {
		if err := app.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	})
}

func keysAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *bootstrap.App) error {
		if err := app.ConfigureExchange(ctx, cmd.String("api-key"), cmd.String("api-secret")); err != nil {
			return err
		}
		fmt.Printf("Exchange connected with key %s\n", config.Secret(cmd.String("api-key")).Hint())
		return nil
	})
}

func balanceAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *bootstrap.App) error {
		if err := app.LoadBalances(ctx); err != nil {
			return err
		}
		acc := app.Monitor.Account
		fmt.Printf("Wallet:  %s\n", format.FormatPrice(acc.WalletBalance()))
		fmt.Printf("Trading: %s\n", format.FormatPrice(acc.TradingBalance()))
		// Master balance arrives with terminal init, which only the daemon runs
		if acc.MasterBalance() > 0 {
			fmt.Printf("Master:  %s\n", format.FormatPrice(acc.MasterBalance()))
			fmt.Printf("Ratio:   %s\n", tradingutils.FormatDecimal(acc.Ratio()))
		}
		return nil
	})
}

func setBalanceAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *bootstrap.App) error {
		if err := app.ReloadCredentials(ctx); err != nil {
			return err
		}
		amount := cmd.Float("amount")
		if err := app.SetTradingBalance(ctx, amount); err != nil {
			return err
		}
		fmt.Printf("Trading balance set to %s\n", format.FormatPrice(amount))
		return nil
	})
}

func tradesAction(ctx context.Context, cmd *cli.Command) error {
	status := core.TradeStatus(cmd.String("status"))
	if status != "" && status != core.TradeStatusOpen && status != core.TradeStatusClosed {
		return fmt.Errorf("unknown status %q", status)
	}
	return withApp(ctx, cmd, func(app *bootstrap.App) error {
		trades, err := app.Trades(ctx, status, int(cmd.Int("limit")))
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSYMBOL\tSIDE\tQTY\tENTRY\tEXIT\tPNL\tSTATUS\tOPENED")
		for _, t := range trades {
			exit, pnl := "-", "-"
			if t.Status == core.TradeStatusClosed {
				exit = format.FormatPrice(t.ExitPrice)
				pct := tradingutils.CalculatePnLPercent(t.Side == core.SideBuy, t.EntryPrice, t.ExitPrice)
				pnl = format.FormatPnL(t.PnL, pct)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Symbol, t.Side, format.FormatQty(t.EntryQty), format.FormatPrice(t.EntryPrice),
				exit, pnl, t.Status, t.OpenedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	})
}

func symbolsAction(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *bootstrap.App) error {
		rules, err := app.Store.AllSymbols(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(rules))
		for s := range rules {
			names = append(names, s)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tMIN QTY\tSTEP\tTICK\tACTIVE")
		for _, s := range names {
			r := rules[s]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", s,
				tradingutils.FormatDecimal(r.MinOrderQty), tradingutils.FormatDecimal(r.StepSize),
				tradingutils.FormatDecimal(r.TickSize), r.Active)
		}
		return w.Flush()
	})
}
