package syncengine

import (
	"context"
	"fmt"
	"time"

	"copytrader/internal/core"
	"copytrader/internal/trading/sizing"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is what happened to one command
type Outcome struct {
	CommandID int64
	Status    core.ExecutionStatus
	Qty       float64
	Result    core.ExecutionResult
	// Err holds a processing fault. The command is still marked executed.
	Err error
}

// processCommand never panics and always leaves the command marked
// executed
func (e *Engine) processCommand(ctx context.Context, cmd core.Command, rule core.SymbolRule) (out Outcome) {
	ctx, span := e.tracer.Start(ctx, "ProcessCommand", trace.WithAttributes(
		attribute.Int64("command_id", cmd.ID),
		attribute.String("symbol", cmd.Symbol),
		attribute.String("position_side", string(cmd.PositionSide)),
	))
	defer span.End()

	logger := e.logger.WithFields(map[string]interface{}{
		"command_id": cmd.ID,
		"symbol":     cmd.Symbol,
		"side":       cmd.PositionSide,
	})
	out = Outcome{CommandID: cmd.ID, Status: core.StatusFailed}

	defer func() {
		if r := recover(); r != nil {
			err := &apperrors.CommandError{CommandID: cmd.ID, Op: "process", Err: fmt.Errorf("panic: %v", r)}
			logger.Error("Execute command error", "error", err)
			span.RecordError(err)
			out.Status = core.StatusFailed
			out.Err = err
			e.forceExecuted(ctx, cmd, out)
		}
		telemetry.GetGlobalMetrics().RecordCommand(ctx, string(out.Status))
	}()

	logger.Info("Processing command")
	receivedAt := e.now()

	decision := sizing.Size(cmd, rule, e.ratio.Ratio())
	out.Qty = decision.Qty

	var result core.ExecutionResult
	if decision.Skip {
		logger.Warn(decision.Reason)
		result = core.ExecutionResult{Status: core.StatusSkipped, Message: decision.Reason}
	} else {
		result = e.dispatch(ctx, cmd, decision.Qty)
	}
	out.Result = result
	out.Status = result.Status
	executedAt := e.now()

	if result.Status == core.StatusFailed {
		logger.Warn("Command failed", "message", result.Message)
	}

	if err := e.control.SendReport(ctx, buildReport(cmd, decision.Qty, result, receivedAt, executedAt)); err != nil {
		logger.Error("Failed to send log", "error", &apperrors.CommandError{CommandID: cmd.ID, Op: "report", Err: err})
	}

	executed := core.ExecutedCommand{
		CommandID:       cmd.ID,
		Symbol:          cmd.Symbol,
		Side:            cmd.Side,
		OrderType:       cmd.OrderType,
		MasterQty:       cmd.TradeQty,
		TerminalQty:     terminalQty(decision.Qty, result),
		TerminalPrice:   result.Price,
		Status:          result.Status,
		ExchangeOrderID: result.ExchangeOrderID,
		ExecutedAt:      executedAt,
	}

	var lifecycle func(tx core.LedgerTx) error
	if result.Status == core.StatusSuccess {
		lifecycle = e.prepareLifecycle(ctx, logger, cmd, decision.Qty, result, executedAt)
	}

	err := e.ledger.RunInTx(ctx, func(tx core.LedgerTx) error {
		if lifecycle != nil {
			if err := lifecycle(tx); err != nil {
				return err
			}
		}
		return tx.MarkExecuted(ctx, executed)
	})
	e.attempted[cmd.ID] = struct{}{}
	if err != nil {
		out.Err = &apperrors.CommandError{CommandID: cmd.ID, Op: "ledger", Err: err}
		logger.Error("Failed to update ledger", "error", out.Err)
		span.RecordError(err)
		if merr := e.ledger.MarkExecuted(ctx, executed); merr != nil {
			logger.Error("Failed to mark command executed", "error", merr)
		}
	}
	return out
}

// dispatch turns a dispatcher panic into a failed result
func (e *Engine) dispatch(ctx context.Context, cmd core.Command, qty float64) (result core.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = core.ExecutionResult{Status: core.StatusFailed, Message: fmt.Sprintf("dispatch panic: %v", r)}
		}
	}()
	return e.dispatcher.Dispatch(ctx, cmd, qty)
}

// prepareLifecycle registers the trade change with the control server and
// returns the matching ledger mutation. Control server failures are logged;
// the local record is written either way.
func (e *Engine) prepareLifecycle(ctx context.Context, logger core.ILogger, cmd core.Command, qty float64, result core.ExecutionResult, at time.Time) func(tx core.LedgerTx) error {
	switch cmd.PositionSide {
	case core.PositionOpen:
		serverID, err := e.control.OpenTrade(ctx, core.OpenTradeRequest{
			Symbol:     cmd.Symbol,
			Side:       cmd.Side,
			EntryQty:   qty,
			EntryPrice: result.Price,
		})
		if err != nil {
			logger.Error("Failed to register open trade", "error", err)
			serverID = 0
		}
		return func(tx core.LedgerTx) error {
			id, err := tx.RecordOpen(ctx, core.TradeOpen{
				CommandID:     cmd.ID,
				ServerTradeID: serverID,
				Symbol:        cmd.Symbol,
				Side:          cmd.Side,
				Qty:           qty,
				Price:         result.Price,
				OpenedAt:      at,
			})
			if err != nil {
				return err
			}
			logger.Info("Trade opened and saved", "trade_id", id, "server_trade_id", serverID)
			return nil
		}

	case core.PositionClose:
		open, err := e.ledger.OldestOpen(ctx, cmd.Symbol)
		if err != nil {
			logger.Error("Failed to look up open trade", "error", err)
			return nil
		}
		if open == nil {
			logger.Warn("No open trade found to close in DB")
			return nil
		}
		if open.ServerTradeID != 0 {
			if err := e.control.CloseTrade(ctx, core.CloseTradeRequest{
				TradeID:   open.ServerTradeID,
				ExitQty:   qty,
				ExitPrice: result.Price,
				TotalFee:  result.Fee,
			}); err != nil {
				logger.Error("Failed to register close trade", "error", err, "server_trade_id", open.ServerTradeID)
			}
		}
		return func(tx core.LedgerTx) error {
			closed, err := tx.CloseOldestOpen(ctx, core.TradeClose{
				Symbol:    cmd.Symbol,
				ExitQty:   qty,
				ExitPrice: result.Price,
				ClosedAt:  at,
			})
			if err != nil {
				return err
			}
			if closed == nil {
				logger.Warn("No open trade found to close in DB")
				return nil
			}
			telemetry.GetGlobalMetrics().RecordRealizedPnL(ctx, closed.Symbol, closed.PnL)
			logger.Info("Trade closed and updated", "trade_id", closed.ID, "pnl", closed.PnL)
			return nil
		}
	}

	logger.Warn("Unknown position side", "position_side", cmd.PositionSide)
	return nil
}

// forceExecuted records cmd after a fault skipped the normal ledger write
func (e *Engine) forceExecuted(ctx context.Context, cmd core.Command, out Outcome) {
	e.attempted[cmd.ID] = struct{}{}
	if e.ledger.IsExecuted(cmd.ID) {
		return
	}
	err := e.ledger.MarkExecuted(ctx, core.ExecutedCommand{
		CommandID:   cmd.ID,
		Symbol:      cmd.Symbol,
		Side:        cmd.Side,
		OrderType:   cmd.OrderType,
		MasterQty:   cmd.TradeQty,
		TerminalQty: 0,
		Status:      out.Status,
		ExecutedAt:  e.now(),
	})
	if err != nil {
		e.logger.Error("Failed to mark command executed", "command_id", cmd.ID, "error", err)
	}
}

func terminalQty(qty float64, result core.ExecutionResult) float64 {
	if result.Status != core.StatusSuccess {
		return 0
	}
	return qty
}

func buildReport(cmd core.Command, qty float64, result core.ExecutionResult, receivedAt, executedAt time.Time) core.Report {
	action := "close"
	if cmd.PositionSide == core.PositionOpen {
		action = "open"
	}

	var errMsg *string
	if result.Message != "" {
		msg := result.Message
		errMsg = &msg
	}

	return core.Report{
		OrderID:         cmd.ID,
		Symbol:          cmd.Symbol,
		Action:          action,
		Side:            cmd.Side,
		OrderType:       string(cmd.OrderType),
		PositionSide:    string(cmd.PositionSide),
		MasterQty:       cmd.TradeQty,
		MasterPrice:     cmd.TradePrice,
		TerminalQty:     terminalQty(qty, result),
		TerminalPrice:   result.Price,
		TerminalFee:     result.Fee,
		Status:          string(result.Status),
		ErrorMessage:    errMsg,
		ExchangeOrderID: result.ExchangeOrderID,
		ReceivedAtMs:    receivedAt.UnixMilli(),
		ExecutedAtMs:    executedAt.UnixMilli(),
	}
}
