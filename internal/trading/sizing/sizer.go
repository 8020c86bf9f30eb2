// Package sizing scales master quantities onto the local account
package sizing

import (
	"fmt"

	"copytrader/internal/core"
	"copytrader/pkg/tradingutils"
)

// Ratio is tradingBalance / masterBalance. It is 0 when the master balance
// is not positive, which tells Scale to keep the raw quantity.
func Ratio(tradingBalance, masterBalance float64) float64 {
	return tradingutils.Ratio(tradingBalance, masterBalance)
}

// Scale computes floor(masterQty * ratio / step) * step at the step's
// precision. It never rounds up. step <= 0 passes the scaled value through.
func Scale(masterQty, ratio, step float64) float64 {
	return tradingutils.ScaleQty(masterQty, ratio, step)
}

// Decision is the sized quantity for one command
type Decision struct {
	Qty    float64
	Skip   bool
	Reason string
}

// Size scales cmd with rule's step and checks rule's minimum. A command for
// a symbol without a rule is sized with step 0 and minimum 0.
func Size(cmd core.Command, rule core.SymbolRule, ratio float64) Decision {
	qty := Scale(cmd.TradeQty, ratio, rule.StepSize)

	if qty < rule.MinOrderQty {
		return Decision{
			Qty:    qty,
			Skip:   true,
			Reason: fmt.Sprintf("Qty %s below min %s", tradingutils.FormatDecimal(qty), tradingutils.FormatDecimal(rule.MinOrderQty)),
		}
	}
	if qty <= 0 {
		return Decision{
			Qty:    qty,
			Skip:   true,
			Reason: fmt.Sprintf("Qty %s is not positive", tradingutils.FormatDecimal(qty)),
		}
	}
	return Decision{Qty: qty}
}
