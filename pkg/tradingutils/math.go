// Package tradingutils holds exact decimal helpers for quantities, prices and PnL
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundQuantity rounds a quantity to the specified decimals
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.Round(int32(qtyDecimals))
}

// StepDecimals returns the number of fractional digits of a step (0.001 -> 3)
func StepDecimals(step float64) int {
	if step <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// FloorToStep rounds value down to a multiple of step, then to the step's
// precision so 300.00000000004 comes back as 300. A step <= 0 passes the
// value through.
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return FloorToStepDecimal(decimal.NewFromFloat(value), decimal.NewFromFloat(step)).InexactFloat64()
}

// FloorToStepDecimal is FloorToStep on decimals
func FloorToStepDecimal(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	steps := value.Div(step).Floor()
	return RoundQuantity(steps.Mul(step), StepDecimals(step.InexactFloat64()))
}

// ScaleQty multiplies qty by ratio exactly and floors the product to step.
// A ratio <= 0 leaves the raw qty unscaled.
func ScaleQty(qty, ratio, step float64) float64 {
	q := decimal.NewFromFloat(qty)
	if ratio > 0 {
		q = q.Mul(decimal.NewFromFloat(ratio))
	}
	if step <= 0 {
		return q.InexactFloat64()
	}
	return FloorToStepDecimal(q, decimal.NewFromFloat(step)).InexactFloat64()
}

// Ratio is tradingBalance / masterBalance, or 0 when the master balance is unknown
func Ratio(tradingBalance, masterBalance float64) float64 {
	if masterBalance <= 0 {
		return 0
	}
	return decimal.NewFromFloat(tradingBalance).Div(decimal.NewFromFloat(masterBalance)).InexactFloat64()
}

// FormatDecimal renders a float as its shortest exact decimal string for the wire
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// CalculatePnL returns the unrealized or realized PnL of a position
func CalculatePnL(isLong bool, entryPrice, currentPrice, size float64) float64 {
	diff := decimal.NewFromFloat(currentPrice).Sub(decimal.NewFromFloat(entryPrice))
	if !isLong {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(size)).InexactFloat64()
}

// CalculatePnLPercent returns the price move relative to entry in percent
func CalculatePnLPercent(isLong bool, entryPrice, currentPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	entry := decimal.NewFromFloat(entryPrice)
	diff := decimal.NewFromFloat(currentPrice).Sub(entry)
	if !isLong {
		diff = diff.Neg()
	}
	return diff.Div(entry).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
}
