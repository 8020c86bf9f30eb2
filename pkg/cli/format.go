package cli

import (
	"fmt"
	"math"
	"strings"
)

// FormatPrice renders 1234.5 as $1,234.50
func FormatPrice(price float64) string {
	sign := ""
	if price < 0 {
		sign = "-"
		price = -price
	}
	return sign + "$" + groupThousands(fmt.Sprintf("%.2f", price))
}

// FormatQty renders a quantity with four decimals
func FormatQty(qty float64) string {
	return fmt.Sprintf("%.4f", qty)
}

// FormatPnL renders a signed amount with its percent, e.g. +$12.00 (1.50%)
func FormatPnL(pnl, percent float64) string {
	sign := "+"
	if pnl < 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%s (%.2f%%)", sign, FormatPrice(math.Abs(pnl)), percent)
}

func groupThousands(s string) string {
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
