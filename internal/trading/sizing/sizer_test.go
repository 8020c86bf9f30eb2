package sizing

import (
	"math"
	"math/rand"
	"testing"

	"copytrader/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestScale(t *testing.T) {
	tests := []struct {
		name  string
		qty   float64
		ratio float64
		step  float64
		want  float64
	}{
		{"ratio applied and floored", 1.0, 0.1, 0.001, 0.1},
		{"never rounds up", 0.0199, 1, 0.01, 0.01},
		{"float artifacts removed", 3000, 0.1, 0.1, 300},
		{"zero ratio keeps raw qty", 2.5, 0, 0.1, 2.5},
		{"negative ratio keeps raw qty", 2.5, -1, 1, 2},
		{"zero step passes through", 1.23456, 1, 0, 1.23456},
		{"below one step floors to zero", 0.0009, 1, 0.001, 0},
		{"integer step", 17.9, 1, 5, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Scale(tt.qty, tt.ratio, tt.step))
		})
	}
}

func TestScale_NeverExceedsQtyAndIsStepMultiple(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	steps := []float64{1, 0.1, 0.01, 0.001, 0.0001, 5, 0.5}

	for i := 0; i < 2000; i++ {
		qty := rng.Float64() * 1000
		step := steps[rng.Intn(len(steps))]

		got := Scale(qty, 1.0, step)
		assert.LessOrEqual(t, got, qty)

		nearest := math.Round(got/step) * step
		assert.InDelta(t, nearest, got, 1e-9, "qty=%v step=%v got=%v", qty, step, got)
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.1, Ratio(100, 1000))
	assert.Equal(t, 0.0, Ratio(100, 0))
	assert.Equal(t, 0.0, Ratio(100, -5))
}

func TestSize(t *testing.T) {
	cmd := core.Command{ID: 1, Symbol: "BTCUSDT", TradeQty: 1.0}

	d := Size(cmd, core.SymbolRule{StepSize: 0.001, MinOrderQty: 0.001}, 0.1)
	assert.False(t, d.Skip)
	assert.Equal(t, 0.1, d.Qty)

	d = Size(cmd, core.SymbolRule{StepSize: 0.001, MinOrderQty: 0.2}, 0.1)
	assert.True(t, d.Skip)
	assert.Equal(t, 0.1, d.Qty)
	assert.Equal(t, "Qty 0.1 below min 0.2", d.Reason)
}

func TestSize_ZeroQtySkips(t *testing.T) {
	d := Size(core.Command{TradeQty: 0.0004}, core.SymbolRule{StepSize: 0.001}, 1)
	assert.True(t, d.Skip)
	assert.Equal(t, 0.0, d.Qty)
}

func TestSize_UnknownSymbolUsesRawQty(t *testing.T) {
	d := Size(core.Command{TradeQty: 0.123456}, core.SymbolRule{}, 0)
	assert.False(t, d.Skip)
	assert.Equal(t, 0.123456, d.Qty)
}
