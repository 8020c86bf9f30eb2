package concurrency

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"copytrader/pkg/logging"
)

func benchPool(b *testing.B, workers int) *WorkerPool {
	b.Helper()
	pool := NewWorkerPool(PoolConfig{
		Name:        "bench",
		MaxWorkers:  workers,
		MaxCapacity: workers * 100,
	}, logging.NewNopLogger())
	b.Cleanup(pool.Stop)
	return pool
}

func tickerSymbols(n int) []string {
	symbols := make([]string, n)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%dUSDT", i)
	}
	return symbols
}

// One price read per tracked symbol, as update_prices does
func BenchmarkFanOut_TickerRound(b *testing.B) {
	for _, n := range []int{5, 25, 100} {
		b.Run(fmt.Sprintf("symbols=%d", n), func(b *testing.B) {
			pool := benchPool(b, 8)
			symbols := tickerSymbols(n)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = FanOut(pool, symbols, time.Second, 0.0, func(string) (float64, error) {
					return 100, nil
				})
			}
		})
	}
}

// Half the reads fail and degrade to the default
func BenchmarkFanOut_DegradedReads(b *testing.B) {
	pool := benchPool(b, 8)
	symbols := tickerSymbols(20)
	errDown := errors.New("down")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = FanOut(pool, symbols, time.Second, 0.0, func(s string) (float64, error) {
			if len(s)%2 == 0 {
				return 0, errDown
			}
			return 1, nil
		})
	}
}

func BenchmarkGo_SingleRead(b *testing.B) {
	pool := benchPool(b, 4)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Go(pool, func() (float64, error) { return 1, nil }).Wait(time.Second)
	}
}
