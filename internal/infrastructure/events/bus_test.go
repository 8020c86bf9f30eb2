package events

import (
	"errors"
	"testing"
	"time"

	"copytrader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := NewBus(logging.NewNopLogger())

	var got []interface{}
	bus.Subscribe(OnPriceUpdated, func(data interface{}) error {
		got = append(got, data)
		return nil
	})
	bus.Subscribe(OnBalanceUpdated, func(data interface{}) error {
		t.Fatal("wrong event delivered")
		return nil
	})

	bus.Emit(OnPriceUpdated, map[string]float64{"BTCUSDT": 60000})
	require.Len(t, got, 1)
	assert.Equal(t, map[string]float64{"BTCUSDT": 60000}, got[0])

	// No subscribers is fine
	bus.Emit(OnHistoryUpdated, nil)
}

func TestBus_SwallowsSubscriberFailures(t *testing.T) {
	bus := NewBus(logging.NewNopLogger())

	calls := 0
	bus.Subscribe(OnAPIStatus, func(data interface{}) error { panic("boom") })
	bus.Subscribe(OnAPIStatus, func(data interface{}) error { return errors.New("boom") })
	bus.Subscribe(OnAPIStatus, func(data interface{}) error {
		calls++
		return nil
	})

	assert.NotPanics(t, func() { bus.Emit(OnAPIStatus, map[string]bool{"status": true}) })
	assert.Equal(t, 1, calls)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(logging.NewNopLogger())

	calls := 0
	unsubscribe := bus.Subscribe(OnOrdersUpdated, func(data interface{}) error {
		calls++
		return nil
	})
	assert.Equal(t, 1, bus.Subscribers(OnOrdersUpdated))

	bus.Emit(OnOrdersUpdated, nil)
	unsubscribe()
	unsubscribe()
	bus.Emit(OnOrdersUpdated, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Subscribers(OnOrdersUpdated))
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Emit(OnConnected, nil) })
}

func TestBus_LogMirrorFailureDoesNotRecurse(t *testing.T) {
	var bus *Bus
	logger, err := logging.NewZapLogger("DEBUG", logging.WithSink("WARN", func(level, message string, fields map[string]interface{}, at time.Time) {
		bus.Emit(OnUILog, message)
	}))
	require.NoError(t, err)
	bus = NewBus(logger)

	calls := 0
	bus.Subscribe(OnUILog, func(data interface{}) error {
		calls++
		return errors.New("ui gone")
	})

	logger.Warn("first")
	assert.Equal(t, 1, calls)
}
