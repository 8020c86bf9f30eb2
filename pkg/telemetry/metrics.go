package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricCommandsTotal       = "copytrader_commands_total"
	MetricSyncCyclesTotal     = "copytrader_sync_cycles_total"
	MetricRealizedPnLTotal    = "copytrader_realized_pnl_total"
	MetricGatewayRetriesTotal = "copytrader_gateway_retries_total"
	MetricGatewayFallbacks    = "copytrader_gateway_public_fallback_total"
	MetricLatencyExchange     = "copytrader_latency_exchange_ms"
	MetricOpenTrades          = "copytrader_open_trades"
	MetricPositionSize        = "copytrader_position_size"
	MetricConnectionUp        = "copytrader_connection_up"
)

// MetricsHolder holds initialized instruments. Every helper is a no-op
// until InitMetrics has run.
type MetricsHolder struct {
	CommandsTotal       metric.Int64Counter
	SyncCyclesTotal     metric.Int64Counter
	RealizedPnLTotal    metric.Float64Counter
	GatewayRetriesTotal metric.Int64Counter
	GatewayFallbacks    metric.Int64Counter
	LatencyExchange     metric.Float64Histogram
	OpenTrades          metric.Int64ObservableGauge
	PositionSize        metric.Float64ObservableGauge
	ConnectionUp        metric.Int64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	openTradesMap   map[string]int64
	positionSizeMap map[string]float64
	connectionMap   map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = newMetricsHolder()
	})
	return globalMetrics
}

func newMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		openTradesMap:   make(map[string]int64),
		positionSizeMap: make(map[string]float64),
		connectionMap:   make(map[string]int64),
	}
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.CommandsTotal, err = meter.Int64Counter(MetricCommandsTotal, metric.WithDescription("Commands processed by terminal outcome"))
	if err != nil {
		return err
	}

	m.SyncCyclesTotal, err = meter.Int64Counter(MetricSyncCyclesTotal, metric.WithDescription("Status polls against the control server"))
	if err != nil {
		return err
	}

	m.RealizedPnLTotal, err = meter.Float64Counter(MetricRealizedPnLTotal, metric.WithDescription("Cumulative realized PnL of closed trade records"))
	if err != nil {
		return err
	}

	m.GatewayRetriesTotal, err = meter.Int64Counter(MetricGatewayRetriesTotal, metric.WithDescription("Exchange calls retried after a timeout"))
	if err != nil {
		return err
	}

	m.GatewayFallbacks, err = meter.Int64Counter(MetricGatewayFallbacks, metric.WithDescription("Ticker reads served by the public endpoint"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.OpenTrades, err = meter.Int64ObservableGauge(MetricOpenTrades, metric.WithDescription("Open trade records per symbol"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.openTradesMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize, metric.WithDescription("Current exchange position size"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.ConnectionUp, err = meter.Int64ObservableGauge(MetricConnectionUp, metric.WithDescription("Connectivity flag per upstream (1=up, 0=down)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for target, val := range m.connectionMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("target", target)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// RecordCommand counts one command outcome
func (m *MetricsHolder) RecordCommand(ctx context.Context, status string) {
	if m.CommandsTotal == nil {
		return
	}
	m.CommandsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSyncCycle counts one status poll
func (m *MetricsHolder) RecordSyncCycle(ctx context.Context, changed bool) {
	if m.SyncCyclesTotal == nil {
		return
	}
	m.SyncCyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("changed", changed)))
}

// RecordRealizedPnL adds the PnL of a closed record
func (m *MetricsHolder) RecordRealizedPnL(ctx context.Context, symbol string, pnl float64) {
	if m.RealizedPnLTotal == nil {
		return
	}
	m.RealizedPnLTotal.Add(ctx, pnl, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// RecordRetry counts a timeout retry for an exchange operation
func (m *MetricsHolder) RecordRetry(ctx context.Context, op string) {
	if m.GatewayRetriesTotal == nil {
		return
	}
	m.GatewayRetriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordFallback counts a ticker read served by the public endpoint
func (m *MetricsHolder) RecordFallback(ctx context.Context) {
	if m.GatewayFallbacks == nil {
		return
	}
	m.GatewayFallbacks.Add(ctx, 1)
}

// RecordExchangeLatency records a call duration in milliseconds
func (m *MetricsHolder) RecordExchangeLatency(ctx context.Context, op string, ms float64) {
	if m.LatencyExchange == nil {
		return
	}
	m.LatencyExchange.Record(ctx, ms, metric.WithAttributes(attribute.String("op", op)))
}

// Helpers to update observable state

func (m *MetricsHolder) SetOpenTrades(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openTradesMap[symbol] = count
}

func (m *MetricsHolder) SetPositionSize(symbol string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[symbol] = size
}

func (m *MetricsHolder) SetConnectionUp(target string, up bool) {
	val := int64(0)
	if up {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionMap[target] = val
}

func (m *MetricsHolder) GetConnections() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.connectionMap))
	for k, v := range m.connectionMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetPositionSize() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.positionSizeMap))
	for k, v := range m.positionSizeMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetOpenTrades() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.openTradesMap))
	for k, v := range m.openTradesMap {
		res[k] = v
	}
	return res
}
