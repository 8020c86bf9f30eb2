// Package telemetry wires OpenTelemetry tracing, metrics and logs for the terminal
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	tracetype "go.opentelemetry.io/otel/trace"
)

// Telemetry owns the installed providers until Shutdown
type Telemetry struct {
	tp *trace.TracerProvider
	mp *sdkmetric.MeterProvider
	lp *sdklog.LoggerProvider
}

// Option customizes Setup
type Option func(*setupOptions)

type setupOptions struct {
	traceWriter io.Writer
	logWriter   io.Writer
	sampleRatio float64
	attributes  []attribute.KeyValue
}

// WithTraceWriter sends exported spans to w
func WithTraceWriter(w io.Writer) Option {
	return func(o *setupOptions) { o.traceWriter = w }
}

// WithLogWriter sends exported OTel log records to w
func WithLogWriter(w io.Writer) Option {
	return func(o *setupOptions) { o.logWriter = w }
}

// WithSampleRatio samples that fraction of root spans (sync cycles, CLI
// calls). Child spans follow their parent.
func WithSampleRatio(ratio float64) Option {
	return func(o *setupOptions) { o.sampleRatio = ratio }
}

// WithAttributes adds resource attributes such as the build version
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *setupOptions) { o.attributes = append(o.attributes, attrs...) }
}

// Setup installs global tracer, meter and logger providers and registers
// the terminal metrics. Spans and log records are discarded unless a writer
// is given; metrics always go to the Prometheus registry.
func Setup(serviceName string, opts ...Option) (*Telemetry, error) {
	o := setupOptions{traceWriter: io.Discard, logWriter: io.Discard, sampleRatio: 1}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(append([]attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)}, o.attributes...)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t := &Telemetry{}
	if t.tp, err = newTracerProvider(res, o); err != nil {
		return nil, err
	}
	if t.mp, err = newMeterProvider(res); err != nil {
		return nil, err
	}
	if t.lp, err = newLoggerProvider(res, o); err != nil {
		return nil, err
	}

	otel.SetTracerProvider(t.tp)
	otel.SetMeterProvider(t.mp)
	global.SetLoggerProvider(t.lp)

	if err := GetGlobalMetrics().InitMetrics(t.mp.Meter(serviceName)); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return t, nil
}

func newTracerProvider(res *resource.Resource, o setupOptions) (*trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.traceWriter))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(o.sampleRatio))),
	), nil
}

func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	), nil
}

func newLoggerProvider(res *resource.Resource, o setupOptions) (*sdklog.LoggerProvider, error) {
	exporter, err := stdoutlog.New(stdoutlog.WithWriter(o.logWriter))
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	), nil
}

// Shutdown flushes pending spans and log records and stops the providers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trace provider: %w", err))
	}
	if err := t.mp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter provider: %w", err))
	}
	if err := t.lp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("log provider: %w", err))
	}
	return errors.Join(errs...)
}

// GetMeter returns a meter for the given name
func GetMeter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// GetTracer returns a tracer for the given name
func GetTracer(name string) tracetype.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
