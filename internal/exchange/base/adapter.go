// Package base provides common functionality for exchange adapters
package base

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/telemetry"
	"copytrader/pkg/websocket"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// SignRequestFunc signs a request. payload is the raw body for POST and the
// encoded query string for GET.
type SignRequestFunc func(req *http.Request, payload string) error

// ParseErrorFunc is a function type for exchange-specific error parsing.
// It returns nil when the body carries no error.
type ParseErrorFunc func(body []byte) error

// BaseAdapter provides common functionality for all exchange adapters
type BaseAdapter struct {
	Name       string
	BaseURL    string
	Logger     core.ILogger
	HTTPClient *http.Client

	limiter *rate.Limiter
	tracer  trace.Tracer

	// Exchange-specific functions to be set by concrete implementations
	SignRequestFunc SignRequestFunc
	ParseError      ParseErrorFunc
}

// NewBaseAdapter creates a new base adapter with common configuration.
// A requestsPerSecond <= 0 disables client-side rate limiting.
func NewBaseAdapter(name, baseURL string, timeout time.Duration, requestsPerSecond float64, logger core.ILogger) *BaseAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}

	return &BaseAdapter{
		Name:    name,
		BaseURL: baseURL,
		Logger:  logger.WithField("exchange", name),
		HTTPClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   false,
			},
		},
		limiter: limiter,
		tracer:  telemetry.GetTracer("exchange-" + name),
	}
}

// GetName returns the exchange name
func (b *BaseAdapter) GetName() string {
	return b.Name
}

// SetSignRequest sets the exchange-specific request signing function
func (b *BaseAdapter) SetSignRequest(fn SignRequestFunc) {
	b.SignRequestFunc = fn
}

// SetParseError sets the exchange-specific error parsing function
func (b *BaseAdapter) SetParseError(fn ParseErrorFunc) {
	b.ParseError = fn
}

// ExecuteRequest sends one request. signed requests pass through
// SignRequestFunc. A client timeout comes back wrapping ErrTimeout so
// callers can tell it from other failures.
func (b *BaseAdapter) ExecuteRequest(ctx context.Context, method, path string, query url.Values, body []byte, signed bool) ([]byte, error) {
	ctx, span := b.tracer.Start(ctx, method+" "+path,
		trace.WithAttributes(attribute.String("exchange", b.Name)),
	)
	defer span.End()

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	rawQuery := ""
	if len(query) > 0 {
		rawQuery = query.Encode()
	}

	target := b.BaseURL + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed {
		if b.SignRequestFunc == nil {
			return nil, apperrors.ErrNotConfigured
		}
		payload := rawQuery
		if body != nil {
			payload = string(body)
		}
		if err := b.SignRequestFunc(req, payload); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		if apperrors.IsTimeout(err) {
			return nil, fmt.Errorf("%s %s: %w: %v", method, path, apperrors.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%s %s: %w: %v", method, path, apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if apperrors.IsTimeout(err) {
			return nil, fmt.Errorf("read %s: %w", path, apperrors.ErrTimeout)
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if b.ParseError != nil {
		if parseErr := b.ParseError(respBody); parseErr != nil {
			return nil, parseErr
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// StartWebSocketStream starts a WebSocket stream with common lifecycle management.
// The stream stops when ctx is done.
func (b *BaseAdapter) StartWebSocketStream(
	ctx context.Context,
	wsURL string,
	onMessage func([]byte),
	onConnected func(client *websocket.Client),
	pingMessage interface{},
	streamName string,
) *websocket.Client {
	var opts []websocket.Option
	if onConnected != nil {
		opts = append(opts, websocket.WithOnConnected(onConnected))
	}
	if pingMessage != nil {
		opts = append(opts, websocket.WithPingMessage(pingMessage))
	}
	client := websocket.NewClient(wsURL, onMessage, b.Logger, opts...)

	client.Start(ctx)

	go func() {
		<-ctx.Done()
		b.Logger.Info(streamName + " WebSocket stopping")
		client.Stop()
	}()

	b.Logger.Info(streamName+" WebSocket started", "url", wsURL)
	return client
}

// ParseFloat parses an exchange numeric string, returning 0 for empty or bad input
func (b *BaseAdapter) ParseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		b.Logger.Debug("failed to parse number", "value", s, "error", err)
		return 0
	}
	return f
}

// ParseTimestamp parses a millisecond timestamp string
func (b *BaseAdapter) ParseTimestamp(ms string) time.Time {
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
