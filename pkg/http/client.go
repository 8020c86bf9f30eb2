// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Unwrap lets callers match auth failures with errors.Is
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.ErrUnauthorized
	case http.StatusTooManyRequests:
		return apperrors.ErrRateLimitExceeded
	}
	return nil
}

// Signer is an interface for signing requests
type Signer interface {
	SignRequest(req *http.Request) error
}

// BearerSigner sets an Authorization header from a token source.
// An empty token leaves the request unsigned.
type BearerSigner struct {
	Token func() string
}

// SignRequest implements Signer
func (s BearerSigner) SignRequest(req *http.Request) error {
	if s.Token == nil {
		return nil
	}
	if tok := s.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// Option customizes a Client
type Option func(*clientOptions)

type clientOptions struct {
	maxRetries     int
	backoffMin     time.Duration
	backoffMax     time.Duration
	breakerFails   uint
	breakerWindow  uint
	breakerDelay   time.Duration
	transport      http.RoundTripper
	requestHeaders map[string]string
}

// WithRetries sets how many times a network error or 5xx is retried
func WithRetries(n int) Option {
	return func(o *clientOptions) { o.maxRetries = n }
}

// WithBackoff sets the retry backoff window
func WithBackoff(min, max time.Duration) Option {
	return func(o *clientOptions) {
		o.backoffMin = min
		o.backoffMax = max
	}
}

// WithCircuitBreaker opens the circuit after fails failures out of window
func WithCircuitBreaker(fails, window uint, delay time.Duration) Option {
	return func(o *clientOptions) {
		o.breakerFails = fails
		o.breakerWindow = window
		o.breakerDelay = delay
	}
}

// WithTransport replaces the default transport
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.transport = rt }
}

// WithHeader adds a header to every request
func WithHeader(key, value string) Option {
	return func(o *clientOptions) { o.requestHeaders[key] = value }
}

// Client is a wrapper around http.Client with resilience
type Client struct {
	client   *http.Client
	baseURL  string
	signer   Signer
	headers  map[string]string
	pipeline failsafe.Executor[*http.Response]

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(baseURL string, timeout time.Duration, signer Signer, opts ...Option) *Client {
	o := clientOptions{
		maxRetries:     3,
		backoffMin:     100 * time.Millisecond,
		backoffMax:     2 * time.Second,
		breakerFails:   5,
		breakerWindow:  10,
		breakerDelay:   10 * time.Second,
		requestHeaders: map[string]string{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Retry network errors, 5xx and 429. Other 4xx are final.
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(o.backoffMin, o.backoffMax).
		WithMaxRetries(o.maxRetries).
		ReturnLastFailure().
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(o.breakerFails, o.breakerWindow).
		WithDelay(o.breakerDelay).
		Build()

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	hc := &http.Client{Timeout: timeout}
	if o.transport != nil {
		hc.Transport = o.transport
	}

	return &Client{
		client:      hc,
		baseURL:     baseURL,
		signer:      signer,
		headers:     o.requestHeaders,
		pipeline:    failsafe.With[*http.Response](retryPolicy, breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// BaseURL returns the URL prefix of every request
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Post sends a POST request with a JSON body
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

// Put sends a PUT request
func (c *Client) Put(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, params, nil)
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, path, params, nil)
}

// newRequest builds a fresh request per attempt so a body is never read twice
func (c *Client) newRequest(ctx context.Context, method, path string, params map[string]string, payload []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Add(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, payload []byte) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", c.baseURL+path),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	)

	// Execute request with resilience pipeline
	resp, err := c.pipeline.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		req, err := c.newRequest(ctx, method, path, params, payload)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		// Buffer the body so a retried response can be dropped safely
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	})

	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.String("error", "pipeline_failed"),
		))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}
