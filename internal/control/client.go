// Package control talks to the master control server: authentication,
// command polling, execution reports and trade registration
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
	apphttp "copytrader/pkg/http"
)

const (
	pathInit       = "/terminal/init"
	pathStatus     = "/data/status"
	pathOrders     = "/data/orders"
	pathLog        = "/data/log"
	pathTradeOpen  = "/data/trade/open"
	pathTradeClose = "/data/trade/close"

	defaultTimeout = 10 * time.Second
)

// NormalizeBaseURL trims the URL and makes sure it ends with /api
func NormalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if !strings.HasSuffix(u, "/api") {
		u += "/api"
	}
	return u
}

// envelope is the common part of every control server response
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statusResponse struct {
	envelope
	Hash string `json:"hash"`
}

type ordersResponse struct {
	envelope
	Commands []core.Command `json:"commands"`
}

type openTradeResponse struct {
	envelope
	TradeID flexInt `json:"trade_id"`
}

type initResponse struct {
	envelope
	Token string    `json:"token"`
	Info  Info      `json:"info"`
	Pairs pairsList `json:"pairs"`
}

// InitResult is what a successful terminal init returns
type InitResult struct {
	Token string
	Info  Info
	Pairs []core.SymbolRule
}

// Client is the control server HTTP client
type Client struct {
	http   *apphttp.Client
	logger core.ILogger

	mu    sync.RWMutex
	token string
}

var _ core.IControlServer = (*Client)(nil)

// NewClient creates a client for baseURL. The token may be empty until init.
func NewClient(baseURL, token string, timeout time.Duration, logger core.ILogger, opts ...apphttp.Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		logger: logger.WithField("component", "control_client"),
		token:  token,
	}
	c.http = apphttp.NewClient(NormalizeBaseURL(baseURL), timeout, apphttp.BearerSigner{Token: c.Token}, opts...)
	return c
}

// BaseURL returns the normalized server URL
func (c *Client) BaseURL() string {
	return c.http.BaseURL()
}

// Token returns the current bearer token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Init registers the terminal by uid and returns a fresh token
func (c *Client) Init(ctx context.Context, uid string) (*InitResult, error) {
	var resp initResponse
	if err := c.post(ctx, pathInit, map[string]string{"uid": uid}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, rejected(resp.envelope, "init")
	}
	return &InitResult{
		Token: resp.Token,
		Info:  resp.Info,
		Pairs: []core.SymbolRule(resp.Pairs),
	}, nil
}

// Status returns the current change hash
func (c *Client) Status(ctx context.Context) (string, error) {
	var resp statusResponse
	if err := c.get(ctx, pathStatus, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", rejected(resp.envelope, "status")
	}
	return resp.Hash, nil
}

// Orders returns the full pending command queue
func (c *Client) Orders(ctx context.Context) ([]core.Command, error) {
	var resp ordersResponse
	if err := c.get(ctx, pathOrders, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, rejected(resp.envelope, "orders")
	}
	return resp.Commands, nil
}

// SendReport delivers an execution report
func (c *Client) SendReport(ctx context.Context, report core.Report) error {
	var resp envelope
	if err := c.post(ctx, pathLog, report, &resp); err != nil {
		return err
	}
	// A 200 without success is only an error when the server says why
	if !resp.Success && resp.Message != "" {
		return rejected(resp, "log")
	}
	return nil
}

// OpenTrade registers an opened trade and returns the server's trade id
func (c *Client) OpenTrade(ctx context.Context, req core.OpenTradeRequest) (int64, error) {
	var resp openTradeResponse
	if err := c.post(ctx, pathTradeOpen, req, &resp); err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, rejected(resp.envelope, "open trade")
	}
	return int64(resp.TradeID), nil
}

// CloseTrade closes a registered trade
func (c *Client) CloseTrade(ctx context.Context, req core.CloseTradeRequest) error {
	var resp envelope
	if err := c.post(ctx, pathTradeClose, req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return rejected(resp, "close trade")
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	body, err := c.http.Get(ctx, path, nil)
	return c.decode(path, body, err, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := c.http.Post(ctx, path, payload)
	return c.decode(path, body, err, out)
}

func (c *Client) decode(path string, body []byte, err error, out interface{}) error {
	if err != nil {
		var apiErr *apphttp.APIError
		if errors.As(err, &apiErr) {
			msg := messageOf(apiErr.Body)
			if errors.Is(err, apperrors.ErrUnauthorized) {
				return fmt.Errorf("%s: %w", path, apperrors.ErrUnauthorized)
			}
			if msg != "" {
				return fmt.Errorf("%s: status %d: %s: %w", path, apiErr.StatusCode, msg, apperrors.ErrServerRejected)
			}
		}
		if apperrors.IsTimeout(err) {
			return fmt.Errorf("%s: %w: %v", path, apperrors.ErrTimeout, err)
		}
		return fmt.Errorf("%s: %w", path, err)
	}

	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Debug("Undecodable control server response", "path", path, "body", string(body))
		return fmt.Errorf("%s: failed to decode response: %w", path, err)
	}
	return nil
}

func messageOf(body []byte) string {
	var e envelope
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Message
}

func rejected(e envelope, op string) error {
	if e.Message == "" {
		return fmt.Errorf("%s: %w", op, apperrors.ErrServerRejected)
	}
	return fmt.Errorf("%s: %s: %w", op, e.Message, apperrors.ErrServerRejected)
}
