// Package bybit provides the Bybit V5 REST and stream client used by the gateway
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/exchange/base"
	apperrors "copytrader/pkg/errors"
)

const (
	defaultRecvWindow = 5000
	defaultCategory   = "linear"
	defaultSettleCoin = "USDT"
)

// Credentials is the exchange key pair
type Credentials struct {
	APIKey    config.Secret
	APISecret config.Secret
}

// Empty reports whether no key is set
func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}

// Client is an authenticated Bybit V5 client. Every method returns the raw
// error; degradation to defaults happens in the gateway.
type Client struct {
	*base.BaseAdapter
	creds      Credentials
	recvWindow string
	category   string
	settleCoin string
}

// NewClient creates a client for the configured account
func NewClient(cfg config.ExchangeConfig, creds Credentials, timeout time.Duration, logger core.ILogger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.MainnetBaseURL
	}

	b := base.NewBaseAdapter("bybit", baseURL, timeout, cfg.RequestsPerSecond, logger)
	c := &Client{
		BaseAdapter: b,
		creds:       creds,
		recvWindow:  strconv.Itoa(orDefault(cfg.RecvWindow, defaultRecvWindow)),
		category:    orDefaultString(cfg.Category, defaultCategory),
		settleCoin:  orDefaultString(cfg.SettleCoin, defaultSettleCoin),
	}

	b.SetSignRequest(c.SignRequest)
	b.SetParseError(parseError)

	return c
}

// Credentials returns the key pair the client signs with
func (c *Client) Credentials() Credentials {
	return c.creds
}

// SignRequest adds authentication headers to the request
func (c *Client) SignRequest(req *http.Request, payload string) error {
	if c.creds.Empty() {
		return apperrors.ErrNotConfigured
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req.Header.Set("X-BAPI-API-KEY", c.creds.APIKey.Reveal())
	req.Header.Set("X-BAPI-SIGN", Sign(c.creds.APISecret.Reveal(), timestamp, c.creds.APIKey.Reveal(), c.recvWindow, payload))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")

	return nil
}

// Sign computes HMAC_SHA256(timestamp + key + recv_window + payload, secret)
func Sign(secret, timestamp, apiKey, recvWindow, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type envelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

// APIError is a non-zero retCode
type APIError struct {
	Code    int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit error: %s (%d)", e.Message, e.Code)
}

// Unwrap maps the code onto the shared sentinels
func (e *APIError) Unwrap() error {
	return e.kind
}

func parseError(body []byte) error {
	var errResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return fmt.Errorf("bybit error (unmarshal failed): %s", truncate(body, 200))
	}

	// https://bybit-exchange.github.io/docs/v5/error
	var kind error
	switch errResp.RetCode {
	case 0:
		return nil
	case 10001, 10002, 130006: // params error, invalid request, order value too small
		kind = apperrors.ErrInvalidOrderParameter
	case 10003, 10004, 10005, 10010, 33004: // key invalid, bad sign, permission, ip, key expired
		kind = apperrors.ErrAuthenticationFailed
	case 10006, 10018, 10429: // too many visits
		kind = apperrors.ErrRateLimitExceeded
	case 10016: // server error
		kind = apperrors.ErrSystemOverload
	case 110007, 110004, 110012: // insufficient balance
		kind = apperrors.ErrInsufficientFunds
	case 110001: // order not found
		kind = apperrors.ErrOrderNotFound
	case 110072: // orderLinkId duplicate
		kind = apperrors.ErrDuplicateOrder
	case 10029, 110008: // symbol not allowed
		kind = apperrors.ErrSymbolNotFound
	case 170193, 170194, 110003, 110094:
		kind = apperrors.ErrOrderRejected
	}

	return &APIError{Code: errResp.RetCode, Message: errResp.RetMsg, kind: kind}
}

func get[T any](ctx context.Context, c *base.BaseAdapter, path string, query url.Values, signed bool) (T, error) {
	var env envelope[T]
	body, err := c.ExecuteRequest(ctx, http.MethodGet, path, query, nil, signed)
	if err != nil {
		return env.Result, err
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env.Result, fmt.Errorf("decode %s: %w", path, err)
	}
	return env.Result, nil
}

func post[T any](ctx context.Context, c *base.BaseAdapter, path string, payload interface{}) (T, error) {
	var env envelope[T]
	raw, err := json.Marshal(payload)
	if err != nil {
		return env.Result, fmt.Errorf("encode %s: %w", path, err)
	}
	body, err := c.ExecuteRequest(ctx, http.MethodPost, path, nil, raw, true)
	if err != nil {
		return env.Result, err
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env.Result, fmt.Errorf("decode %s: %w", path, err)
	}
	return env.Result, nil
}

// TestConnection asks for the key's own info, which needs a valid signature
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := get[json.RawMessage](ctx, c.BaseAdapter, "/v5/user/query-api", nil, true)
	return err
}

// scopedQuery filters by symbol, or by settle coin when no symbol is given
func (c *Client) scopedQuery(symbol string) url.Values {
	q := url.Values{}
	q.Set("category", c.category)
	if symbol != "" {
		q.Set("symbol", symbol)
	} else {
		q.Set("settleCoin", c.settleCoin)
	}
	return q
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
