// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// Exchange endpoints
	MainnetBaseURL = "https://api.bybit.com"
	TestnetBaseURL = "https://api-testnet.bybit.com"
	PublicWSURL    = "wss://stream.bybit.com/v5/public/linear"
	TestnetWSURL   = "wss://stream-testnet.bybit.com/v5/public/linear"
)

// Config represents the complete configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Trading   TradingConfig   `yaml:"trading"`
	Timing    TimingConfig    `yaml:"timing"`
	Storage   StorageConfig   `yaml:"storage"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Alerts    AlertConfig     `yaml:"alerts"`
}

// ServerConfig points at the master control server
type ServerConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	UID     string        `yaml:"uid" validate:"omitempty,uuid"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// ExchangeConfig contains the local exchange account settings.
// Keys are optional here: the settings table takes precedence.
type ExchangeConfig struct {
	APIKey            Secret  `yaml:"api_key" validate:"omitempty,min=16"`
	SecretKey         Secret  `yaml:"secret_key" validate:"omitempty,min=16"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	PublicURL         string  `yaml:"public_url" validate:"omitempty,url"`
	WSURL             string  `yaml:"ws_url" validate:"omitempty,url"`
	Testnet           bool    `yaml:"testnet"`
	RecvWindow        int     `yaml:"recv_window" validate:"min=0,max=60000"`
	SettleCoin        string  `yaml:"settle_coin"`
	Category          string  `yaml:"category" validate:"omitempty,oneof=linear inverse spot option"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
	PriceStream       bool    `yaml:"price_stream"`
}

// GatewayConfig tunes retries and fan-out of exchange calls
type GatewayConfig struct {
	RetryAttempts  int           `yaml:"retry_attempts" validate:"min=0,max=10"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" validate:"min=0"`
	CallTimeout    time.Duration `yaml:"call_timeout" validate:"min=0"`
	OrdersTimeout  time.Duration `yaml:"orders_timeout" validate:"min=0"`
	BatchThreshold int           `yaml:"batch_threshold" validate:"min=0,max=1000"`
	PoolSize       int           `yaml:"pool_size" validate:"min=0,max=100"`
	PublicTimeout  time.Duration `yaml:"public_timeout" validate:"min=0"`
}

// TradingConfig contains copy-trading parameters
type TradingConfig struct {
	TradingBalance float64 `yaml:"trading_balance" validate:"min=0"`
	HistoryLimit   int     `yaml:"history_limit" validate:"min=0,max=200"`
}

// TimingConfig contains scheduler intervals
type TimingConfig struct {
	PollStatus        time.Duration `yaml:"poll_status" validate:"min=0"`
	UpdatePrices      time.Duration `yaml:"update_prices" validate:"min=0"`
	UpdateBalance     time.Duration `yaml:"update_balance" validate:"min=0"`
	UpdateOrders      time.Duration `yaml:"update_orders" validate:"min=0"`
	UpdateHistory     time.Duration `yaml:"update_history" validate:"min=0"`
	RefreshToken      time.Duration `yaml:"refresh_token" validate:"min=0"`
	ReloadCredentials time.Duration `yaml:"reload_credentials" validate:"min=0"`
	Tick              time.Duration `yaml:"tick" validate:"min=0"`
}

// StorageConfig locates the local database
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR FATAL debug info warn error fatal"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port" validate:"min=0,max=65535"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// AlertConfig lists the notification channels for connectivity alerts.
// A channel with an empty token is disabled.
type AlertConfig struct {
	SlackWebhook   Secret `yaml:"slack_webhook" validate:"omitempty,url"`
	TelegramToken  Secret `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes YAML, fills defaults and validates
func ParseConfig(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	// Keys absent from the file keep their defaults
	config := *DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills every zero value with its default
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Server.URL != "" {
		c.Server.URL = NormalizeServerURL(c.Server.URL)
	}
	setDuration(&c.Server.Timeout, d.Server.Timeout)

	setString(&c.Exchange.BaseURL, d.Exchange.BaseURL)
	setString(&c.Exchange.PublicURL, d.Exchange.PublicURL)
	setString(&c.Exchange.WSURL, d.Exchange.WSURL)
	if c.Exchange.Testnet {
		if c.Exchange.BaseURL == MainnetBaseURL {
			c.Exchange.BaseURL = TestnetBaseURL
		}
		if c.Exchange.WSURL == PublicWSURL {
			c.Exchange.WSURL = TestnetWSURL
		}
	}
	setInt(&c.Exchange.RecvWindow, d.Exchange.RecvWindow)
	setString(&c.Exchange.SettleCoin, d.Exchange.SettleCoin)
	setString(&c.Exchange.Category, d.Exchange.Category)
	if c.Exchange.RequestsPerSecond == 0 {
		c.Exchange.RequestsPerSecond = d.Exchange.RequestsPerSecond
	}

	setDuration(&c.Gateway.RetryBackoff, d.Gateway.RetryBackoff)
	setDuration(&c.Gateway.CallTimeout, d.Gateway.CallTimeout)
	setDuration(&c.Gateway.OrdersTimeout, d.Gateway.OrdersTimeout)
	setInt(&c.Gateway.BatchThreshold, d.Gateway.BatchThreshold)
	setInt(&c.Gateway.PoolSize, d.Gateway.PoolSize)
	setDuration(&c.Gateway.PublicTimeout, d.Gateway.PublicTimeout)

	setInt(&c.Trading.HistoryLimit, d.Trading.HistoryLimit)

	setDuration(&c.Timing.PollStatus, d.Timing.PollStatus)
	setDuration(&c.Timing.UpdatePrices, d.Timing.UpdatePrices)
	setDuration(&c.Timing.UpdateBalance, d.Timing.UpdateBalance)
	setDuration(&c.Timing.UpdateOrders, d.Timing.UpdateOrders)
	setDuration(&c.Timing.UpdateHistory, d.Timing.UpdateHistory)
	setDuration(&c.Timing.RefreshToken, d.Timing.RefreshToken)
	setDuration(&c.Timing.ReloadCredentials, d.Timing.ReloadCredentials)
	setDuration(&c.Timing.Tick, d.Timing.Tick)

	setString(&c.Storage.DBPath, d.Storage.DBPath)

	if c.System.LogLevel == "" {
		c.System.LogLevel = d.System.LogLevel
	}
	c.System.LogLevel = strings.ToUpper(c.System.LogLevel)

	setInt(&c.Telemetry.MetricsPort, d.Telemetry.MetricsPort)
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					Field:   fe.Namespace(),
					Value:   fe.Value(),
					Message: fmt.Sprintf("failed '%s' check", fe.Tag()),
				}.Error())
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.validateServerConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if err := c.validateExchangeConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.URL == "" {
		return nil
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ValidationError{
			Field:   "server.url",
			Value:   c.Server.URL,
			Message: "must start with http:// or https://",
		}
	}
	return nil
}

func (c *Config) validateExchangeConfig() error {
	if (c.Exchange.APIKey == "") != (c.Exchange.SecretKey == "") {
		return ValidationError{
			Field:   "exchange.api_key",
			Message: "api_key and secret_key must be set together",
		}
	}
	return nil
}

// NormalizeServerURL trims the URL and appends /api when missing
func NormalizeServerURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if u == "" {
		return ""
	}
	if !strings.HasSuffix(u, "/api") {
		u += "/api"
	}
	return u
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchange.APIKey = Secret(maskString(string(c.Exchange.APIKey)))
	configCopy.Exchange.SecretKey = Secret(maskString(string(c.Exchange.SecretKey)))

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout: 10 * time.Second,
		},
		Exchange: ExchangeConfig{
			BaseURL:           MainnetBaseURL,
			PublicURL:         MainnetBaseURL,
			WSURL:             PublicWSURL,
			RecvWindow:        5000,
			SettleCoin:        "USDT",
			Category:          "linear",
			RequestsPerSecond: 10,
		},
		Gateway: GatewayConfig{
			RetryAttempts:  1,
			RetryBackoff:   500 * time.Millisecond,
			CallTimeout:    10 * time.Second,
			OrdersTimeout:  15 * time.Second,
			BatchThreshold: 5,
			PoolSize:       10,
			PublicTimeout:  5 * time.Second,
		},
		Trading: TradingConfig{
			HistoryLimit: 50,
		},
		Timing: TimingConfig{
			PollStatus:        2 * time.Second,
			UpdatePrices:      3 * time.Second,
			UpdateBalance:     5 * time.Second,
			UpdateOrders:      5 * time.Second,
			UpdateHistory:     60 * time.Second,
			RefreshToken:      30 * time.Minute,
			ReloadCredentials: 10 * time.Second,
			Tick:              100 * time.Millisecond,
		},
		Storage: StorageConfig{
			DBPath: "data/terminal.db",
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
	}
}
