package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "api_key: ${TEST_API_KEY}",
			envVars:  map[string]string{"TEST_API_KEY": "test_key_123"},
			expected: "api_key: test_key_123",
		},
		{
			name:     "expand multiple env vars",
			input:    "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars:  map[string]string{"API_KEY": "key_value", "SECRET_KEY": "secret_value"},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("TEST_BYBIT_API_KEY", "abcdefghijklmnop1234")
	t.Setenv("TEST_BYBIT_SECRET_KEY", "zyxwvutsrqponmlk9876")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  url: "https://master.example.com/"
  uid: "8b0c4f3e-2f7a-4d7e-9f57-1c2b3a4d5e6f"

exchange:
  api_key: "${TEST_BYBIT_API_KEY}"
  secret_key: "${TEST_BYBIT_SECRET_KEY}"
  testnet: true

gateway:
  retry_attempts: 2
  orders_timeout: 20s

timing:
  poll_status: 1s

system:
  log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://master.example.com/api", cfg.Server.URL)
	assert.Equal(t, Secret("abcdefghijklmnop1234"), cfg.Exchange.APIKey)
	assert.Equal(t, Secret("zyxwvutsrqponmlk9876"), cfg.Exchange.SecretKey)
	assert.Equal(t, TestnetBaseURL, cfg.Exchange.BaseURL)
	assert.Equal(t, TestnetWSURL, cfg.Exchange.WSURL)
	assert.Equal(t, MainnetBaseURL, cfg.Exchange.PublicURL)
	assert.Equal(t, 2, cfg.Gateway.RetryAttempts)
	assert.Equal(t, 20*time.Second, cfg.Gateway.OrdersTimeout)
	assert.Equal(t, 15*time.Second, DefaultConfig().Gateway.OrdersTimeout)
	assert.Equal(t, time.Second, cfg.Timing.PollStatus)
	assert.Equal(t, 3*time.Second, cfg.Timing.UpdatePrices)
	assert.Equal(t, "DEBUG", cfg.System.LogLevel)
}

func TestParseConfig_EmptyUsesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(""))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Gateway, cfg.Gateway)
	assert.Equal(t, def.Timing, cfg.Timing)
	assert.Equal(t, 1, cfg.Gateway.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Gateway.RetryBackoff)
	assert.Equal(t, 100*time.Millisecond, cfg.Timing.Tick)
	assert.Equal(t, "data/terminal.db", cfg.Storage.DBPath)
}

func TestParseConfig_ExplicitZeroRetries(t *testing.T) {
	cfg, err := ParseConfig([]byte("gateway:\n  retry_attempts: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Gateway.RetryAttempts)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "default config is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad uid",
			mutate:  func(c *Config) { c.Server.UID = "not-a-uuid" },
			wantErr: "UID",
		},
		{
			name:    "bad server scheme",
			mutate:  func(c *Config) { c.Server.URL = "ftp://master.example.com/api" },
			wantErr: "server.url",
		},
		{
			name:    "short api key",
			mutate:  func(c *Config) { c.Exchange.APIKey = "short"; c.Exchange.SecretKey = "abcdefghijklmnop1234" },
			wantErr: "APIKey",
		},
		{
			name:    "key without secret",
			mutate:  func(c *Config) { c.Exchange.APIKey = "abcdefghijklmnop1234" },
			wantErr: "must be set together",
		},
		{
			name:    "negative trading balance",
			mutate:  func(c *Config) { c.Trading.TradingBalance = -1 },
			wantErr: "TradingBalance",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.System.LogLevel = "TRACE" },
			wantErr: "LogLevel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeServerURL(t *testing.T) {
	assert.Equal(t, "https://m.example.com/api", NormalizeServerURL(" https://m.example.com "))
	assert.Equal(t, "https://m.example.com/api", NormalizeServerURL("https://m.example.com/api/"))
	assert.Equal(t, "http://10.0.0.1:8000/api", NormalizeServerURL("http://10.0.0.1:8000"))
	assert.Equal(t, "", NormalizeServerURL("   "))
}

func TestConfigStringMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "abcdefghijklmnop1234"
	cfg.Exchange.SecretKey = "zyxwvutsrqponmlk9876"

	out := cfg.String()
	assert.False(t, strings.Contains(out, "abcdefghijklmnop1234"))
	assert.False(t, strings.Contains(out, "zyxwvutsrqponmlk9876"))
	assert.Contains(t, out, "[REDACTED]")
}
