package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid input", "normal_command --flag value", false},
		{"malicious command injection", "ls; rm -rf /", true},
		{"path traversal attempt", "../../../etc/passwd", true},
		{"sql injection attempt", "'; DROP TABLE users; --", true},
		{"empty input", "", false},
		{"input with spaces", "command with spaces", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(tt.input)
			if tt.wantErr {
				assert.EqualError(t, err, "potentially malicious input detected")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateServerURL(t *testing.T) {
	assert.NoError(t, ValidateServerURL("https://master.example.com"))
	assert.NoError(t, ValidateServerURL("http://10.0.0.5:8000/api"))
	assert.Error(t, ValidateServerURL("master.example.com"))
	assert.Error(t, ValidateServerURL("https://bad host"))
	assert.Error(t, ValidateServerURL("ftp://master.example.com"))
}

func TestValidateUID(t *testing.T) {
	assert.NoError(t, ValidateUID("8b0c4f3e-2f7a-4d7e-9f57-1c2b3a4d5e6f"))
	assert.NoError(t, ValidateUID(" 8B0C4F3E-2F7A-4D7E-9F57-1C2B3A4D5E6F "))
	assert.Error(t, ValidateUID("user-42"))
	assert.Error(t, ValidateUID(""))
}

func TestValidateAPIKey(t *testing.T) {
	assert.NoError(t, ValidateAPIKey("abcdefghijklmnop"))
	assert.Error(t, ValidateAPIKey("short"))
	assert.Error(t, ValidateAPIKey("abcdefgh ijklmnopq"))
}

func TestValidateTradingBalance(t *testing.T) {
	assert.NoError(t, ValidateTradingBalance(100, 1000))
	assert.NoError(t, ValidateTradingBalance(1000, 1000))
	assert.Error(t, ValidateTradingBalance(1000.01, 1000))
	assert.Error(t, ValidateTradingBalance(-1, 1000))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "$1,234.50", FormatPrice(1234.5))
	assert.Equal(t, "$999.00", FormatPrice(999))
	assert.Equal(t, "$1,000,000.00", FormatPrice(1e6))
	assert.Equal(t, "-$12.30", FormatPrice(-12.3))
	assert.Equal(t, "0.1000", FormatQty(0.1))
	assert.Equal(t, "+$12.00 (1.50%)", FormatPnL(12, 1.5))
	assert.Equal(t, "-$3.25 (-0.40%)", FormatPnL(-3.25, -0.4))
}
