// Package cli holds input checks and display helpers for the terminal commands
package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	sqlPattern = regexp.MustCompile(`['"]\s*;\s*|\b(DROP|DELETE|UPDATE|INSERT)\b`)
	urlPattern = regexp.MustCompile(`^https?://\S+$`)

	errMalicious = errors.New("potentially malicious input detected")
)

// MinAPIKeyLength is the shortest exchange key or secret accepted
const MinAPIKeyLength = 16

// ValidateInput checks for potentially malicious input patterns
func ValidateInput(input string) error {
	if strings.Contains(input, ";") || strings.Contains(input, "&&") || strings.Contains(input, "||") {
		return errMalicious
	}

	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return errMalicious
	}

	if sqlPattern.MatchString(strings.ToUpper(input)) {
		return errMalicious
	}

	return nil
}

// ValidateServerURL accepts http(s) URLs without whitespace
func ValidateServerURL(raw string) error {
	if !urlPattern.MatchString(strings.TrimSpace(raw)) {
		return fmt.Errorf("invalid server url %q: must start with http:// or https://", raw)
	}
	return ValidateInput(raw)
}

// ValidateUID accepts any UUID form
func ValidateUID(uid string) error {
	if _, err := uuid.Parse(strings.TrimSpace(uid)); err != nil {
		return fmt.Errorf("invalid uid: %w", err)
	}
	return nil
}

// ValidateAPIKey checks an exchange key or secret
func ValidateAPIKey(key string) error {
	if len(key) < MinAPIKeyLength {
		return fmt.Errorf("api key must be at least %d characters", MinAPIKeyLength)
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return errors.New("api key must not contain whitespace")
	}
	return nil
}

// ValidateTradingBalance rejects allocations above the wallet balance
func ValidateTradingBalance(amount, walletBalance float64) error {
	if amount < 0 {
		return fmt.Errorf("trading balance must not be negative: %v", amount)
	}
	if amount > walletBalance {
		return fmt.Errorf("trading balance %.2f exceeds wallet balance %.2f", amount, walletBalance)
	}
	return nil
}
