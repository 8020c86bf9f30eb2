// Package apperrors holds the sentinel errors shared across the terminal
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrTimeout               = errors.New("request timed out")
	ErrNetwork               = errors.New("network error")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrUnauthorized          = errors.New("token invalid or expired")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderRejected         = errors.New("order rejected")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrSystemOverload        = errors.New("exchange system overload")
	ErrSymbolNotFound        = errors.New("symbol not found")
	ErrNotConfigured         = errors.New("not configured")
	ErrOrderNotPlaced        = errors.New("order not placed")
	ErrQtyBelowMinimum       = errors.New("quantity below minimum")
	ErrServerRejected        = errors.New("control server rejected request")
)

// IsTimeout reports whether err looks like a timeout. Only these errors are
// worth retrying on the exchange path.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout")
}

// CommandError wraps a failure that happened while processing one command
type CommandError struct {
	CommandID int64
	Op        string
	Err       error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %d: %s: %v", e.CommandID, e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
