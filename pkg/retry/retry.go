// Package retry runs operations again when a predicate marks the failure transient
package retry

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines how to retry an operation.
// MaxAttempts counts the first call, so 2 means one retry.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Fixed disables exponential growth and jitter
	Fixed bool
	// AttemptTimeout bounds each attempt separately when set
	AttemptTimeout time.Duration
	// OnRetry is called before each sleep with the attempt that just failed
	OnRetry func(attempt int, err error)
}

// DefaultPolicy backs off exponentially from 100ms to 2s over three attempts
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// FixedPolicy retries `retries` times with the same pause between attempts
func FixedPolicy(retries int, backoff time.Duration) RetryPolicy {
	if retries < 0 {
		retries = 0
	}
	return RetryPolicy{
		MaxAttempts:    retries + 1,
		InitialBackoff: backoff,
		MaxBackoff:     backoff,
		Fixed:          true,
	}
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Do executes fn with retries according to the policy
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	_, err := DoValue(ctx, policy, isTransient, func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue is Do for calls that produce a value. fn receives the attempt
// context, bounded by AttemptTimeout when set. The value of the last
// attempt is returned with its error.
func DoValue[T any](ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.InitialBackoff

	var (
		out T
		err error
	)
	for attempt := 1; ; attempt++ {
		out, err = runAttempt(ctx, policy.AttemptTimeout, fn)
		if err == nil || !isTransient(err) || attempt == attempts {
			return out, err
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(pause(policy, backoff)):
		}
		if !policy.Fixed {
			backoff = min(backoff*2, policy.MaxBackoff)
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// pause adds up to 50% jitter to exponential backoff
func pause(policy RetryPolicy, backoff time.Duration) time.Duration {
	if policy.Fixed || backoff < 2 {
		return backoff
	}
	return backoff + time.Duration(rand.Int63n(int64(backoff/2)))
}
