package resilience

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Policy is an explicit timed-retry policy: a maximum number of attempts
// with a fixed or exponentially growing delay between them. Policies are
// values so call sites state their retry behavior up front instead of
// burying inline timers.
type Policy struct {
	MaxAttempts int           // Maximum number of attempts (including the first)
	Delay       time.Duration // Delay before each re-attempt
	Multiplier  float64       // Delay multiplier per attempt (1.0 = fixed delay)
	MaxDelay    time.Duration // Cap on the delay (0 = uncapped)
}

// FixedDelay returns a policy that retries with a constant delay
func FixedDelay(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delay:       delay,
		Multiplier:  1.0,
	}
}

// ExponentialBackoff returns a policy with exponentially growing delays
func ExponentialBackoff(maxAttempts int, initial, max time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delay:       initial,
		Multiplier:  2.0,
		MaxDelay:    max,
	}
}

// IsRetryableError decides whether an error is worth another attempt
type IsRetryableError func(error) bool

// Run executes fn under the policy using the given clock. It stops on the
// first success, on a non-retryable error, on context cancellation, or when
// attempts are exhausted (returning the last error).
func (p Policy) Run(ctx context.Context, clock Clock, fn func() error) error {
	return p.RunRetryable(ctx, clock, fn, nil)
}

// RunRetryable is Run with an explicit retryability check
func (p Policy) RunRetryable(ctx context.Context, clock Clock, fn func() error, isRetryable IsRetryableError) error {
	if clock == nil {
		clock = RealClock()
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt < attempts-1 {
			clock.Sleep(delay)
			if p.Multiplier > 1.0 {
				delay = time.Duration(float64(delay) * p.Multiplier)
				if p.MaxDelay > 0 && delay > p.MaxDelay {
					delay = p.MaxDelay
				}
			}
		}
	}

	return lastErr
}

// IsRetryableNetworkError checks if an error is a retryable network error
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	// Connection errors
	for _, substr := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"transport is closing",
		"unavailable",
		"network is unreachable",
		"no route to host",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}

	// Timeout errors
	for _, substr := range []string{
		"deadline exceeded",
		"timeout",
		"i/o timeout",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}

	// Resource exhaustion (may be temporary)
	for _, substr := range []string{
		"resource exhausted",
		"too many connections",
		"rate limit",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}

	return false
}

// RetryableError wraps an error to indicate it's retryable
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
