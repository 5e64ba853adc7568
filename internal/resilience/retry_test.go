package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock records sleeps without actually waiting
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func TestPolicy_Success(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	err := FixedDelay(3, 100*time.Millisecond).Run(context.Background(), clock, func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("Expected no sleeps on immediate success, got %d", len(clock.sleeps))
	}
}

func TestPolicy_FailureThenSuccess(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	err := FixedDelay(3, 450*time.Millisecond).Run(context.Background(), clock, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	// Fixed delay: every sleep is exactly the configured delay
	for i, d := range clock.sleeps {
		if d != 450*time.Millisecond {
			t.Errorf("Sleep %d: expected 450ms, got %v", i, d)
		}
	}
}

func TestPolicy_MaxAttempts(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	err := FixedDelay(2, 10*time.Millisecond).Run(context.Background(), clock, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if len(clock.sleeps) != 1 {
		t.Errorf("Expected 1 sleep (none after last attempt), got %d", len(clock.sleeps))
	}
}

func TestPolicy_ExponentialBackoff(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	err := ExponentialBackoff(4, 100*time.Millisecond, 300*time.Millisecond).
		Run(context.Background(), clock, func() error {
			attempts++
			return errors.New("persistent error")
		})

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	if len(clock.sleeps) != len(expected) {
		t.Fatalf("Expected %d sleeps, got %d", len(expected), len(clock.sleeps))
	}
	for i, want := range expected {
		if clock.sleeps[i] != want {
			t.Errorf("Sleep %d: expected %v, got %v", i, want, clock.sleeps[i])
		}
	}
}

func TestPolicy_NonRetryableError(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	isRetryable := func(err error) bool { return false }

	err := FixedDelay(3, 10*time.Millisecond).RunRetryable(context.Background(), clock, func() error {
		attempts++
		return errors.New("fatal error")
	}, isRetryable)

	if err == nil {
		t.Error("Expected error to be returned")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestPolicy_ContextCancelled(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := FixedDelay(3, 10*time.Millisecond).Run(ctx, clock, func() error {
		attempts++
		return errors.New("error")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("Expected 0 attempts with cancelled context, got %d", attempts)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("invalid argument"), false},
	}

	for _, tt := range tests {
		if got := IsRetryableNetworkError(tt.err); got != tt.retryable {
			t.Errorf("IsRetryableNetworkError(%v): expected %v, got %v", tt.err, tt.retryable, got)
		}
	}
}

func TestRetryableError_Wrap(t *testing.T) {
	base := errors.New("underlying")
	wrapped := NewRetryableError(base)

	if !IsRetryable(wrapped) {
		t.Error("Expected wrapped error to be retryable")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Expected wrapped error to unwrap to the base error")
	}
	if IsRetryable(base) {
		t.Error("Did not expect bare error to be retryable")
	}
	if NewRetryableError(nil) != nil {
		t.Error("Expected nil for nil input")
	}
}
