package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)
	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state Closed, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)

	failing := func() error { return errors.New("failure") }
	for i := 0; i < 3; i++ {
		cb.Call(failing)
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state Open after 3 failures, got %v", cb.GetState())
	}

	// Calls while open fail fast
	err := cb.Call(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)

	cb.Call(func() error { return errors.New("failure") })
	cb.Call(func() error { return errors.New("failure") })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("failure") })
	cb.Call(func() error { return errors.New("failure") })

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed after intermittent success, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("failure") })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state Open, got %v", cb.GetState())
	}

	time.Sleep(15 * time.Millisecond)

	// First call after timeout is allowed (half-open probe)
	err := cb.Call(func() error { return nil })
	if err != nil {
		t.Errorf("Expected probe call to be allowed, got %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state HalfOpen after probe, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("failure") })
	time.Sleep(15 * time.Millisecond)

	cb.Call(func() error { return errors.New("still failing") })
	if cb.GetState() != StateOpen {
		t.Errorf("Expected state Open after half-open failure, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Hour)

	cb.Call(func() error { return errors.New("failure") })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state Open, got %v", cb.GetState())
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed after reset, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, time.Hour)

	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("failure") })

	_, requests, failures, rate := cb.GetStats()
	if requests != 2 {
		t.Errorf("Expected 2 requests, got %d", requests)
	}
	if failures != 1 {
		t.Errorf("Expected 1 failure, got %d", failures)
	}
	if rate != 50.0 {
		t.Errorf("Expected 50%% failure rate, got %f", rate)
	}
}
