package model

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("CircuitState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour}, nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected boom, got %v", i, err)
		}
	}
	if cb.State() != "open" {
		t.Fatalf("state = %s, want open", cb.State())
	}

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if called {
		t.Fatal("open breaker must not run the function")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 5 * time.Millisecond}, nil)
	_ = cb.Call(func() error { return errors.New("fail") })
	if cb.State() != "open" {
		t.Fatalf("state = %s, want open", cb.State())
	}

	time.Sleep(10 * time.Millisecond)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if cb.State() != "closed" {
		t.Fatalf("state = %s, want closed after successful probe", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 5 * time.Millisecond}, nil)
	_ = cb.Call(func() error { return errors.New("fail") })
	time.Sleep(10 * time.Millisecond)

	_ = cb.Call(func() error { return errors.New("still failing") })
	if cb.State() != "open" {
		t.Fatalf("state = %s, want open", cb.State())
	}
}

func TestCircuitBreaker_IgnoredErrorsDoNotCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, nil)
	denied := errors.New("denied")
	ignore := func(err error) bool { return errors.Is(err, denied) }

	for i := 0; i < 5; i++ {
		if err := cb.Call(func() error { return denied }, ignore); !errors.Is(err, denied) {
			t.Fatalf("expected denied, got %v", err)
		}
	}
	if cb.State() != "closed" || cb.FailureCount() != 0 {
		t.Fatalf("ignored errors tripped breaker: state=%s failures=%d", cb.State(), cb.FailureCount())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, nil)
	_ = cb.Call(func() error { return errors.New("fail") })
	cb.Reset()
	if cb.State() != "closed" || cb.FailureCount() != 0 {
		t.Fatalf("reset did not close breaker: %s/%d", cb.State(), cb.FailureCount())
	}
}
