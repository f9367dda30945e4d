package resilience

import (
	"errors"
	"testing"
	"time"
)

func newTestBreaker(now *time.Time) *Breaker {
	return NewBreaker(DefaultBreakerConfig(), WithBreakerClock(func() time.Time { return *now }))
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)

	for i := 0; i < 4; i++ {
		b.RecordFailure("svc")
		if err := b.CanExecute("svc"); err != nil {
			t.Fatalf("circuit opened early after %d failures: %v", i+1, err)
		}
	}
	b.RecordFailure("svc")

	err := b.CanExecute("svc")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.RetryAfter <= 0 {
		t.Fatalf("missing retry-after: %v", err)
	}
	if b.State("svc") != StateOpen {
		t.Fatalf("state = %s", b.State("svc"))
	}
}

func TestBreakerHalfOpenProbesAndClose(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)

	for i := 0; i < 5; i++ {
		b.RecordFailure("svc")
	}
	now = now.Add(31 * time.Second)

	// First caller after the reset timeout flips to half-open and counts as a probe.
	if err := b.CanExecute("svc"); err != nil {
		t.Fatal(err)
	}
	if b.State("svc") != StateHalfOpen {
		t.Fatalf("state = %s", b.State("svc"))
	}
	// Two more probes fit under halfOpenMaxCalls=3; the fourth is rejected.
	if err := b.CanExecute("svc"); err != nil {
		t.Fatal(err)
	}
	if err := b.CanExecute("svc"); err != nil {
		t.Fatal(err)
	}
	if err := b.CanExecute("svc"); !errors.Is(err, ErrHalfOpenLimit) {
		t.Fatalf("expected ErrHalfOpenLimit, got %v", err)
	}

	b.RecordSuccess("svc")
	if b.State("svc") != StateHalfOpen {
		t.Fatal("closed after a single success")
	}
	b.RecordSuccess("svc")
	if b.State("svc") != StateClosed {
		t.Fatalf("state after success threshold = %s", b.State("svc"))
	}
	if err := b.CanExecute("svc"); err != nil {
		t.Fatal(err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)

	for i := 0; i < 5; i++ {
		b.RecordFailure("svc")
	}
	now = now.Add(31 * time.Second)
	if err := b.CanExecute("svc"); err != nil {
		t.Fatal(err)
	}
	b.RecordFailure("svc")
	if b.State("svc") != StateOpen {
		t.Fatalf("state = %s", b.State("svc"))
	}
	if err := b.CanExecute("svc"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerKeysIndependent(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)

	for i := 0; i < 5; i++ {
		b.RecordFailure("down")
	}
	if err := b.CanExecute("down"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if err := b.CanExecute("up"); err != nil {
		t.Fatalf("unrelated service affected: %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)

	for i := 0; i < 4; i++ {
		b.RecordFailure("svc")
	}
	b.RecordSuccess("svc")
	for i := 0; i < 4; i++ {
		b.RecordFailure("svc")
	}
	if err := b.CanExecute("svc"); err != nil {
		t.Fatalf("failure count not reset by success: %v", err)
	}
}
