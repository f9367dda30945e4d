package resilience

import (
	"errors"
	"testing"
	"time"
)

func newTestLimiter(cfg LimiterConfig, now *time.Time) *RateLimiter {
	return NewRateLimiter(cfg, WithLimiterClock(func() time.Time { return *now }))
}

func TestOrgBucketCapacityAndRefill(t *testing.T) {
	now := time.Now()
	// 2 req/min with burst multiplier 2 gives capacity 4.
	l := newTestLimiter(LimiterConfig{OrganizationPerMinute: 2, ServicePerMinute: 100, BurstMultiplier: 2}, &now)

	for i := 0; i < 4; i++ {
		if err := l.Check("ORG-A", "", 0); err != nil {
			t.Fatalf("call %d rejected: %v", i+1, err)
		}
	}
	err := l.Check("ORG-A", "", 0)
	if !errors.Is(err, ErrOrgRateLimited) {
		t.Fatalf("expected ErrOrgRateLimited, got %v", err)
	}
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.RetryAfter <= 0 {
		t.Fatalf("missing retry-after: %v", err)
	}

	// After 60s at 2/min one-plus tokens are available again.
	now = now.Add(60 * time.Second)
	if err := l.Check("ORG-A", "", 0); err != nil {
		t.Fatalf("bucket did not refill: %v", err)
	}
	if err := l.Check("ORG-A", "", 0); err != nil {
		t.Fatalf("second refilled token missing: %v", err)
	}
	if err := l.Check("ORG-A", "", 0); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("refill exceeded elapsed budget: %v", err)
	}
}

func TestServiceBucketRefundsOrgToken(t *testing.T) {
	now := time.Now()
	// Org capacity 4, service capacity 2.
	l := newTestLimiter(LimiterConfig{OrganizationPerMinute: 2, ServicePerMinute: 1, BurstMultiplier: 2}, &now)

	if err := l.Check("ORG-A", "svc", 0); err != nil {
		t.Fatal(err)
	}
	if err := l.Check("ORG-A", "svc", 0); err != nil {
		t.Fatal(err)
	}
	// Two more calls exhaust the service bucket; each must refund its org token.
	for i := 0; i < 2; i++ {
		if err := l.Check("ORG-A", "svc", 0); !errors.Is(err, ErrServiceRateLimit) {
			t.Fatalf("expected ErrServiceRateLimit, got %v", err)
		}
	}

	// Without refunds the org bucket would be empty now; with them two tokens remain.
	if err := l.Check("ORG-A", "", 0); err != nil {
		t.Fatalf("org token not refunded: %v", err)
	}
	if err := l.Check("ORG-A", "", 0); err != nil {
		t.Fatalf("second org token not refunded: %v", err)
	}
	if err := l.Check("ORG-A", "", 0); !errors.Is(err, ErrOrgRateLimited) {
		t.Fatalf("org bucket should now be empty, got %v", err)
	}
}

func TestServiceRPMOverride(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(LimiterConfig{OrganizationPerMinute: 1000, ServicePerMinute: 100, BurstMultiplier: 2}, &now)

	// Override limit 1 req/min -> capacity 2.
	if err := l.Check("ORG-A", "tight", 1); err != nil {
		t.Fatal(err)
	}
	if err := l.Check("ORG-A", "tight", 1); err != nil {
		t.Fatal(err)
	}
	if err := l.Check("ORG-A", "tight", 1); !errors.Is(err, ErrServiceRateLimit) {
		t.Fatalf("expected ErrServiceRateLimit, got %v", err)
	}
}

func TestBucketsIndependentPerOrganization(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(LimiterConfig{OrganizationPerMinute: 1, ServicePerMinute: 100, BurstMultiplier: 2}, &now)

	l.Check("ORG-A", "", 0)
	l.Check("ORG-A", "", 0)
	if err := l.Check("ORG-A", "", 0); !errors.Is(err, ErrOrgRateLimited) {
		t.Fatalf("expected ErrOrgRateLimited, got %v", err)
	}
	if err := l.Check("ORG-B", "", 0); err != nil {
		t.Fatalf("unrelated organization limited: %v", err)
	}
}

func TestRetryAfterHint(t *testing.T) {
	// A minute of refill at rpm/60 tokens per second is 3600/rpm seconds.
	if got := retryAfter(60); got != time.Minute {
		t.Fatalf("retryAfter(60) = %s, want 1m", got)
	}
	if got := retryAfter(120); got != 30*time.Second {
		t.Fatalf("retryAfter(120) = %s, want 30s", got)
	}
	if got := retryAfter(3600); got != time.Second {
		t.Fatalf("retryAfter(3600) = %s, want 1s", got)
	}
}
