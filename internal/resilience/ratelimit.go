package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trustgate.org/internal/obs"
)

// LimiterConfig tunes the token buckets.
type LimiterConfig struct {
	OrganizationPerMinute int
	ServicePerMinute      int
	BurstMultiplier       float64
}

// DefaultLimiterConfig returns the standard limits.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		OrganizationPerMinute: 1000,
		ServicePerMinute:      100,
		BurstMultiplier:       2,
	}
}

type bucketShard struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// RateLimiter maintains independent token buckets per organization and per
// service. Bucket capacity is requestsPerMinute times the burst multiplier and
// refill happens lazily at requestsPerMinute/60 tokens per second.
type RateLimiter struct {
	cfg LimiterConfig
	now func() time.Time

	orgs     bucketShard
	services bucketShard
}

// LimiterOption configures a RateLimiter.
type LimiterOption func(*RateLimiter)

// WithLimiterClock overrides the time source (useful for tests).
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *RateLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewRateLimiter constructs a RateLimiter; non-positive config fields fall
// back to defaults.
func NewRateLimiter(cfg LimiterConfig, opts ...LimiterOption) *RateLimiter {
	def := DefaultLimiterConfig()
	if cfg.OrganizationPerMinute <= 0 {
		cfg.OrganizationPerMinute = def.OrganizationPerMinute
	}
	if cfg.ServicePerMinute <= 0 {
		cfg.ServicePerMinute = def.ServicePerMinute
	}
	if cfg.BurstMultiplier <= 0 {
		cfg.BurstMultiplier = def.BurstMultiplier
	}
	l := &RateLimiter{
		cfg:      cfg,
		now:      time.Now,
		orgs:     bucketShard{buckets: make(map[string]*rate.Limiter)},
		services: bucketShard{buckets: make(map[string]*rate.Limiter)},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (s *bucketShard) limiter(key string, rpm int, burst float64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.buckets[key]
	if !ok {
		capacity := int(float64(rpm) * burst)
		if capacity < 1 {
			capacity = 1
		}
		lim = rate.NewLimiter(rate.Limit(float64(rpm)/60), capacity)
		s.buckets[key] = lim
	}
	return lim
}

// Check acquires one token from the organization bucket and, when serviceKey
// is non-empty, one from the service bucket. If only the service bucket is
// exhausted the organization token is refunded so an unrelated service cannot
// starve the caller's whole organization.
//
// serviceRPM overrides the configured per-service limit when positive, so a
// service's own registered rate limit applies to its bucket.
func (l *RateLimiter) Check(orgCode, serviceKey string, serviceRPM int) error {
	now := l.now()

	orgLim := l.orgs.limiter(orgCode, l.cfg.OrganizationPerMinute, l.cfg.BurstMultiplier)
	orgRes := orgLim.ReserveN(now, 1)
	if !orgRes.OK() || orgRes.DelayFrom(now) > 0 {
		orgRes.CancelAt(now)
		obs.ObserveRateLimitRejection("organization")
		return &RejectedError{
			Cause:      ErrOrgRateLimited,
			RetryAfter: retryAfter(l.cfg.OrganizationPerMinute),
		}
	}

	if serviceKey == "" {
		return nil
	}
	rpm := l.cfg.ServicePerMinute
	if serviceRPM > 0 {
		rpm = serviceRPM
	}
	svcLim := l.services.limiter(serviceKey, rpm, l.cfg.BurstMultiplier)
	svcRes := svcLim.ReserveN(now, 1)
	if !svcRes.OK() || svcRes.DelayFrom(now) > 0 {
		svcRes.CancelAt(now)
		orgRes.CancelAt(now) // refund the organization token
		obs.ObserveRateLimitRejection("service")
		return &RejectedError{
			Cause:      ErrServiceRateLimit,
			RetryAfter: retryAfter(rpm),
		}
	}
	return nil
}

// retryAfter is the advisory backoff at rpm requests per minute: a minute's
// worth of tokens at the rpm/60 per-second refill rate, 3600/rpm seconds.
func retryAfter(rpm int) time.Duration {
	if rpm <= 0 {
		return time.Hour
	}
	return time.Hour / time.Duration(rpm)
}
