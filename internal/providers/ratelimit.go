package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled at a fixed rate per second.
type RateLimiter struct {
	mu sync.Mutex

	rate       float64 // tokens per second
	burst      float64
	tokens     float64
	lastUpdate time.Time

	totalConsumed int64
	totalWaited   time.Duration
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable float64       `json:"tokens_available"`
	Burst           float64       `json:"burst"`
	RatePerSecond   float64       `json:"rate_per_second"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
}

// NewRateLimiter creates a limiter allowing rps requests per second.
// Burst is one second's worth of tokens, at least one.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	burst := rps
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:       rps,
		burst:      burst,
		tokens:     burst,
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - r.tokens) / r.rate * float64(time.Second))
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.totalWaited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token without blocking, reporting whether one was available.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		r.totalConsumed++
		return true
	}
	return false
}

// Drain empties the bucket, e.g. after the engine answered 429.
func (r *RateLimiter) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	r.tokens = 0
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return RateLimiterStatus{
		TokensAvailable: r.tokens,
		Burst:           r.burst,
		RatePerSecond:   r.rate,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
	}
}

// refill must be called with the lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastUpdate).Seconds() * r.rate
	r.lastUpdate = now
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
}
