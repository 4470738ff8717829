package clients

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	// HeaderRateLimit is the request quota of the current window.
	HeaderRateLimit = "RateLimit-Limit"

	// HeaderRateRemaining is the remaining requests header.
	HeaderRateRemaining = "RateLimit-Remaining"

	// HeaderRateReset is the reset timestamp header (Unix seconds).
	HeaderRateReset = "RateLimit-Reset"

	// HeaderRetryAfter is the retry-after header (seconds).
	HeaderRetryAfter = "Retry-After"

	// DefaultMinBuffer is the number of requests kept in reserve before
	// waiting for the window to reset.
	DefaultMinBuffer = 10
)

// RateLimiter combines proactive throttling with the quota GitLab reports
// in its RateLimit-* response headers.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetTime time.Time
	bucket    *rate.Limiter
	minBuffer int

	allowed int64
	waited  int64
}

// RateLimiterStats provides statistics about the limiter
type RateLimiterStats struct {
	Rate            float64   `json:"rate"`
	Burst           int       `json:"burst"`
	Remaining       int       `json:"remaining"`
	Limit           int       `json:"limit"`
	ResetTime       time.Time `json:"reset_time"`
	AllowedRequests int64     `json:"allowed_requests"`
	WaitedRequests  int64     `json:"waited_requests"`
}

// NewRateLimiter creates a limiter allowing perSecond requests with the given
// burst. A non-positive rate disables proactive throttling.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		remaining: -1, // unknown until the first response
		bucket:    rate.NewLimiter(limit, burst),
		minBuffer: DefaultMinBuffer,
	}
}

// Wait blocks until it is safe to send the next request.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}
	atomic.AddInt64(&r.allowed, 1)

	r.mu.Lock()
	remaining := r.remaining
	resetTime := r.resetTime
	r.mu.Unlock()

	if remaining >= 0 && remaining < r.minBuffer && time.Now().Before(resetTime) {
		atomic.AddInt64(&r.waited, 1)
		timer := time.NewTimer(time.Until(resetTime))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}

// UpdateFromResponse updates the quota from response headers.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if remaining := resp.Header.Get(HeaderRateRemaining); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			r.remaining = val
			metrics.RateLimitRemaining.Set(float64(val))
		}
	}

	if limit := resp.Header.Get(HeaderRateLimit); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			r.limit = val
		}
	}

	if reset := resp.Header.Get(HeaderRateReset); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil {
			r.resetTime = time.Unix(val, 0)
		}
	}
}

// RetryAfter returns how long to wait before retrying a throttled response.
// Retry-After wins over RateLimit-Reset; zero means no hint.
func (r *RateLimiter) RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if v := resp.Header.Get(HeaderRetryAfter); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}

	r.mu.Lock()
	resetTime := r.resetTime
	r.mu.Unlock()
	if d := time.Until(resetTime); d > 0 {
		return d
	}
	return 0
}

// GetStats returns rate limiter statistics
func (r *RateLimiter) GetStats() RateLimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RateLimiterStats{
		Rate:            float64(r.bucket.Limit()),
		Burst:           r.bucket.Burst(),
		Remaining:       r.remaining,
		Limit:           r.limit,
		ResetTime:       r.resetTime,
		AllowedRequests: atomic.LoadInt64(&r.allowed),
		WaitedRequests:  atomic.LoadInt64(&r.waited),
	}
}
