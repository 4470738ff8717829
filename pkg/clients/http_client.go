// Package clients provides the HTTP client used to talk to the GitLab API:
// authentication, rate limiting, retries with backoff, a circuit breaker and
// an optional on-disk response cache.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/metrics"
	"github.com/ajitpratap0/tap-gitlab/pkg/observability"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// DefaultUserAgent is sent when user_agent is not configured
const DefaultUserAgent = "tap-gitlab"

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
	EnableHTTP2         bool          `json:"enable_http2"`

	// Timeouts
	DialTimeout           time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `json:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout"`
	RequestTimeout        time.Duration `json:"request_timeout"`
	KeepAlive             time.Duration `json:"keep_alive"`

	// Identity
	UserAgent    string `json:"user_agent"`
	PrivateToken string `json:"-"`
	OAuthToken   string `json:"-"`

	// Rate limiting
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Retries and circuit breaker
	Retry                 *RetryPolicy         `json:"retry"`
	CircuitBreakerEnabled bool                 `json:"circuit_breaker_enabled"`
	CircuitBreaker        CircuitBreakerConfig `json:"circuit_breaker"`

	// Response cache
	CachePath string        `json:"cache_path"`
	CacheTTL  time.Duration `json:"cache_ttl"`
}

// DefaultHTTPConfig returns default configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RequestTimeout:        60 * time.Second,
		KeepAlive:             30 * time.Second,
		UserAgent:             DefaultUserAgent,
		RateLimit:             10,
		RateBurst:             5,
		Retry:                 DefaultRetryPolicy(),
		CircuitBreakerEnabled: true,
		CircuitBreaker:        DefaultCircuitBreakerConfig(),
		CacheTTL:              DefaultCacheTTL,
	}
}

// HTTPConfigFromTap derives the client configuration from the tap settings
func HTTPConfigFromTap(cfg *config.TapConfig) *HTTPConfig {
	hc := DefaultHTTPConfig()
	hc.PrivateToken = cfg.PrivateToken
	hc.OAuthToken = cfg.OAuthToken
	if cfg.UserAgent != "" {
		hc.UserAgent = cfg.UserAgent
	}
	hc.CachePath = cfg.RequestsCachePath

	if cfg.Timeouts.Request > 0 {
		hc.RequestTimeout = cfg.Timeouts.Request
		hc.ResponseHeaderTimeout = cfg.Timeouts.Request
	}
	if cfg.Timeouts.Connection > 0 {
		hc.DialTimeout = cfg.Timeouts.Connection
		hc.TLSHandshakeTimeout = cfg.Timeouts.Connection
	}
	if cfg.Timeouts.Idle > 0 {
		hc.IdleConnTimeout = cfg.Timeouts.Idle
	}
	if cfg.Timeouts.KeepAlive > 0 {
		hc.KeepAlive = cfg.Timeouts.KeepAlive
	}

	rel := cfg.Reliability
	hc.RateLimit = float64(rel.RateLimitPerSec)
	hc.RateBurst = rel.RateLimitPerSec
	hc.Retry = &RetryPolicy{
		MaxAttempts:     rel.RetryAttempts,
		InitialDelay:    rel.RetryDelay,
		MaxDelay:        rel.MaxRetryDelay,
		Multiplier:      rel.RetryMultiplier,
		RandomizeFactor: 0.25,
	}
	if hc.Retry.MaxAttempts <= 0 {
		hc.Retry.MaxAttempts = 1
	}
	hc.CircuitBreakerEnabled = rel.CircuitBreaker
	return hc
}

// HTTPClient sends requests to the GitLab API. Every call returns the fully
// read body; the response's Request field holds the request as sent.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
	retry          *RetryPolicy
	cache          *ResponseCache

	totalRequests  int64
	failedRequests int64
	cacheHits      int64
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(cfg *HTTPConfig, logger *zap.Logger) (*HTTPClient, error) {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &HTTPClient{
		config: cfg,
		logger: logger.With(zap.String("component", "http_client")),
		retry:  cfg.Retry,
	}
	if client.retry == nil {
		client.retry = DefaultRetryPolicy()
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	// Enable HTTP/2 if configured
	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: NewAuthTransport(client.transport, cfg.PrivateToken, cfg.OAuthToken),
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	client.rateLimiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)

	if cfg.CircuitBreakerEnabled {
		client.circuitBreaker = NewCircuitBreaker(cfg.CircuitBreaker, client.logger)
	}

	if cfg.CachePath != "" {
		cache, err := NewResponseCache(cfg.CachePath, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		client.cache = cache
		client.logger.Info("requests cache enabled", zap.String("path", cfg.CachePath))
	}

	return client, nil
}

// Get performs an HTTP GET request
func (c *HTTPClient) Get(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	return c.Do(ctx, http.MethodGet, rawURL, nil)
}

// Post performs an HTTP POST request with a JSON body
func (c *HTTPClient) Post(ctx context.Context, rawURL string, body []byte) (*http.Response, []byte, error) {
	return c.Do(ctx, http.MethodPost, rawURL, body)
}

// Do sends a request, retrying throttled, server-side and transport
// failures. Other 4xx responses fail immediately with a typed error.
func (c *HTTPClient) Do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, []byte, error) {
	if c.cache != nil {
		if resp, data, ok := c.cache.Get(method, rawURL, body); ok {
			atomic.AddInt64(&c.cacheHits, 1)
			metrics.RequestsTotal.WithLabelValues(method, "cache").Inc()
			req, err := c.newRequest(ctx, method, rawURL, body)
			if err != nil {
				return nil, nil, err
			}
			resp.Request = req
			return resp, data, nil
		}
	}

	var (
		result *http.Response
		data   []byte
	)
	err := c.retry.Execute(ctx, func(attempt int) error {
		resp, respBody, err := c.doOnce(ctx, method, rawURL, body)
		if err != nil {
			return err
		}
		result, data = resp, respBody
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		reason := "connection"
		var tapErr *errors.Error
		if errors.As(err, &tapErr) {
			reason = string(tapErr.Type)
		}
		metrics.RetriesTotal.WithLabelValues(reason).Inc()
		c.logger.Warn("retrying request",
			zap.String("method", method),
			zap.String("url", redactURL(rawURL)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, nil, err
	}

	if c.cache != nil {
		if err := c.cache.Put(method, rawURL, body, result, data); err != nil {
			c.logger.Warn("failed to cache response", zap.Error(err))
		}
	}
	return result, data, nil
}

func (c *HTTPClient) doOnce(ctx context.Context, method, rawURL string, body []byte) (*http.Response, []byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeInternal, "rate limiter wait cancelled")
	}

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		return nil, nil, &throttledError{
			cause: errors.New(errors.ErrorTypeConnection, "circuit breaker open").
				WithDetail("url", redactURL(rawURL)),
			after: time.Until(c.circuitBreaker.NextRetryTime()),
		}
	}

	req, err := c.newRequest(ctx, method, rawURL, body)
	if err != nil {
		return nil, nil, err
	}

	ctx, span := observability.NewSpan(ctx, "gitlab.request")
	defer span.End()
	req = req.WithContext(ctx)
	span.SetAttribute("http.method", method)
	span.SetAttribute("http.url", redactURL(rawURL))

	atomic.AddInt64(&c.totalRequests, 1)
	timer := metrics.NewTimer()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(method, "error").Inc()
		span.RecordError(err)
		if ctx.Err() != nil {
			return nil, nil, errors.Wrap(ctx.Err(), errors.ErrorTypeInternal, "request cancelled")
		}
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
		}
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail("url", redactURL(rawURL))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	status := strconv.Itoa(resp.StatusCode)
	metrics.RequestsTotal.WithLabelValues(method, status).Inc()
	metrics.RequestDuration.WithLabelValues(method, status).Observe(timer.Stop().Seconds())
	span.SetAttribute("http.status_code", resp.StatusCode)
	if err != nil {
		span.RecordError(err)
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
		}
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body").
			WithDetail("url", redactURL(rawURL))
	}

	c.rateLimiter.UpdateFromResponse(resp)
	if c.circuitBreaker != nil {
		if resp.StatusCode >= 500 {
			c.circuitBreaker.RecordFailure()
		} else {
			c.circuitBreaker.RecordSuccess()
		}
	}

	if resp.StatusCode >= 400 {
		statusErr := errors.Newf(errors.FromStatus(resp.StatusCode), "%s %s returned %d", method, redactURL(rawURL), resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", truncate(data, 512))
		span.RecordError(statusErr)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, nil, &throttledError{cause: statusErr, after: c.rateLimiter.RetryAfter(resp)}
		}
		return nil, nil, statusErr
	}

	span.RecordError(nil)
	return resp, data, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, rawURL string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid request").
			WithDetail("url", redactURL(rawURL))
	}

	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	return req, nil
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	stats := HTTPStats{
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		FailedRequests: atomic.LoadInt64(&c.failedRequests),
		CacheHits:      atomic.LoadInt64(&c.cacheHits),
		RateLimit:      c.rateLimiter.GetStats(),
	}
	if c.circuitBreaker != nil {
		stats.CircuitState = c.circuitBreaker.State().String()
	}
	return stats
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64            `json:"total_requests"`
	FailedRequests int64            `json:"failed_requests"`
	CacheHits      int64            `json:"cache_hits"`
	CircuitState   string           `json:"circuit_state,omitempty"`
	RateLimit      RateLimiterStats `json:"rate_limit"`
}

// throttledError carries the server's requested wait to the retry loop.
type throttledError struct {
	cause error
	after time.Duration
}

func (e *throttledError) Error() string             { return e.cause.Error() }
func (e *throttledError) Unwrap() error             { return e.cause }
func (e *throttledError) RetryAfter() time.Duration { return e.after }

// redactURL drops credentials passed as query parameters before logging.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	changed := false
	for k := range q {
		if ignoredCacheParams[strings.ToLower(k)] {
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
