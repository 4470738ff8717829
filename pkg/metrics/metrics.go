// Package metrics provides Prometheus metrics for tap-gitlab.
//
// # Overview
//
// The metrics package provides:
//   - Pre-defined metrics for API requests, pages, records and state checkpoints
//   - A Collector that scopes the stream label for a sync run
//   - An HTTP handler exposing /metrics for scraping during long syncs
//
// # Basic Usage
//
//	collector := metrics.NewCollector("issues")
//	collector.PageFetched()
//	collector.RecordsEmitted(100)
//
//	timer := metrics.NewTimer()
//	resp, body, err := client.Do(ctx, req)
//	metrics.RequestDuration.WithLabelValues("GET", "200").Observe(timer.Stop().Seconds())
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts API requests by method and status code.
	// Transport failures use status "error"; cache hits use "cache".
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_gitlab_requests_total",
			Help: "Total number of GitLab API requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration tracks API latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tap_gitlab_request_duration_seconds",
			Help:    "GitLab API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "status"},
	)

	// RetriesTotal counts retried requests by reason.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_gitlab_retries_total",
			Help: "Total number of retried GitLab API requests",
		},
		[]string{"reason"},
	)

	// RateLimitRemaining mirrors the last RateLimit-Remaining header seen.
	RateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tap_gitlab_rate_limit_remaining",
			Help: "Requests remaining in the current GitLab rate limit window",
		},
	)

	// PagesFetched counts pages read per stream.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_gitlab_pages_fetched_total",
			Help: "Total number of pages fetched",
		},
		[]string{"stream"},
	)

	// RecordsEmitted counts RECORD messages per stream.
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_gitlab_records_emitted_total",
			Help: "Total number of records emitted",
		},
		[]string{"stream"},
	)

	// RecordsDiscarded counts records dropped by stream transforms.
	RecordsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_gitlab_records_discarded_total",
			Help: "Total number of records discarded by transforms",
		},
		[]string{"stream"},
	)

	// PartitionsCompleted counts finished partitions per stream.
	PartitionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_gitlab_partitions_completed_total",
			Help: "Total number of partitions synced",
		},
		[]string{"stream"},
	)

	// StateCheckpoints counts STATE messages written.
	StateCheckpoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tap_gitlab_state_checkpoints_total",
			Help: "Total number of STATE messages written",
		},
	)
)

// Collector scopes per-stream metrics and keeps local totals that the
// connector reports through Metrics().
type Collector struct {
	stream    string
	pages     int64
	records   int64
	discarded int64
	startTime time.Time
}

// NewCollector creates a collector for one stream.
func NewCollector(stream string) *Collector {
	return &Collector{stream: stream, startTime: time.Now()}
}

// PageFetched records one fetched page.
func (c *Collector) PageFetched() {
	atomic.AddInt64(&c.pages, 1)
	PagesFetched.WithLabelValues(c.stream).Inc()
}

// RecordsEmitted records n emitted records.
func (c *Collector) RecordsEmitted(n int) {
	atomic.AddInt64(&c.records, int64(n))
	RecordsEmitted.WithLabelValues(c.stream).Add(float64(n))
}

// RecordDiscarded records one record dropped by a transform.
func (c *Collector) RecordDiscarded() {
	atomic.AddInt64(&c.discarded, 1)
	RecordsDiscarded.WithLabelValues(c.stream).Inc()
}

// PartitionCompleted records one finished partition.
func (c *Collector) PartitionCompleted() {
	PartitionsCompleted.WithLabelValues(c.stream).Inc()
}

// GetAll returns the local totals.
func (c *Collector) GetAll() map[string]interface{} {
	return map[string]interface{}{
		"stream":            c.stream,
		"pages_fetched":     atomic.LoadInt64(&c.pages),
		"records_emitted":   atomic.LoadInt64(&c.records),
		"records_discarded": atomic.LoadInt64(&c.discarded),
		"uptime":            time.Since(c.startTime).Seconds(),
	}
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
