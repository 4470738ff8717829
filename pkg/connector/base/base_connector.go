// Package base provides the BaseConnector that tap-gitlab connectors embed.
// It carries identity, configuration, logging, the shared HTTP client and
// per-connector metrics.
//
// # Usage
//
//	type MySource struct {
//	    *base.BaseConnector
//	}
//
//	func NewMySource() *MySource {
//	    return &MySource{
//	        BaseConnector: base.NewBaseConnector("my-source", core.ConnectorTypeSource, "1.0.0"),
//	    }
//	}
//
// # Lifecycle
//
// 1. Create with NewBaseConnector
// 2. Initialize with Initialize(), which validates the configuration and builds the HTTP client
// 3. Use throughout connector operations
// 4. Close with Close()
package base

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/clients"
	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/logger"
	"github.com/ajitpratap0/tap-gitlab/pkg/metrics"
	"go.uber.org/zap"
)

// BaseConnector provides common functionality for all connectors
type BaseConnector struct {
	name          string
	connectorType core.ConnectorType
	version       string
	config        *config.TapConfig
	logger        *zap.Logger

	httpClient *clients.HTTPClient

	collectorsMu sync.Mutex
	collectors   map[string]*metrics.Collector

	startTime  time.Time
	closed     bool
	closeMutex sync.Mutex
}

// NewBaseConnector creates a new base connector with the specified name, type, and version.
func NewBaseConnector(name string, connectorType core.ConnectorType, version string) *BaseConnector {
	return &BaseConnector{
		name:          name,
		connectorType: connectorType,
		version:       version,
		logger:        logger.Get().With(zap.String("connector", name)),
		collectors:    make(map[string]*metrics.Collector),
		startTime:     time.Now(),
	}
}

// Initialize validates the configuration and builds the HTTP client.
func (bc *BaseConnector) Initialize(ctx context.Context, cfg *config.TapConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	bc.config = cfg

	client, err := clients.NewHTTPClient(clients.HTTPConfigFromTap(cfg), bc.logger)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create HTTP client")
	}
	bc.httpClient = client

	bc.logger.Info("connector initialized",
		zap.String("type", string(bc.connectorType)),
		zap.String("version", bc.version),
		zap.String("api_url", cfg.BaseURL()))

	return nil
}

// Name returns the connector name
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Type returns the connector type
func (bc *BaseConnector) Type() core.ConnectorType {
	return bc.connectorType
}

// Version returns the connector version
func (bc *BaseConnector) Version() string {
	return bc.version
}

// Health reports whether the connector can serve requests
func (bc *BaseConnector) Health(ctx context.Context) error {
	bc.closeMutex.Lock()
	closed := bc.closed
	bc.closeMutex.Unlock()

	if closed {
		return errors.New(errors.ErrorTypeConnection, "connector is closed")
	}
	if bc.httpClient == nil {
		return errors.New(errors.ErrorTypeConfig, "connector is not initialized")
	}
	if state := bc.httpClient.GetStats().CircuitState; state == clients.StateOpen.String() {
		return errors.New(errors.ErrorTypeConnection, "circuit breaker is open")
	}
	return nil
}

// Metrics returns current metrics
func (bc *BaseConnector) Metrics() map[string]interface{} {
	m := map[string]interface{}{
		"name":    bc.name,
		"type":    bc.connectorType,
		"version": bc.version,
		"uptime":  time.Since(bc.startTime).Seconds(),
	}

	if bc.httpClient != nil {
		stats := bc.httpClient.GetStats()
		m["http_requests"] = stats.TotalRequests
		m["http_failures"] = stats.FailedRequests
		m["http_cache_hits"] = stats.CacheHits
		m["circuit_breaker_state"] = stats.CircuitState
		m["rate_limit_remaining"] = stats.RateLimit.Remaining
	}

	bc.collectorsMu.Lock()
	streams := make(map[string]interface{}, len(bc.collectors))
	for name, c := range bc.collectors {
		streams[name] = c.GetAll()
	}
	bc.collectorsMu.Unlock()
	m["streams"] = streams

	return m
}

// Close shuts down the connector
func (bc *BaseConnector) Close(ctx context.Context) error {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()

	if bc.closed {
		return nil
	}

	bc.logger.Info("closing connector")
	if bc.httpClient != nil {
		if err := bc.httpClient.Close(); err != nil {
			bc.logger.Warn("failed to close HTTP client", zap.Error(err))
		}
	}

	bc.closed = true
	return nil
}

// GetLogger returns the connector's logger
func (bc *BaseConnector) GetLogger() *zap.Logger {
	return bc.logger
}

// GetConfig returns the connector's configuration
func (bc *BaseConnector) GetConfig() *config.TapConfig {
	return bc.config
}

// GetHTTPClient returns the shared HTTP client
func (bc *BaseConnector) GetHTTPClient() *clients.HTTPClient {
	return bc.httpClient
}

// Collector returns the metrics collector of a stream
func (bc *BaseConnector) Collector(stream string) *metrics.Collector {
	bc.collectorsMu.Lock()
	defer bc.collectorsMu.Unlock()

	c, ok := bc.collectors[stream]
	if !ok {
		c = metrics.NewCollector(stream)
		bc.collectors[stream] = c
	}
	return c
}
