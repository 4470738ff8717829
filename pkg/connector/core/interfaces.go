package core

import (
	"context"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/config"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource      ConnectorType = "source"
	ConnectorTypeDestination ConnectorType = "destination"
)

// Context identifies one partition of a stream, e.g. {"project_id": 42}.
// A Context is never mutated once a request has been built from it.
type Context map[string]any

// Clone returns a shallow copy
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Subset returns the entries named by keys. Missing keys are skipped.
func (c Context) Subset(keys []string) Context {
	out := make(Context, len(keys))
	for _, k := range keys {
		if v, ok := c[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Record is one API object as emitted downstream
type Record map[string]any

// EmitFunc receives normalized records in API order. Returning an error
// stops the partition.
type EmitFunc func(record Record) error

// Connector is the base interface for all connectors
type Connector interface {
	// Metadata
	Name() string
	Type() ConnectorType
	Version() string

	// Lifecycle
	Initialize(ctx context.Context, cfg *config.TapConfig) error
	Close(ctx context.Context) error

	// Health and monitoring
	Health(ctx context.Context) error
	Metrics() map[string]interface{}
}

// Source extracts records stream by stream, one partition at a time. The
// caller owns the loop, the state and the ordering of partitions.
type Source interface {
	Connector

	// Discover returns the catalog of streams enabled by the configuration
	Discover(ctx context.Context) (*Catalog, error)

	// Streams returns the descriptors enabled by the configuration, parents
	// before children.
	Streams() []*StreamDescriptor

	// Partitions returns the root partitions of a stream without a parent.
	// An unpartitioned stream yields a single nil context.
	Partitions(ctx context.Context, stream *StreamDescriptor) ([]Context, error)

	// ReadPartition pages through one partition and emits its records.
	// bookmark is the partition's last replication value, or nil.
	ReadPartition(ctx context.Context, stream *StreamDescriptor, partition Context, bookmark any, emit EmitFunc) error
}

// Destination receives Singer messages
type Destination interface {
	WriteSchema(stream *StreamDescriptor) error
	WriteRecord(stream string, record Record, extractedAt time.Time) error
	WriteState(state any) error
	Close(ctx context.Context) error
}

// HealthStatus represents the health status of a connector
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details"`
	Error     error                  `json:"error,omitempty"`
}

// ConnectorMetadata provides metadata about a connector
type ConnectorMetadata struct {
	Name          string        `json:"name"`
	Type          ConnectorType `json:"type"`
	Version       string        `json:"version"`
	Description   string        `json:"description"`
	Documentation string        `json:"documentation"`
	Capabilities  []string      `json:"capabilities"`
}
