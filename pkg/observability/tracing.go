package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span wraps an otel span and batches attributes until End
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// NewSpan starts a span on the global tracer
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := GetTracer().Start(ctx, operationName)

	return ctx, &Span{
		span:      span,
		startTime: time.Now(),
	}
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// RecordError marks the span failed
func (s *Span) RecordError(err error) {
	if err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// Duration returns the time since the span started
func (s *Span) Duration() time.Duration {
	return time.Since(s.startTime)
}

// End flushes attributes and ends the span
func (s *Span) End() {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.End()
}

// ConnectorTracer names spans after a connector and stream
type ConnectorTracer struct {
	connectorName string
}

// NewConnectorTracer creates a new connector tracer
func NewConnectorTracer(connectorName string) *ConnectorTracer {
	return &ConnectorTracer{connectorName: connectorName}
}

// StartSpan starts a connector-specific span
func (ct *ConnectorTracer) StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, fmt.Sprintf("%s.%s", ct.connectorName, operation))
	span.SetAttribute("connector.name", ct.connectorName)
	span.SetAttribute("connector.operation", operation)
	return ctx, span
}

// TracePartition wraps the sync of one stream partition
func (ct *ConnectorTracer) TracePartition(ctx context.Context, stream string, partition map[string]any, fn func(context.Context) error) error {
	ctx, span := ct.StartSpan(ctx, "read_partition")
	defer span.End()

	span.SetAttribute("stream", stream)
	for k, v := range partition {
		span.SetAttribute("partition."+k, v)
	}

	err := fn(ctx)
	span.SetAttribute("duration_ms", span.Duration().Milliseconds())
	span.RecordError(err)
	return err
}
