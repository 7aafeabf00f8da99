// Package telemetry is a thin facade over OpenTelemetry used to record
// engine metrics and spans.
//
// Components depend on the Telemetry interface only. NewNoop returns an
// implementation that records nothing; New builds the SDK providers and the
// exporters named in Config.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry records metrics and spans.
type Telemetry interface {
	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// RecordCounter adds value to a counter with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// StartSpan starts a span. The caller must End it.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown flushes pending data and stops all exporters.
	Shutdown(ctx context.Context) error
}

// NoopTelemetry records nothing.
type NoopTelemetry struct{}

// NewNoop creates a new no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

// RecordHistogram is a no-op.
func (n *NoopTelemetry) RecordHistogram(context.Context, string, float64, ...attribute.KeyValue) {}

// RecordCounter is a no-op.
func (n *NoopTelemetry) RecordCounter(context.Context, string, int64, ...attribute.KeyValue) {}

// StartSpan returns the original context and the span already in it, which
// is a no-op span when there is none.
func (n *NoopTelemetry) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// Shutdown is a no-op.
func (n *NoopTelemetry) Shutdown(context.Context) error {
	return nil
}

// RecordDuration records the seconds elapsed since start in a histogram.
func RecordDuration(ctx context.Context, tel Telemetry, name string, start time.Time, attrs ...attribute.KeyValue) {
	tel.RecordHistogram(ctx, name, time.Since(start).Seconds(), attrs...)
}

// Metric names.
const (
	MetricTxCommits          = "nestkv.tx.commits"
	MetricTxRollbacks        = "nestkv.tx.rollbacks"
	MetricTxDuration         = "nestkv.tx.duration"
	MetricCheckpointCount    = "nestkv.checkpoint.count"
	MetricCheckpointDuration = "nestkv.checkpoint.duration"
	MetricRecoveryPages      = "nestkv.recovery.pages"
)

// Attribute keys.
const (
	AttrOperation = "operation"
	AttrStatus    = "status"
	AttrWritable  = "writable"
	AttrReason    = "reason"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Status returns the status attribute for err.
func Status(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String(AttrStatus, StatusError)
	}
	return attribute.String(AttrStatus, StatusSuccess)
}
