// Package observe provides application-wide observability primitives for
// Cadenza: OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Cadenza metrics.
const meterName = "github.com/cadenza-app/cadenza"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ToolExecutionDuration tracks tool handler latency. Use with attribute:
	//   attribute.String("tool", ...)
	ToolExecutionDuration metric.Float64Histogram

	// CaptureBlocks counts outbound microphone capture blocks sent to the
	// voice session.
	CaptureBlocks metric.Int64Counter

	// SpeechChunksScheduled counts inbound model-speech chunks handed to the
	// playback scheduler.
	SpeechChunksScheduled metric.Int64Counter

	// SchedulerFlushes counts interruption-driven scheduler flushes.
	SchedulerFlushes metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// DecodeFailures counts malformed inbound speech frames that failed to
	// decode.
	DecodeFailures metric.Int64Counter

	// TrackRetries counts track-level playback retries.
	TrackRetries metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for tool-handler latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolExecutionDuration, err = m.Float64Histogram("cadenza.tool_execution.duration",
		metric.WithDescription("Latency of tool handler execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CaptureBlocks, err = m.Int64Counter("cadenza.capture.blocks",
		metric.WithDescription("Total outbound capture blocks transmitted."),
	); err != nil {
		return nil, err
	}
	if met.SpeechChunksScheduled, err = m.Int64Counter("cadenza.speech.chunks_scheduled",
		metric.WithDescription("Total inbound speech chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.SchedulerFlushes, err = m.Int64Counter("cadenza.scheduler.flushes",
		metric.WithDescription("Total interruption-driven scheduler flushes."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("cadenza.tool.calls",
		metric.WithDescription("Total tool invocations by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("cadenza.codec.decode_failures",
		metric.WithDescription("Total malformed inbound speech frames."),
	); err != nil {
		return nil, err
	}
	if met.TrackRetries, err = m.Int64Counter("cadenza.playback.track_retries",
		metric.WithDescription("Total track-level playback retries."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("cadenza.sessions.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics instance built on the
// global OTel meter provider. Instrument creation errors are impossible with
// valid names, so they are ignored here.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, _ = NewMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics
}

// RecordToolCall records one tool invocation with its outcome and duration.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, seconds float64, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", tool)))
}
