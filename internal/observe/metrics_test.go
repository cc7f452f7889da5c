package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CaptureBlocks.Add(ctx, 3)
	m.SchedulerFlushes.Add(ctx, 1)

	rm := collect(t, reader)

	blocks := findMetric(rm, "cadenza.capture.blocks")
	if blocks == nil {
		t.Fatal("cadenza.capture.blocks not found")
	}
	sum, ok := blocks.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", blocks.Data)
	}
	if got := sum.DataPoints[0].Value; got != 3 {
		t.Errorf("capture blocks = %d; want 3", got)
	}
}

func TestRecordToolCall_TagsStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "control_playback", 0.02, false)
	m.RecordToolCall(ctx, "control_playback", 0.5, true)

	rm := collect(t, reader)

	calls := findMetric(rm, "cadenza.tool.calls")
	if calls == nil {
		t.Fatal("cadenza.tool.calls not found")
	}
	sum, ok := calls.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", calls.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("got %d datapoints; want 2 (ok and error)", len(sum.DataPoints))
	}

	dur := findMetric(rm, "cadenza.tool_execution.duration")
	if dur == nil {
		t.Fatal("cadenza.tool_execution.duration not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", dur.Data)
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("duration observations = %d; want 2", got)
	}
}

func TestActiveSessions_UpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	sessions := findMetric(rm, "cadenza.sessions.active")
	if sessions == nil {
		t.Fatal("cadenza.sessions.active not found")
	}
	sum, ok := sessions.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", sessions.Data)
	}
	if got := sum.DataPoints[0].Value; got != 0 {
		t.Errorf("active sessions = %d; want 0 after up and down", got)
	}
}
