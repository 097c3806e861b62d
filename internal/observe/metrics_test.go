package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q: data type %T, want Sum[int64]", name, m.Data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, "transcribe", 1500*time.Millisecond)
	m.RecordStage(ctx, "transcribe", 500*time.Millisecond)
	m.RecordStage(ctx, "align", time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "transcribe.stage.duration")
	if met == nil {
		t.Fatal("stage histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) != 2 {
		t.Fatalf("got %d data points, want 2", len(hist.DataPoints))
	}
	for _, dp := range hist.DataPoints {
		stage, _ := dp.Attributes.Value("stage")
		if stage.AsString() == "transcribe" {
			if dp.Count != 2 {
				t.Errorf("transcribe count = %d, want 2", dp.Count)
			}
			if dp.Sum != 2.0 {
				t.Errorf("transcribe sum = %v, want 2", dp.Sum)
			}
		}
	}
}

func TestRecordRun(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRun(ctx, StatusOK, time.Second)
	m.RecordRun(ctx, StatusOK, time.Second)
	m.RecordRun(ctx, StatusError, time.Second)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "transcribe.runs", attribute.String("status", StatusOK)); got != 2 {
		t.Errorf("ok runs = %d, want 2", got)
	}
	if got := counterValue(t, rm, "transcribe.runs", attribute.String("status", StatusError)); got != 1 {
		t.Errorf("error runs = %d, want 1", got)
	}
}

func TestRecordModelRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordModelRequest(ctx, "modelserver", "transcribe", StatusOK)
	m.RecordModelRequest(ctx, "modelserver", "transcribe", StatusOK)
	m.RecordModelRequest(ctx, "openai", "transcribe", StatusError)

	rm := collect(t, reader)
	got := counterValue(t, rm, "transcribe.model.requests",
		attribute.String("backend", "modelserver"),
		attribute.String("kind", "transcribe"),
		attribute.String("status", StatusOK),
	)
	if got != 2 {
		t.Errorf("modelserver requests = %d, want 2", got)
	}
}

func TestRecordJobAndActiveJobs(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveJobs.Add(ctx, 1)
	m.ActiveJobs.Add(ctx, 1)
	m.ActiveJobs.Add(ctx, -1)
	m.RecordJob(ctx, "completed")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "transcribe.active_jobs"); got != 1 {
		t.Errorf("active jobs = %d, want 1", got)
	}
	if got := counterValue(t, rm, "transcribe.jobs", attribute.String("status", "completed")); got != 1 {
		t.Errorf("completed jobs = %d, want 1", got)
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(nil); got != StatusOK {
		t.Errorf("StatusOf(nil) = %q", got)
	}
	if got := StatusOf(errors.New("x")); got != StatusError {
		t.Errorf("StatusOf(err) = %q", got)
	}
}
