// Package observe provides the OpenTelemetry metrics and tracing used by
// the transcription pipeline, the job service and the HTTP server.
//
// Instruments are created with [NewMetrics] against any
// [metric.MeterProvider]. Tests should pass an SDK provider with a manual
// reader; production code uses the provider installed by [InitProvider],
// which bridges to Prometheus so metrics can be scraped via /metrics.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all metrics.
const meterName = "github.com/djh00t/klingon-transcribe"

// Status values used as the "status" attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the metric instruments of the service. The OTel types are
// safe for concurrent use.
type Metrics struct {
	// StageDuration tracks per-stage latency. Attribute "stage" is one of
	// decode, preprocess, transcribe, diarize, align or render.
	StageDuration metric.Float64Histogram

	// RunDuration tracks end-to-end pipeline latency.
	RunDuration metric.Float64Histogram

	// Runs counts pipeline runs by status.
	Runs metric.Int64Counter

	// ModelRequests counts model backend calls. Attributes: backend, kind, status.
	ModelRequests metric.Int64Counter

	// AudioSeconds sums the duration of processed audio.
	AudioSeconds metric.Float64Counter

	// Jobs counts jobs reaching a terminal state, by status.
	Jobs metric.Int64Counter

	// ActiveJobs tracks jobs currently processing.
	ActiveJobs metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP latency by method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Transcription of long
// recordings can take minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates all instruments using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("transcribe.stage.duration",
		metric.WithDescription("Latency of a pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RunDuration, err = m.Float64Histogram("transcribe.run.duration",
		metric.WithDescription("End-to-end latency of a pipeline run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Runs, err = m.Int64Counter("transcribe.runs",
		metric.WithDescription("Total pipeline runs by status."),
	); err != nil {
		return nil, err
	}
	if met.ModelRequests, err = m.Int64Counter("transcribe.model.requests",
		metric.WithDescription("Total model backend requests by backend, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioSeconds, err = m.Float64Counter("transcribe.audio.duration",
		metric.WithDescription("Total duration of processed audio."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Jobs, err = m.Int64Counter("transcribe.jobs",
		metric.WithDescription("Total jobs finished by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveJobs, err = m.Int64UpDownCounter("transcribe.active_jobs",
		metric.WithDescription("Number of jobs currently processing."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("transcribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordRun records a finished pipeline run.
func (m *Metrics) RecordRun(ctx context.Context, status string, d time.Duration) {
	m.RunDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	m.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordModelRequest records a model backend call.
func (m *Metrics) RecordModelRequest(ctx context.Context, backend, kind, status string) {
	m.ModelRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordJob records a job reaching a terminal status.
func (m *Metrics) RecordJob(ctx context.Context, status string) {
	m.Jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// StatusOf maps an error to StatusOK or StatusError.
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
