// Package observe provides the observability primitives shared by the capture
// core: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/Gleipnir-Technology/Nidus-iOS-sub001"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StoreDuration tracks revision store operation latency. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreDuration metric.Float64Histogram

	// UtterancePause tracks the wall-clock gap between consecutive speech
	// segments of one recording.
	UtterancePause metric.Float64Histogram

	// UploadDuration tracks the latency of a single revision upload.
	UploadDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsIngested counts speech segments routed to an aggregator.
	SegmentsIngested metric.Int64Counter

	// RevisionsCreated counts version-1 revisions written at recording stop.
	RevisionsCreated metric.Int64Counter

	// RevisionsAmended counts edited revisions (version > 1).
	RevisionsAmended metric.Int64Counter

	// Uploads counts upload attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"skipped")
	Uploads metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks recordings currently in the recording state.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks telemetry listener latency, labelled with
	// method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for store
// and upload latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// pauseBuckets defines histogram bucket boundaries (in seconds) for gaps
// between speech segments.
var pauseBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StoreDuration, err = m.Float64Histogram("nidus.store.duration",
		metric.WithDescription("Latency of revision store operations by operation and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtterancePause, err = m.Float64Histogram("nidus.transcript.pause",
		metric.WithDescription("Gap between consecutive speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(pauseBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("nidus.upload.duration",
		metric.WithDescription("Latency of a single revision upload."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsIngested, err = m.Int64Counter("nidus.transcript.segments",
		metric.WithDescription("Total speech segments ingested."),
	); err != nil {
		return nil, err
	}
	if met.RevisionsCreated, err = m.Int64Counter("nidus.revisions.created",
		metric.WithDescription("Total recordings saved as version 1."),
	); err != nil {
		return nil, err
	}
	if met.RevisionsAmended, err = m.Int64Counter("nidus.revisions.amended",
		metric.WithDescription("Total edited revisions written."),
	); err != nil {
		return nil, err
	}
	if met.Uploads, err = m.Int64Counter("nidus.uploads",
		metric.WithDescription("Total revision upload attempts by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("nidus.active_recordings",
		metric.WithDescription("Number of recordings in progress."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("nidus.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status maps an operation error to the "status" attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStoreOp records the latency of one store operation.
func (m *Metrics) RecordStoreOp(ctx context.Context, op string, d time.Duration, err error) {
	m.StoreDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", Status(err)),
		),
	)
}

// RecordUpload records one upload attempt with its outcome and latency.
// Skipped uploads (circuit open) carry a zero duration and are not added to
// the latency histogram.
func (m *Metrics) RecordUpload(ctx context.Context, status string, d time.Duration) {
	m.Uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if d > 0 {
		m.UploadDuration.Record(ctx, d.Seconds())
	}
}

// RecordPause records the gap between two speech segments.
func (m *Metrics) RecordPause(ctx context.Context, d time.Duration) {
	m.UtterancePause.Record(ctx, d.Seconds())
}
