// Package observe provides application-wide observability primitives for
// HarmonyLab: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all HarmonyLab metrics.
const meterName = "github.com/harmonylab/harmonylab"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// BlockDuration tracks the wall-clock time spent processing one audio
	// block through the signal graph.
	BlockDuration metric.Float64Histogram

	// SourceStartDuration tracks how long opening a source (microphone
	// permission + device open, or file decode) takes.
	SourceStartDuration metric.Float64Histogram

	// --- Counters ---

	// SourceStarts counts source activations. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	SourceStarts metric.Int64Counter

	// RecordingsCompleted counts finalised takes. Use with attributes:
	//   attribute.String("format", ...), attribute.String("status", ...)
	RecordingsCompleted metric.Int64Counter

	// Advisories counts user notifications by severity.
	Advisories metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks the number of in-progress recordings
	// (0 or 1 in practice).
	ActiveRecordings metric.Int64UpDownCounter

	// ActiveSources tracks the number of sources attached to the graph.
	ActiveSources metric.Int64UpDownCounter

	// FeedClients tracks the number of connected websocket feed clients.
	FeedClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Recording ---

	// RecordingDuration tracks the length of finalised takes in seconds.
	RecordingDuration metric.Float64Histogram
}

// blockBuckets defines histogram bucket boundaries (in seconds) sized for a
// real-time audio path where one 20 ms block must finish well under 20 ms.
var blockBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1,
}

// takeBuckets covers take lengths from a short phrase to a full song.
var takeBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.BlockDuration, err = m.Float64Histogram("harmonylab.block.duration",
		metric.WithDescription("Processing time for one audio block through the graph."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(blockBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SourceStartDuration, err = m.Float64Histogram("harmonylab.source.start.duration",
		metric.WithDescription("Time to open a microphone or decode a file."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("harmonylab.recording.duration",
		metric.WithDescription("Length of finalised takes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(takeBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SourceStarts, err = m.Int64Counter("harmonylab.source.starts",
		metric.WithDescription("Total source activations by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsCompleted, err = m.Int64Counter("harmonylab.recordings.completed",
		metric.WithDescription("Total finalised takes by format and status."),
	); err != nil {
		return nil, err
	}
	if met.Advisories, err = m.Int64Counter("harmonylab.advisories",
		metric.WithDescription("Total user advisories by severity."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("harmonylab.active_recordings",
		metric.WithDescription("Number of recordings in progress."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSources, err = m.Int64UpDownCounter("harmonylab.active_sources",
		metric.WithDescription("Number of sources attached to the signal graph."),
	); err != nil {
		return nil, err
	}
	if met.FeedClients, err = m.Int64UpDownCounter("harmonylab.feed_clients",
		metric.WithDescription("Number of connected websocket feed clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("harmonylab.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordSourceStart records a source activation with the standard attribute
// set. kind is "microphone" or "file"; status is "ok" or "error".
func (m *Metrics) RecordSourceStart(ctx context.Context, kind, status string) {
	m.SourceStarts.Add(ctx, 1,
		metric.WithAttributes(Attr("kind", kind), Attr("status", status)),
	)
}

// RecordRecordingCompleted records a finalised take with its length.
func (m *Metrics) RecordRecordingCompleted(ctx context.Context, format, status string, seconds float64) {
	m.RecordingsCompleted.Add(ctx, 1,
		metric.WithAttributes(Attr("format", format), Attr("status", status)),
	)
	m.RecordingDuration.Record(ctx, seconds,
		metric.WithAttributes(Attr("format", format)),
	)
}

// RecordAdvisory records one published advisory.
func (m *Metrics) RecordAdvisory(ctx context.Context, severity string) {
	m.Advisories.Add(ctx, 1,
		metric.WithAttributes(Attr("severity", severity)),
	)
}
