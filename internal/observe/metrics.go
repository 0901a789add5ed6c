// Package observe provides application-wide observability primitives for
// VoiceKey: OpenTelemetry metrics, a Prometheus exporter bridge, and an
// optional /metrics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoiceKey metrics.
const meterName = "github.com/petems/voicekey"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per dictation stage ---

	// CaptureDuration tracks the audio length of completed captures.
	CaptureDuration metric.Float64Histogram

	// TranscribeDuration tracks speech-to-text transcription latency.
	TranscribeDuration metric.Float64Histogram

	// --- Counters ---

	// CaptureStops counts capture stops. Use with attribute:
	//   attribute.String("reason", ...)
	CaptureStops metric.Int64Counter

	// StartAttempts counts engine opens consumed by capture starts.
	StartAttempts metric.Int64Counter

	// BestEffortStarts counts captures that ran without validated startup.
	BestEffortStarts metric.Int64Counter

	// DroppedBatches counts tap batches discarded under backpressure.
	DroppedBatches metric.Int64Counter

	// InjectedChars counts characters delivered to the focused application.
	InjectedChars metric.Int64Counter

	// --- Gauges ---

	// ActiveDictations tracks dictations currently in flight (0 or 1 in
	// practice, but the instrument does not care).
	ActiveDictations metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// dictation clips and local whisper inference.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("voicekey.capture.duration",
		metric.WithDescription("Audio length of completed captures."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("voicekey.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CaptureStops, err = m.Int64Counter("voicekey.capture.stops",
		metric.WithDescription("Total capture stops by stop reason."),
	); err != nil {
		return nil, err
	}
	if met.StartAttempts, err = m.Int64Counter("voicekey.capture.start_attempts",
		metric.WithDescription("Total engine opens consumed by capture starts."),
	); err != nil {
		return nil, err
	}
	if met.BestEffortStarts, err = m.Int64Counter("voicekey.capture.best_effort_starts",
		metric.WithDescription("Total captures run without validated startup."),
	); err != nil {
		return nil, err
	}
	if met.DroppedBatches, err = m.Int64Counter("voicekey.capture.dropped_batches",
		metric.WithDescription("Total tap batches discarded under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.InjectedChars, err = m.Int64Counter("voicekey.inject.characters",
		metric.WithDescription("Total characters injected into the focused application."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveDictations, err = m.Int64UpDownCounter("voicekey.active_dictations",
		metric.WithDescription("Number of dictations currently in flight."),
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

// RecordStop records one capture stop with its outcome attributes and the
// companion counters that travel with it.
func (m *Metrics) RecordStop(ctx context.Context, reason string, bestEffort bool, attempts, dropped int) {
	m.CaptureStops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	if attempts > 0 {
		m.StartAttempts.Add(ctx, int64(attempts))
	}
	if bestEffort {
		m.BestEffortStarts.Add(ctx, 1)
	}
	if dropped > 0 {
		m.DroppedBatches.Add(ctx, int64(dropped))
	}
}

// RecordTranscription records one transcription with its latency and status.
func (m *Metrics) RecordTranscription(ctx context.Context, seconds float64, status string) {
	m.TranscribeDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
