// Package observe provides application-wide observability primitives for
// sonata: OpenTelemetry metrics, distributed tracing, and HTTP middleware
// that ties them together.
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

// meterName is the instrumentation scope name used for all sonata metrics.
const meterName = "github.com/MrWong99/sonata"

// Metrics holds all OpenTelemetry metric instruments for the library.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// NodeLatency tracks websocket ping round-trip time per node.
	NodeLatency metric.Float64Histogram

	// ResolveDuration tracks track resolution latency per source.
	ResolveDuration metric.Float64Histogram

	// --- Counters ---

	// OpsSent counts outbound protocol operations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("node", ...)
	OpsSent metric.Int64Counter

	// NodeReconnects counts session re-establishments per node.
	NodeReconnects metric.Int64Counter

	// ProviderRequests counts metadata provider lookups. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// TracksLoaded counts tracks returned by resolution per load type.
	TracksLoaded metric.Int64Counter

	// --- Gauges ---

	// ActivePlayers tracks the number of live players across all nodes.
	ActivePlayers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// websocket pings and REST resolution calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.NodeLatency, err = m.Float64Histogram("sonata.node.latency",
		metric.WithDescription("Websocket ping round-trip time per node."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResolveDuration, err = m.Float64Histogram("sonata.resolve.duration",
		metric.WithDescription("Latency of track resolution requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.OpsSent, err = m.Int64Counter("sonata.ops.sent",
		metric.WithDescription("Total outbound protocol operations by op and node."),
	); err != nil {
		return nil, err
	}
	if met.NodeReconnects, err = m.Int64Counter("sonata.node.reconnects",
		metric.WithDescription("Total session re-establishments by node."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("sonata.provider.requests",
		metric.WithDescription("Total metadata provider lookups by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.TracksLoaded, err = m.Int64Counter("sonata.tracks.loaded",
		metric.WithDescription("Total tracks returned by resolution by load type."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePlayers, err = m.Int64UpDownCounter("sonata.active_players",
		metric.WithDescription("Number of live players across all nodes."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sonata.http.request.duration",
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

// RecordProviderRequest records a provider lookup counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordOp records an outbound protocol operation with the standard
// attribute set.
func (m *Metrics) RecordOp(ctx context.Context, op, node string) {
	m.OpsSent.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("node", node),
		),
	)
}
