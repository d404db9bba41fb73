// Package metrics records replication summaries as Prometheus metrics.
//
// Each Reporter owns its registry so that tests and multiple orchestrators
// never collide on the default registerer. When a textfile path is set the
// registry is written after every summary, for pickup by the node exporter's
// textfile collector.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/systmms/secrets-replicator/internal/replicate"
)

const namespace = "secrets_replicator"

// Reporter implements replicate.Reporter on top of a Prometheus registry.
type Reporter struct {
	registry *prometheus.Registry
	textfile string

	invocations   *prometheus.CounterVec
	duration      prometheus.Histogram
	writes        *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	failures      *prometheus.CounterVec
	lastSuccess   *prometheus.GaugeVec
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithTextfile writes the registry to path after every report
func WithTextfile(path string) Option {
	return func(r *Reporter) {
		r.textfile = path
	}
}

// WithRegistry registers the metrics on registry instead of a private one
func WithRegistry(registry *prometheus.Registry) Option {
	return func(r *Reporter) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// NewReporter creates a reporter and registers its metrics
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{registry: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(r)
	}

	factory := promauto.With(r.registry)
	r.invocations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total number of replication invocations by outcome",
		},
		[]string{"outcome"},
	)
	r.duration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Duration of replication invocations in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	r.writes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "destination_writes_total",
			Help:      "Total number of destination writes by action",
		},
		[]string{"destination", "action"},
	)
	r.writeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "destination_write_duration_seconds",
			Help:      "Duration of a destination write including retries",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"destination"},
	)
	r.retries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "destination_retries_total",
			Help:      "Total number of retried remote calls per destination",
		},
		[]string{"destination"},
	)
	r.failures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of failures by classification",
		},
		[]string{"kind"},
	)
	r.lastSuccess = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful write per destination",
		},
		[]string{"destination"},
	)
	return r
}

// Name implements replicate.Reporter
func (r *Reporter) Name() string {
	return "prometheus"
}

// Registry returns the registry the metrics are registered on
func (r *Reporter) Registry() *prometheus.Registry {
	return r.registry
}

// Report implements replicate.Reporter
func (r *Reporter) Report(_ context.Context, summary replicate.Summary) error {
	r.invocations.WithLabelValues(string(summary.Outcome)).Inc()
	r.duration.Observe(summary.Elapsed.Seconds())
	if summary.Kind != "" {
		r.failures.WithLabelValues(string(summary.Kind)).Inc()
	}

	finished := summary.StartedAt.Add(summary.Elapsed)
	for _, result := range summary.Results {
		r.writes.WithLabelValues(result.Destination, result.Action()).Inc()
		r.writeDuration.WithLabelValues(result.Destination).Observe(result.Elapsed.Seconds())
		if result.Retries > 0 {
			r.retries.WithLabelValues(result.Destination).Add(float64(result.Retries))
		}
		if result.Success {
			r.lastSuccess.WithLabelValues(result.Destination).Set(float64(finished.Unix()))
		} else {
			r.failures.WithLabelValues(string(result.Kind)).Inc()
		}
	}

	if r.textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.textfile, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", r.textfile, err)
	}
	return nil
}
