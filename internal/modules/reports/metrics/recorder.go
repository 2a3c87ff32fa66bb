// Package metrics records per-run report statistics. Report runs are short
// batch jobs, so the Prometheus recorder pushes to a Pushgateway on Flush
// instead of waiting to be scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/gaborage/go-bricks-mis-reports/internal/modules/shared/secrets"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder receives run statistics. Implementations must tolerate being
// called from a panicking run.
type Recorder interface {
	ReportWritten(variant, report string, rows, chunks int)
	ReportDelivered(variant, report string)
	RunFinished(variant, outcome string, elapsed time.Duration)
	Flush(ctx context.Context) error
}

// Noop discards everything.
type Noop struct{}

func (Noop) ReportWritten(string, string, int, int)    {}
func (Noop) ReportDelivered(string, string)            {}
func (Noop) RunFinished(string, string, time.Duration) {}
func (Noop) Flush(context.Context) error               { return nil }

// PromRecorder keeps report metrics on a private registry and pushes them to
// a Pushgateway on Flush.
type PromRecorder struct {
	registry  *prometheus.Registry
	rows      *prometheus.CounterVec
	chunks    *prometheus.CounterVec
	delivered *prometheus.CounterVec
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	pusher    *push.Pusher
}

// NewPromRecorder registers the report metrics on a private registry. An
// empty gatewayURL makes Flush a no-op.
func NewPromRecorder(gatewayURL, job string) *PromRecorder {
	r := &PromRecorder{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mis_reports",
			Name:      "rows_written_total",
			Help:      "Data rows written to report spreadsheets.",
		}, []string{"variant", "report"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mis_reports",
			Name:      "chunks_fetched_total",
			Help:      "Row chunks fetched from the reporting database.",
		}, []string{"variant", "report"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mis_reports",
			Name:      "reports_delivered_total",
			Help:      "Reports uploaded and emailed.",
		}, []string{"variant", "report"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mis_reports",
			Name:      "runs_total",
			Help:      "Variant runs by outcome.",
		}, []string{"variant", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mis_reports",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a variant run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"variant"}),
	}

	r.registry.MustRegister(r.rows, r.chunks, r.delivered, r.runs, r.duration)

	if gatewayURL != "" {
		r.pusher = push.New(gatewayURL, job).Gatherer(r.registry)
	}
	return r
}

// TrackSecretCache publishes the credential cache counters read from source
// at every push. Calling it twice fails with a duplicate registration.
func (r *PromRecorder) TrackSecretCache(source func() secrets.CacheMetrics) error {
	read := func(pick func(m secrets.CacheMetrics) float64) func() float64 {
		return func() float64 { return pick(source()) }
	}

	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "mis_reports",
			Subsystem: "secret_cache",
			Name:      "hits_total",
			Help:      "Credential lookups served from cache.",
		}, read(func(m secrets.CacheMetrics) float64 { return float64(m.Hits) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "mis_reports",
			Subsystem: "secret_cache",
			Name:      "misses_total",
			Help:      "Credential lookups that went to Secrets Manager.",
		}, read(func(m secrets.CacheMetrics) float64 { return float64(m.Misses) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "mis_reports",
			Subsystem: "secret_cache",
			Name:      "evictions_total",
			Help:      "Credential bundles evicted before expiry.",
		}, read(func(m secrets.CacheMetrics) float64 { return float64(m.Evictions) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mis_reports",
			Subsystem: "secret_cache",
			Name:      "hit_rate_percent",
			Help:      "Share of credential lookups served from cache.",
		}, read(func(m secrets.CacheMetrics) float64 { return m.HitRate() })),
	}

	for _, c := range collectors {
		if err := r.registry.Register(c); err != nil {
			return fmt.Errorf("register secret cache metrics: %w", err)
		}
	}
	return nil
}

func (r *PromRecorder) ReportWritten(variant, report string, rows, chunks int) {
	r.rows.WithLabelValues(variant, report).Add(float64(rows))
	r.chunks.WithLabelValues(variant, report).Add(float64(chunks))
}

func (r *PromRecorder) ReportDelivered(variant, report string) {
	r.delivered.WithLabelValues(variant, report).Inc()
}

func (r *PromRecorder) RunFinished(variant, outcome string, elapsed time.Duration) {
	r.runs.WithLabelValues(variant, outcome).Inc()
	r.duration.WithLabelValues(variant).Observe(elapsed.Seconds())
}

// Flush replaces the job's metric group on the Pushgateway.
func (r *PromRecorder) Flush(ctx context.Context) error {
	if r.pusher == nil {
		return nil
	}
	if err := r.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
