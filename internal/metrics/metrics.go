// Package metrics holds the Prometheus instruments for scheduled job runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "repocron"
	Subsystem = "scheduler"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	ItemsTotal       *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RunsInFlight     prometheus.Gauge
	SessionsInFlight prometheus.Gauge
	RepoScanErrors   *prometheus.CounterVec
	PollTicks        prometheus.Counter
	Recovered        *prometheus.CounterVec
}

// New registers the instruments on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: Subsystem,
			Name: "runs_total",
			Help: "Job runs finished, by status and trigger.",
		}, []string{"status", "trigger"}),
		ItemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: Subsystem,
			Name: "items_total",
			Help: "Target items handled by runs, by outcome.",
		}, []string{"outcome"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: Subsystem,
			Name:    "run_duration_seconds",
			Help:    "Wall time of job runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68min
		}, []string{"target_type"}),
		RunsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: Subsystem,
			Name: "runs_in_flight",
			Help: "Job runs currently executing.",
		}),
		SessionsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: Subsystem,
			Name: "sessions_in_flight",
			Help: "Analysis sessions currently executing.",
		}),
		RepoScanErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: Subsystem,
			Name: "repo_scan_errors_total",
			Help: "Failures reading due jobs from a repository store.",
		}, []string{"repo"}),
		PollTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: Subsystem,
			Name: "poll_ticks_total",
			Help: "Polling ticks executed.",
		}),
		Recovered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: Subsystem,
			Name: "recovered_total",
			Help: "Records failed by startup recovery, by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

func (m *Metrics) RunFinished(status, trigger, targetType string, took time.Duration) {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
	m.RunsTotal.WithLabelValues(status, trigger).Inc()
	m.RunDuration.WithLabelValues(targetType).Observe(took.Seconds())
}

func (m *Metrics) Items(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsTotal.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsInFlight.Inc()
}

func (m *Metrics) SessionFinished() {
	if m == nil {
		return
	}
	m.SessionsInFlight.Dec()
}

func (m *Metrics) ScanError(repo string) {
	if m == nil {
		return
	}
	m.RepoScanErrors.WithLabelValues(repo).Inc()
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.PollTicks.Inc()
}

func (m *Metrics) RecoveredRecords(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Recovered.WithLabelValues(kind).Add(float64(n))
}
