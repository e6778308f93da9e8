// Package metrics exposes Prometheus collectors for pipeline runs and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pinstrategy/internal/domain"
)

const namespace = "pinstrategy"

// Metrics holds every collector. It satisfies pipeline.Recorder.
type Metrics struct {
	RunsStarted          prometheus.Counter
	RunsFinished         *prometheus.CounterVec
	RunsActive           prometheus.Gauge
	RunsDiscarded        prometheus.Counter
	RunDuration          *prometheus.HistogramVec
	StageDuration        *prometheus.HistogramVec
	VerificationAttempts *prometheus.CounterVec
	PacksAccepted        *prometheus.CounterVec
	DraftsDegraded       prometheus.Counter
	PersistFailures      *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_started_total",
			Help:      "Total number of pipeline runs started",
		}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_finished_total",
			Help:      "Total number of pipeline runs by terminal stage",
		}, []string{"stage"}),
		RunsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_active",
			Help:      "Number of pipeline runs in flight",
		}),
		RunsDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_discarded_total",
			Help:      "Total number of pipeline runs discarded by a session reset",
		}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		VerificationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "verification_attempts_total",
			Help:      "Fidelity checks by outcome",
		}, []string{"passed"}),
		PacksAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "packs_accepted_total",
			Help:      "Content packs accepted, split by whether the image passed verification",
		}, []string{"verified"}),
		DraftsDegraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "drafts_degraded_total",
			Help:      "Prompt drafts that could not be decoded",
		}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "persist_failures_total",
			Help:      "Failures while storing run history",
		}, []string{"step"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) RunStarted() {
	m.RunsStarted.Inc()
	m.RunsActive.Inc()
}

func (m *Metrics) RunFinished(stage domain.Stage, elapsed time.Duration) {
	m.RunsActive.Dec()
	m.RunsFinished.WithLabelValues(string(stage)).Inc()
	m.RunDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

func (m *Metrics) RunDiscarded(time.Duration) {
	m.RunsActive.Dec()
	m.RunsDiscarded.Inc()
}

func (m *Metrics) StageFinished(stage domain.Stage, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

func (m *Metrics) VerificationAttempt(passed bool) {
	m.VerificationAttempts.WithLabelValues(strconv.FormatBool(passed)).Inc()
}

func (m *Metrics) PackAccepted(verified bool) {
	m.PacksAccepted.WithLabelValues(strconv.FormatBool(verified)).Inc()
}

func (m *Metrics) DraftDegraded() {
	m.DraftsDegraded.Inc()
}

// PersistFailed counts a history write failure at step (image, record).
func (m *Metrics) PersistFailed(step string) {
	m.PersistFailures.WithLabelValues(step).Inc()
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
