package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "vic_tracker"

// Metrics are the tracker's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	IdeasDiscovered prometheus.Counter
	IdeasPersisted  prometheus.Counter
	IdeasFailed     prometheus.Counter
	SessionChecks   *prometheus.CounterVec
	JobsTotal       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scrape",
			Name:      "runs_total",
			Help:      "Scrape runs by outcome",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "scrape",
			Name:      "run_duration_seconds",
			Help:      "Wall time of scrape runs",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 2400},
		}),
		IdeasDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scrape",
			Name:      "ideas_discovered_total",
			Help:      "Ideas listed on crawled profiles",
		}),
		IdeasPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scrape",
			Name:      "ideas_persisted_total",
			Help:      "New ideas written to the store",
		}),
		IdeasFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scrape",
			Name:      "ideas_failed_total",
			Help:      "Ideas whose detail page could not be enriched",
		}),
		SessionChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "checks_total",
			Help:      "Session classifications by state",
		}, []string{"state"}),
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job runs by job and result",
		}, []string{"job", "result"}),
	}
}

func (m *Metrics) observeRun(outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(outcome)).Inc()
	if outcome != OutcomeNoOp {
		m.RunDuration.Observe(seconds)
	}
}

func (m *Metrics) sessionChecked(state string) {
	if m == nil {
		return
	}
	m.SessionChecks.WithLabelValues(state).Inc()
}

func (m *Metrics) ideas(discovered, persisted, failed int) {
	if m == nil {
		return
	}
	m.IdeasDiscovered.Add(float64(discovered))
	m.IdeasPersisted.Add(float64(persisted))
	m.IdeasFailed.Add(float64(failed))
}

func (m *Metrics) job(name string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failed"
	}
	m.JobsTotal.WithLabelValues(name, result).Inc()
}
