package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "odyssey"

// Metrics holds the collectors for background jobs and deferral generation.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec

	entries  *prometheus.CounterVec
	skips    *prometheus.CounterVec
	clamped  *prometheus.CounterVec
	abnormal *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer, or once on the default
// registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker times a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome of the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		m.runs.WithLabelValues(t.job, "failure").Inc()
		m.failures.WithLabelValues(t.job).Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, "success").Inc()
	m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// AddDeferralEntries counts journal entries posted by deferral generation.
func (m *Metrics) AddDeferralEntries(direction string, count int) {
	if m == nil {
		return
	}
	add(m.entries, count, direction)
}

// AddDeferralSkips counts lines that needed no deferral, by reason.
func (m *Metrics) AddDeferralSkips(direction, reason string, count int) {
	if m == nil {
		return
	}
	add(m.skips, count, direction, reason)
}

// AddDeferralClamped counts lines whose end date preceded their start date.
func (m *Metrics) AddDeferralClamped(direction string, count int) {
	if m == nil {
		return
	}
	add(m.clamped, count, direction)
}

// AddDeferralAbnormal counts lines whose range was reversed or does not span
// whole months.
func (m *Metrics) AddDeferralAbnormal(direction string, count int) {
	if m == nil {
		return
	}
	add(m.abnormal, count, direction)
}

func add(vec *prometheus.CounterVec, count int, labels ...string) {
	if count <= 0 {
		return
	}
	vec.WithLabelValues(labels...).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job executions by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failures_total",
			Help:      "Failed job executions.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job executions.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deferral",
			Name:      "entries_total",
			Help:      "Journal entries posted by deferral generation.",
		}, []string{"direction"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deferral",
			Name:      "skipped_lines_total",
			Help:      "Deferrable lines that produced no entries, by reason.",
		}, []string{"direction", "reason"}),
		clamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deferral",
			Name:      "clamped_lines_total",
			Help:      "Deferrable lines whose end date was clamped to the start date.",
		}, []string{"direction"}),
		abnormal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deferral",
			Name:      "abnormal_lines_total",
			Help:      "Deferrable lines with a reversed or partial-month range.",
		}, []string{"direction"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.entries, m.skips, m.clamped, m.abnormal)
	return m
}
