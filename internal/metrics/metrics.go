package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nholik/ssh-sentinel/internal/health"
)

// Metrics wraps Prometheus collectors for ssh-sentinel.
type Metrics struct {
	registry               *prometheus.Registry
	cycleDurationSeconds   *prometheus.HistogramVec
	probeDurationSeconds   *prometheus.HistogramVec
	services               *prometheus.GaugeVec
	alertsTotal            *prometheus.CounterVec
	staleReportsTotal      *prometheus.CounterVec
	notifyErrorsTotal      prometheus.Counter
	lastSuccessfulCycleSec *prometheus.GaugeVec
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		cycleDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ssh_sentinel_cycle_duration_seconds",
			Help:    "Duration of probe cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"environment"}),
		probeDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ssh_sentinel_probe_duration_seconds",
			Help:    "Latency of individual probes in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"environment", "status"}),
		services: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ssh_sentinel_services",
			Help: "Services by environment and status in the latest report.",
		}, []string{"environment", "status"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssh_sentinel_alerts_total",
			Help: "Total alerts emitted by environment and status.",
		}, []string{"environment", "status"}),
		staleReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssh_sentinel_stale_reports_total",
			Help: "Cycles where every target failed and the cached report was served.",
		}, []string{"environment"}),
		notifyErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssh_sentinel_notify_errors_total",
			Help: "Total notification delivery failures after retries.",
		}),
		lastSuccessfulCycleSec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ssh_sentinel_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last successful cycle.",
		}, []string{"environment"}),
	}

	registry.MustRegister(
		m.cycleDurationSeconds,
		m.probeDurationSeconds,
		m.services,
		m.alertsTotal,
		m.staleReportsTotal,
		m.notifyErrorsTotal,
		m.lastSuccessfulCycleSec,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycleDuration records the duration of a completed cycle.
func (m *Metrics) ObserveCycleDuration(environment string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDurationSeconds.WithLabelValues(environment).Observe(duration.Seconds())
}

// ObserveReport records per-probe latency and sets the services gauge for
// every status, so statuses that dropped to zero are reported as zero.
func (m *Metrics) ObserveReport(report health.Report) {
	if m == nil {
		return
	}
	for _, outcome := range report.Outcomes {
		m.probeDurationSeconds.WithLabelValues(report.Environment, string(outcome.Status)).Observe(outcome.Latency.Seconds())
	}
	counts := report.Counts()
	for _, status := range health.Statuses {
		m.services.WithLabelValues(report.Environment, string(status)).Set(float64(counts[status]))
	}
}

// IncAlertsTotal increments the alerts counter for the given environment/status.
func (m *Metrics) IncAlertsTotal(environment string, status string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(environment, status).Inc()
}

// IncStaleReports counts a cycle served from the last-known-good report.
func (m *Metrics) IncStaleReports(environment string) {
	if m == nil {
		return
	}
	m.staleReportsTotal.WithLabelValues(environment).Inc()
}

// IncNotifyErrors increments the notification error counter.
func (m *Metrics) IncNotifyErrors() {
	if m == nil {
		return
	}
	m.notifyErrorsTotal.Inc()
}

// SetLastSuccessfulCycleTimestamp sets the last successful cycle time.
func (m *Metrics) SetLastSuccessfulCycleTimestamp(environment string, t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCycleSec.WithLabelValues(environment).Set(float64(t.Unix()))
}
