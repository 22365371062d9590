package settlement

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	submissionsTotal   *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
	failuresTotal      *prometheus.CounterVec
	reportErrorsTotal  prometheus.Counter
	confirmSeconds     *prometheus.HistogramVec
	dlqDepth           prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardrails_submissions_total",
		Help: "Ledger submissions by action and outcome",
	}, []string{"action", "outcome"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardrails_retry_attempts_total",
		Help: "Retry attempts for settlement execution",
	}, []string{"result"})

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardrails_terminal_failures_total",
		Help: "Settlements that ended without confirmation, by error kind",
	}, []string{"error_kind"})

	reportErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rewardrails_report_errors_total",
		Help: "Reporting store writes that failed",
	})

	confirm := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rewardrails_confirmation_seconds",
		Help:    "Time from first submission to confirmation",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"action"})

	dlq := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rewardrails_dlq_depth",
		Help: "Number of items in the DLQ",
	})

	reg.MustRegister(submissions, retries, failures, reportErrors, confirm, dlq)

	return &Metrics{
		submissionsTotal:   submissions,
		retryAttemptsTotal: retries,
		failuresTotal:      failures,
		reportErrorsTotal:  reportErrors,
		confirmSeconds:     confirm,
		dlqDepth:           dlq,
	}
}

func (m *Metrics) incSubmission(action Action, outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(string(action), outcome).Inc()
}

func (m *Metrics) incRetry(result string) {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) incFailure(kind ErrorKind) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) incReportError() {
	if m == nil {
		return
	}
	m.reportErrorsTotal.Inc()
}

func (m *Metrics) observeConfirm(action Action, d time.Duration) {
	if m == nil {
		return
	}
	m.confirmSeconds.WithLabelValues(string(action)).Observe(d.Seconds())
}

// SetDLQDepth is exported for the health endpoint, which refreshes it too.
func (m *Metrics) SetDLQDepth(depth int) {
	if m == nil {
		return
	}
	m.dlqDepth.Set(float64(depth))
}
