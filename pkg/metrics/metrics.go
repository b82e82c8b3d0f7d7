package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	ReconciliationCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles by phase and outcome",
		},
		[]string{"phase", "outcome"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rollcall_reconciliation_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AbsentMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollcall_absent_members",
			Help: "Number of members currently in the absent set",
		},
	)

	// Write metrics
	MarksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_marks_total",
			Help: "Total number of attendance marks by status and outcome",
		},
		[]string{"status", "outcome"},
	)

	// Upstream metrics
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_upstream_requests_total",
			Help: "Total number of upstream HTTP requests by service and status",
		},
		[]string{"service", "status"},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollcall_upstream_request_duration_seconds",
			Help:    "Upstream HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_upstream_retries_total",
			Help: "Total number of upstream retries by reason",
		},
		[]string{"reason"},
	)

	ScanPagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollcall_scan_pages_total",
			Help: "Total number of access log pages fetched",
		},
	)

	// Scheduler metrics
	JobInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollcall_job_invocations_total",
			Help: "Total number of job invocations by job name and outcome",
		},
		[]string{"job", "outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(AbsentMembers)
	prometheus.MustRegister(MarksTotal)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UpstreamRequestDuration)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(ScanPagesTotal)
	prometheus.MustRegister(JobInvocationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
