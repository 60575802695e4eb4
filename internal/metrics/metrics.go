// Package metrics holds the Prometheus collectors of the planning server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated registry served on /metrics.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, route and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hahplan_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "hahplan_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)

	// SolveOutcomes counts finished solves by solver and outcome
	// (OPTIMAL, TIME_LIMIT_WITH_INCUMBENT, INFEASIBLE, NO_INCUMBENT, ERROR, CANCELLED).
	SolveOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hahplan_solves_total", Help: "Finished solves by solver and outcome."},
		[]string{"solver", "outcome"},
	)
	// SolveDuration tracks wall-clock solve time in seconds.
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "hahplan_solve_duration_seconds", Help: "Solve wall-clock time in seconds.", Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600}},
		[]string{"solver", "routing"},
	)
	// Incumbents counts improving solutions reported during solves.
	Incumbents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hahplan_incumbents_total", Help: "Improving incumbents reported by solvers."},
		[]string{"solver"},
	)
	// JobsRunning is the number of jobs currently solving.
	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hahplan_jobs_running", Help: "Jobs currently solving."},
	)
)

// RegisterDefault registers all collectors on Registry. Safe to call repeatedly.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SolveOutcomes)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(Incumbents)
		Registry.MustRegister(JobsRunning)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
