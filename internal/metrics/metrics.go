package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"evroute/internal/opt"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Runs counts finished search runs by status (done, failed, canceled)
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alns_runs_total", Help: "Search runs by final status."},
		[]string{"status"},
	)
	// ActiveRuns is the number of runs currently iterating
	ActiveRuns = prometheus.NewGauge(prometheus.GaugeOpts{Name: "alns_active_runs", Help: "Runs currently executing."})
	// Iterations counts iterations by acceptance outcome
	Iterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alns_iterations_total", Help: "Search iterations by acceptance outcome."},
		[]string{"outcome"},
	)
	// OperatorSelections counts roulette picks per operator
	OperatorSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alns_operator_selections_total", Help: "Destroy and repair operator selections."},
		[]string{"kind", "operator"},
	)
	// IterationDuration tracks the wall time of one iteration in seconds
	IterationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "alns_iteration_duration_seconds",
		Help:    "Duration of one destroy/repair/accept iteration.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	// BestDistance records the best feasible distance of each finished run
	BestDistance = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "alns_best_distance",
		Help:    "Best solution distance at the end of a run.",
		Buckets: prometheus.ExponentialBuckets(100, 2, 10),
	})
	// ProgressEvents counts iteration events offered to the broker by result (published, throttled, failed)
	ProgressEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alns_progress_events_total", Help: "Iteration progress events by publish result."},
		[]string{"result"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Runs)
		Registry.MustRegister(ActiveRuns)
		Registry.MustRegister(Iterations)
		Registry.MustRegister(OperatorSelections)
		Registry.MustRegister(IterationDuration)
		Registry.MustRegister(BestDistance)
		Registry.MustRegister(ProgressEvents)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveIteration records one engine iteration. destroy and repair are the
// operator names the record's indices refer to.
func ObserveIteration(rec opt.Record, destroy, repair string) {
	Iterations.WithLabelValues(rec.Outcome.String()).Inc()
	OperatorSelections.WithLabelValues("destroy", destroy).Inc()
	OperatorSelections.WithLabelValues("repair", repair).Inc()
	IterationDuration.Observe(rec.Duration.Seconds())
}

// ObserveRun records a finished run.
func ObserveRun(status string, best opt.Cost) {
	Runs.WithLabelValues(status).Inc()
	if status == "done" && best.Feasible() {
		BestDistance.Observe(best.Distance)
	}
}
