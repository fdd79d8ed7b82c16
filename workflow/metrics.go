package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for engine execution, namespaced with
// "stepflow_".
//
// Exposed series:
//
//  1. superstep_latency_ms (histogram): wall time of one superstep,
//     dispatch through barrier. Labels: run_id, status (ok/fault).
//  2. frontier_depth (gauge): deliveries pending at the start of each
//     superstep. Labels: run_id.
//  3. inflight_executors (gauge): executors currently dispatching.
//     Labels: run_id.
//  4. handler_faults_total (counter): captured faults by executor and code.
//     Labels: run_id, executor_id, code.
//  5. fanin_pending (gauge): arrivals buffered at fan-in barriers.
//     Labels: run_id, executor_id.
//  6. checkpoints_total (counter): snapshots captured. Labels: run_id,
//     status (ok/error).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := workflow.NewMetrics(registry)
//	runner, _ := workflow.NewRunner(wf, workflow.WithMetrics(metrics))
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	superstepLatency *prometheus.HistogramVec
	frontierDepth    *prometheus.GaugeVec
	inflight         *prometheus.GaugeVec
	handlerFaults    *prometheus.CounterVec
	fanInPending     *prometheus.GaugeVec
	checkpoints      *prometheus.CounterVec
}

// NewMetrics registers the engine metric set with reg. Pass
// prometheus.DefaultRegisterer to use the process-global registry, or a
// private registry in tests to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		superstepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepflow",
			Name:      "superstep_latency_ms",
			Help:      "Superstep duration from dispatch to barrier in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"run_id", "status"}),

		frontierDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stepflow",
			Name:      "frontier_depth",
			Help:      "Message deliveries pending at the start of a superstep.",
		}, []string{"run_id"}),

		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stepflow",
			Name:      "inflight_executors",
			Help:      "Executors currently dispatching within a superstep.",
		}, []string{"run_id"}),

		handlerFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "handler_faults_total",
			Help:      "Captured faults by executor and fault code.",
		}, []string{"run_id", "executor_id", "code"}),

		fanInPending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stepflow",
			Name:      "fanin_pending",
			Help:      "Arrivals buffered at fan-in barriers.",
		}, []string{"run_id", "executor_id"}),

		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "checkpoints_total",
			Help:      "Checkpoint snapshots captured at superstep boundaries.",
		}, []string{"run_id", "status"}),
	}
}

func (m *Metrics) observeSuperstep(runID string, d time.Duration, faulted bool) {
	if m == nil {
		return
	}
	status := "ok"
	if faulted {
		status = "fault"
	}
	m.superstepLatency.WithLabelValues(runID, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) setFrontierDepth(runID string, depth int) {
	if m == nil {
		return
	}
	m.frontierDepth.WithLabelValues(runID).Set(float64(depth))
}

func (m *Metrics) executorStarted(runID string) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(runID).Inc()
}

func (m *Metrics) executorFinished(runID string) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(runID).Dec()
}

func (m *Metrics) countFault(runID, executorID, code string) {
	if m == nil {
		return
	}
	m.handlerFaults.WithLabelValues(runID, executorID, code).Inc()
}

func (m *Metrics) setFanInPending(runID, executorID string, n int) {
	if m == nil {
		return
	}
	m.fanInPending.WithLabelValues(runID, executorID).Set(float64(n))
}

func (m *Metrics) countCheckpoint(runID string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.checkpoints.WithLabelValues(runID, status).Inc()
}
