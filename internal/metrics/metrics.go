// Package metrics holds the Prometheus collectors for imports and jobs.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "csdb"

type Metrics struct {
	filesExtracted prometheus.Counter
	nodes          *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobsRunning    *prometheus.GaugeVec
	jobDuration    *prometheus.HistogramVec
	maintenance    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		filesExtracted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "files_extracted_total",
			Help:      "Files written to import workspaces",
		}),
		nodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "nodes_total",
			Help:      "Content nodes touched by imports, by outcome (created, reused, populated)",
		}, []string{"outcome"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal status",
		}, []string{"type", "status"}),
		jobsRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Jobs currently executing on this node",
		}, []string{"type"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time of job executions",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"type"}),
		maintenance: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "removed_total",
			Help:      "Entities removed by the maintenance loop, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) FileExtracted() {
	if m == nil {
		return
	}
	m.filesExtracted.Inc()
}

func (m *Metrics) NodeCreated()   { m.node("created") }
func (m *Metrics) NodeReused()    { m.node("reused") }
func (m *Metrics) NodePopulated() { m.node("populated") }

func (m *Metrics) node(outcome string) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(outcome).Inc()
}

// JobStarted returns a func that records the job's end with its final status.
func (m *Metrics) JobStarted(jobType string) func(status string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.jobsRunning.WithLabelValues(jobType).Inc()
	return func(status string) {
		m.jobsRunning.WithLabelValues(jobType).Dec()
		m.jobDuration.WithLabelValues(jobType).Observe(time.Since(start).Seconds())
		m.jobsFinished.WithLabelValues(jobType, status).Inc()
	}
}

// Removed counts entities removed by maintenance: orphaned jobs, pruned
// jobs, workspaces, binaries.
func (m *Metrics) Removed(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.maintenance.WithLabelValues(kind).Add(float64(n))
}

// EventDrops exposes a running count of events a slow subscriber missed.
func EventDrops(reg prometheus.Registerer, dropped func() uint64) {
	promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Event deliveries skipped because a subscriber was full",
	}, func() float64 { return float64(dropped()) })
}

// Handler serves the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
