package conductor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report conductor activity.
type Metrics struct {
	tasksActive      prometheus.Gauge
	tasksFinished    *prometheus.CounterVec
	iterationsTotal  prometheus.Counter
	decisionFailures prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tasksActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "podium",
		Subsystem: "conductor",
		Name:      "tasks_active",
		Help:      "Conductor loops currently running.",
	})
	tasksFinished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "podium",
		Subsystem: "conductor",
		Name:      "tasks_finished_total",
		Help:      "Tasks that reached a terminal state, by final status.",
	}, []string{"status"})
	iterationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "podium",
		Subsystem: "conductor",
		Name:      "iterations_total",
		Help:      "Completed conductor iterations across all tasks.",
	})
	decisionFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "podium",
		Subsystem: "conductor",
		Name:      "decision_failures_total",
		Help:      "Decision engine calls that failed or returned unparseable output.",
	})

	collectors := []prometheus.Collector{tasksActive, tasksFinished, iterationsTotal, decisionFailures}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case tasksActive:
					tasksActive = already.ExistingCollector.(prometheus.Gauge)
				case tasksFinished:
					tasksFinished = already.ExistingCollector.(*prometheus.CounterVec)
				case iterationsTotal:
					iterationsTotal = already.ExistingCollector.(prometheus.Counter)
				case decisionFailures:
					decisionFailures = already.ExistingCollector.(prometheus.Counter)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		tasksActive:      tasksActive,
		tasksFinished:    tasksFinished,
		iterationsTotal:  iterationsTotal,
		decisionFailures: decisionFailures,
	}
}

func (m *Metrics) taskStarted() {
	if m != nil {
		m.tasksActive.Inc()
	}
}

func (m *Metrics) taskEnded() {
	if m != nil {
		m.tasksActive.Dec()
	}
}

func (m *Metrics) taskFinished(status string) {
	if m != nil {
		m.tasksFinished.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) iterationDone() {
	if m != nil {
		m.iterationsTotal.Inc()
	}
}

func (m *Metrics) decisionFailed() {
	if m != nil {
		m.decisionFailures.Inc()
	}
}
