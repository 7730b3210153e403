package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report dispatcher activity.
type Metrics struct {
	callDuration  *prometheus.HistogramVec
	callFailures  *prometheus.CounterVec
	callRetries   *prometheus.CounterVec
	callsInFlight prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when multiple dispatchers exist.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, mirroring promauto semantics; supply a fresh
// registry in tests when unique metric names are required.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	callDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "podium",
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "End-to-end duration of one model call, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "outcome"},
	)
	callFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "dispatch",
			Name:      "call_failures_total",
			Help:      "Model calls that ended in failure, by error kind.",
		},
		[]string{"backend", "kind"},
	)
	callRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "dispatch",
			Name:      "call_retries_total",
			Help:      "Retry attempts made against a backend.",
		},
		[]string{"backend"},
	)
	callsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "podium",
			Subsystem: "dispatch",
			Name:      "calls_in_flight",
			Help:      "Model calls currently awaiting an outcome.",
		},
	)

	collectors := []prometheus.Collector{callDuration, callFailures, callRetries, callsInFlight}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case callDuration:
					callDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case callFailures:
					callFailures = already.ExistingCollector.(*prometheus.CounterVec)
				case callRetries:
					callRetries = already.ExistingCollector.(*prometheus.CounterVec)
				case callsInFlight:
					callsInFlight = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		callDuration:  callDuration,
		callFailures:  callFailures,
		callRetries:   callRetries,
		callsInFlight: callsInFlight,
	}
}

func (m *Metrics) observeCall(backend, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(backend, outcome).Observe(seconds)
}

func (m *Metrics) recordFailure(backend string, kind ErrorKind) {
	if m == nil {
		return
	}
	m.callFailures.WithLabelValues(backend, string(kind)).Inc()
}

func (m *Metrics) recordRetry(backend string) {
	if m == nil {
		return
	}
	m.callRetries.WithLabelValues(backend).Inc()
}

func (m *Metrics) inFlight(delta float64) {
	if m == nil {
		return
	}
	m.callsInFlight.Add(delta)
}
