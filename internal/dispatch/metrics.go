package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status labels recorded for each Run.
const (
	statusOK       = "ok"
	statusNotFound = "not_found"
	statusDepth    = "depth_exceeded"
	statusError    = "error"
)

// unresolvedLabel replaces the module label of identifiers that never
// resolved, so arbitrary embedding tokens cannot grow the label set.
const unresolvedLabel = "_unresolved"

// Metrics holds the dispatcher's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runDepth    prometheus.Histogram
}

// NewMetrics registers the dispatcher collectors with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Total number of module runs by module and status",
		}, []string{"module", "status"}),

		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "run_duration_seconds",
			Help:      "Module run duration in seconds, including nested runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"module"}),

		runDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "run_depth",
			Help:      "Frame stack depth at which modules run",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 16, 32, 64},
		}),
	}
}

func (m *Metrics) observe(module, status string, depth int, d time.Duration) {
	if m == nil {
		return
	}
	if status == statusNotFound || status == statusDepth {
		module = unresolvedLabel
	}
	m.runsTotal.WithLabelValues(module, status).Inc()
	if status == statusOK || status == statusError {
		m.runDuration.WithLabelValues(module).Observe(d.Seconds())
		m.runDepth.Observe(float64(depth))
	}
}
