package prometheus

import (
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	resultTimeouts     *prometheus.CounterVec
	statusQueries      *prometheus.CounterVec
	activeProcesses    prometheus.Gauge
	backendUp          *prometheus.GaugeVec
}

// NewCollector registers the deployer metrics with the default registerer
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith registers the deployer metrics with reg
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdeploy_invocations_total",
				Help: "Total number of child invocations by outcome",
			},
			[]string{"backend", "verb", "outcome"},
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowdeploy_invocation_duration_seconds",
				Help:    "Duration of child invocations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"backend", "verb"},
		),
		resultTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdeploy_result_timeouts_total",
				Help: "Total number of result channel reads that timed out",
			},
			[]string{"backend", "verb"},
		),
		statusQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdeploy_status_queries_total",
				Help: "Total number of run status queries by resulting status",
			},
			[]string{"backend", "status"},
		),
		activeProcesses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowdeploy_active_processes",
				Help: "Number of child processes currently running",
			},
		),
		backendUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flowdeploy_backend_up",
				Help: "Whether the last health probe of a backend succeeded",
			},
			[]string{"backend"},
		),
	}
}

// RecordInvocation records one child invocation
func (c *Collector) RecordInvocation(backend, verb, outcome string, duration time.Duration) {
	c.invocations.WithLabelValues(backend, verb, outcome).Inc()
	c.invocationDuration.WithLabelValues(backend, verb).Observe(duration.Seconds())
}

// RecordResultTimeout records a result channel read that hit its bound
func (c *Collector) RecordResultTimeout(backend, verb string) {
	c.resultTimeouts.WithLabelValues(backend, verb).Inc()
}

// RecordStatusQuery records the outcome of a status query
func (c *Collector) RecordStatusQuery(backend string, status domain.RunStatus) {
	c.statusQueries.WithLabelValues(backend, string(status)).Inc()
}

// AddActiveProcesses moves the active process gauge by delta
func (c *Collector) AddActiveProcesses(delta int) {
	c.activeProcesses.Add(float64(delta))
}

// SetBackendUp records the result of a backend health probe
func (c *Collector) SetBackendUp(backend string, up bool) {
	value := 0.0
	if up {
		value = 1
	}
	c.backendUp.WithLabelValues(backend).Set(value)
}
