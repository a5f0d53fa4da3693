package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exports ledger engine telemetry on a private registry.
type Collector struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
}

// NewCollector registers the ledger metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by outcome",
		}, []string{"operation", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time taken by ledger operations including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commit_conflicts_total",
			Help: "Optimistic commit attempts rejected by a concurrent writer",
		}, []string{"operation"}),
	}
}

// OperationFinished records one completed engine call.
func (c *Collector) OperationFinished(operation, outcome string, elapsed time.Duration) {
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// CommitConflict records one lost optimistic commit.
func (c *Collector) CommitConflict(operation string) {
	c.conflicts.WithLabelValues(operation).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
