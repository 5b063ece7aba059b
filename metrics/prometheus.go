// Package metrics adapts flow.MetricsHandler to Prometheus, grounded on the
// vsa ratelimiter's churn telemetry module: package-scoped collectors
// registered once via prometheus.MustRegister, labelled by the flow
// engine's operation name (the flow.Op* values it emits: Fold, Persist,
// Recovery) and partition rather than by key, to avoid unbounded cardinality.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/johanmast/kafka-flow/flow"
)

// Collectors holds the Prometheus collectors a Handler reports to. Created
// once per process and registered against a prometheus.Registerer.
type Collectors struct {
	opDuration   *prometheus.HistogramVec
	opErrors     *prometheus.CounterVec
	opCount      *prometheus.CounterVec
	recordsTotal *prometheus.CounterVec
}

// NewCollectors builds a Collectors and registers it against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kafkaflow_operation_duration_seconds",
			Help:    "Duration of flow engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "partition"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafkaflow_operation_errors_total",
			Help: "Total flow engine operations that returned an error.",
		}, []string{"operation", "partition"}),
		opCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafkaflow_operations_total",
			Help: "Total flow engine operations performed.",
		}, []string{"operation", "partition"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafkaflow_records_total",
			Help: "Total records carried by a flow engine operation (1 per folded record, 1 per persisted key, recovered key count for recovery).",
		}, []string{"operation", "partition"}),
	}
	reg.MustRegister(c.opDuration, c.opErrors, c.opCount, c.recordsTotal)
	return c
}

// Handler returns a flow.MetricsHandler reporting to c.
func (c *Collectors) Handler() flow.MetricsHandler {
	return func(m flow.Metric) {
		partition := partitionLabel(m.Partition)
		c.opDuration.WithLabelValues(m.Operation, partition).Observe(m.Duration().Seconds())
		c.opCount.WithLabelValues(m.Operation, partition).Inc()
		c.recordsTotal.WithLabelValues(m.Operation, partition).Add(float64(m.Count))
		if m.Err != nil {
			c.opErrors.WithLabelValues(m.Operation, partition).Inc()
		}
	}
}

func partitionLabel(p int32) string {
	return strconv.FormatInt(int64(p), 10)
}
