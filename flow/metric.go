package flow

import "time"

// Metric operation names. The flow engine emits OpFold, OpPersist and
// OpRecovery; OpCommit and OpInterject are defined but no code in flow
// emits them.
const (
	OpFold       = "Fold"
	OpPersist    = "Persist"
	OpCommit     = "Commit"
	OpRecovery   = "Recovery"
	OpInterject  = "Interject"
)

// MetricsHandler receives a Metric after every timed operation the engine
// performs. Implementations should return quickly; the engine calls this
// synchronously on the partition's goroutine. See package metrics for a
// Prometheus-backed implementation.
type MetricsHandler func(Metric)

// Metric describes a single timed operation performed by the flow engine,
// shaped after the teacher library's Metric struct.
type Metric struct {
	StartTime time.Time
	EndTime   time.Time
	Count     int
	Partition int32
	Operation string
	Err       error
}

func (m Metric) Duration() time.Duration {
	return m.EndTime.Sub(m.StartTime)
}

func noopMetrics(Metric) {}

func emit(handler MetricsHandler, partition int32, op string, start time.Time, count int, err error) {
	if handler == nil {
		return
	}
	handler(Metric{
		StartTime: start,
		EndTime:   time.Now(),
		Count:     count,
		Partition: partition,
		Operation: op,
		Err:       err,
	})
}
