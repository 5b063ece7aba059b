package dispatch

import (
	"context"

	"github.com/johanmast/kafka-flow/flow"
)

// partitionWorker drains one partition's fetched batches onto a single
// goroutine, satisfying the single-logical-thread-per-partition requirement
// TopicFlow depends on, mirroring the teacher's partitionWorker but without
// its own retry/EOS machinery, which TopicFlow/PartitionFlow already own.
type partitionWorker struct {
	partition int32
	batches   chan []flow.Record
	done      chan struct{}
	logger    flow.Logger
	process   func(context.Context, []flow.Record) error
}

func newPartitionWorker[S any](ctx context.Context, tf *flow.TopicFlow[S], partition int32, logger flow.Logger) *partitionWorker {
	w := &partitionWorker{
		partition: partition,
		batches:   make(chan []flow.Record, 8),
		done:      make(chan struct{}),
		logger:    logger,
	}
	w.process = func(ctx context.Context, batch []flow.Record) error {
		return tf.ProcessBatch(ctx, partition, batch)
	}
	go w.run(ctx)
	return w
}

func (w *partitionWorker) run(ctx context.Context) {
	defer close(w.done)
	for batch := range w.batches {
		if err := w.process(ctx, batch); err != nil {
			w.logger.Errorf("dispatch: partition %d: %v", w.partition, err)
			return
		}
	}
}

func (w *partitionWorker) enqueue(records []flow.Record) {
	select {
	case w.batches <- records:
	case <-w.done:
	}
}

func (w *partitionWorker) stop() {
	close(w.batches)
	<-w.done
}
