package flow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TopicFlow owns one PartitionFlow per partition currently assigned to this
// consumer for a single topic, and manages their lifecycle across rebalances,
// mirroring the teacher library's EventSource/partitionWorker relationship
// but collapsed to the synchronous, single-goroutine-per-partition model
// spec.md §5 calls for. dispatch is expected to hold one TopicFlow per topic
// and route each partition's batches to TopicFlow.ProcessBatch on that
// partition's own goroutine.
type TopicFlow[S any] struct {
	topic               string
	applicationID       string
	groupID             string
	config              Config
	clock               Clock
	fold                Fold[S]
	foldErrorHandler    func(KafkaKey, error) ErrorResponse
	persistErrorHandler func(KafkaKey, error) ErrorResponse
	store               SnapshotStore[S]
	keyStore            KeyStore
	newInterjectors     func() []*ScheduledInterjector[S]
	scheduleCommit      ScheduleCommit
	metrics             MetricsHandler

	mu         sync.RWMutex
	partitions map[int32]*PartitionFlow[S]
}

// TopicFlowParams groups the dependencies shared by every partition of a topic.
type TopicFlowParams[S any] struct {
	Topic               string
	ApplicationID       string
	GroupID             string
	Config              Config
	Clock               Clock
	Fold                Fold[S]
	FoldErrorHandler    func(KafkaKey, error) ErrorResponse
	PersistErrorHandler func(KafkaKey, error) ErrorResponse
	Store               SnapshotStore[S]
	KeyStore            KeyStore
	// NewInterjectors, if set, is called once per partition assignment to
	// produce that partition's interjectors. Supplying a factory rather than
	// a shared slice keeps each partition's ScheduledInterjector state
	// (lastRunAt) independent.
	NewInterjectors func() []*ScheduledInterjector[S]
	ScheduleCommit  ScheduleCommit
	Metrics         MetricsHandler
}

// NewTopicFlow builds a TopicFlow from p.
func NewTopicFlow[S any](p TopicFlowParams[S]) *TopicFlow[S] {
	cfg := p.Config.Validated()
	return &TopicFlow[S]{
		topic:               p.Topic,
		applicationID:       p.ApplicationID,
		groupID:             p.GroupID,
		config:              cfg,
		clock:               p.Clock,
		fold:                p.Fold,
		foldErrorHandler:    p.FoldErrorHandler,
		persistErrorHandler: p.PersistErrorHandler,
		store:               p.Store,
		keyStore:            p.KeyStore,
		newInterjectors:     p.NewInterjectors,
		scheduleCommit:      p.ScheduleCommit,
		metrics:             p.Metrics,
		partitions:          make(map[int32]*PartitionFlow[S]),
	}
}

// Assign creates and recovers a PartitionFlow for partition, assigned at
// assignedAtOffset (the offset of the next record the consumer will receive
// for this partition — i.e. its last committed offset, or the log start
// offset on first assignment). It is safe to call concurrently with
// ProcessBatch/Revoke for other partitions, but not for the same partition.
func (tf *TopicFlow[S]) Assign(ctx context.Context, partition int32, assignedAtOffset int64) error {
	if err := tf.syncFromStore(ctx); err != nil {
		return fmt.Errorf("topic %q: partition %d: sync store: %w", tf.topic, partition, err)
	}
	var interjectors []*ScheduledInterjector[S]
	if tf.newInterjectors != nil {
		interjectors = tf.newInterjectors()
	}
	pf := NewPartitionFlow[S](PartitionFlowParams[S]{
		ApplicationID:       tf.applicationID,
		GroupID:             tf.groupID,
		TopicPartition:      TopicPartition{Topic: tf.topic, Partition: partition},
		Config:              tf.config,
		Clock:               tf.clock,
		Fold:                tf.fold,
		FoldErrorHandler:    tf.foldErrorHandler,
		PersistErrorHandler: tf.persistErrorHandler,
		Store:               tf.store,
		KeyStore:            tf.keyStore,
		Interjectors:        interjectors,
		ScheduleCommit:      tf.scheduleCommit,
		Metrics:             tf.metrics,
	})
	if err := pf.Recover(ctx, assignedAtOffset); err != nil {
		return err
	}
	tf.mu.Lock()
	tf.partitions[partition] = pf
	tf.mu.Unlock()
	return nil
}

// Revoke flushes (if configured) and drops the PartitionFlow for partition.
// After Revoke returns, partition is no longer tracked by this TopicFlow.
func (tf *TopicFlow[S]) Revoke(ctx context.Context, partition int32) {
	tf.mu.Lock()
	pf, ok := tf.partitions[partition]
	delete(tf.partitions, partition)
	tf.mu.Unlock()
	if !ok {
		return
	}
	pf.FlushOnRevoke(ctx)
}

// ProcessBatch routes records (which must all belong to partition) to that
// partition's PartitionFlow. It returns an error if partition is not
// currently assigned, or whatever ProcessBatch itself returns.
func (tf *TopicFlow[S]) ProcessBatch(ctx context.Context, partition int32, records []Record) error {
	pf := tf.partitionFlow(partition)
	if pf == nil {
		return fmt.Errorf("topic %q: partition %d is not assigned", tf.topic, partition)
	}
	return pf.ProcessBatch(ctx, records)
}

func (tf *TopicFlow[S]) partitionFlow(partition int32) *PartitionFlow[S] {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	return tf.partitions[partition]
}

// syncFromStore refreshes tf.store's cache before every Assign, per
// spec.md §4.7: recovery must read the compacted state topic through its
// end offset as of assignment time, and that's true of every assignment a
// rebalance hands this process, not only the first. For a changelog-backed
// store (store/kafkastore), Bootstrap resumes from wherever its consumer
// last stopped and replays up to the topic's current end offsets, so
// calling it again here picks up whatever other group members wrote to
// this partition's keys since this process's previous assignment of it —
// a one-shot, first-assignment-only bootstrap would leave every later
// reassignment reading a stale cache. Stores that answer Get/List directly
// (memstore, pebblestore, s3store) don't implement Bootstrapper and this is
// a no-op for them.
func (tf *TopicFlow[S]) syncFromStore(ctx context.Context) error {
	b, ok := any(tf.store).(Bootstrapper)
	if !ok {
		return nil
	}
	return b.Bootstrap(ctx)
}

// TickInterval returns the cadence at which dispatch should drive this
// TopicFlow's partitions with empty batches so that TimerFlow evaluation and
// interjections run even when no records are arriving, per spec.md §9.
func (tf *TopicFlow[S]) TickInterval() time.Duration {
	return tf.config.TriggerTimersInterval
}

// AssignedPartitions returns the partitions currently assigned to this flow.
func (tf *TopicFlow[S]) AssignedPartitions() []int32 {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	out := make([]int32, 0, len(tf.partitions))
	for p := range tf.partitions {
		out = append(out, p)
	}
	return out
}
