package flow

import "context"

// SnapshotStore persists and loads the latest folded state per key, per
// spec.md §6. Implementations must be safe for concurrent key-disjoint
// access: the core never issues concurrent calls for the same key, but
// different partitions may call concurrently for different keys.
type SnapshotStore[S any] interface {
	// Get returns the stored state for key, or (zero, false, nil) if none exists.
	Get(ctx context.Context, key KafkaKey) (S, bool, error)
	// Persist overwrites the stored state for key. Idempotent.
	Persist(ctx context.Context, key KafkaKey, state S) error
	// Delete removes the stored state for key. Idempotent.
	Delete(ctx context.Context, key KafkaKey) error
}

// KeyStore enumerates the keys known to a partition, used by EagerRecovery
// to materialize prior state before normal consumption begins, per spec.md §6.
type KeyStore interface {
	// List returns every known key for partition. Order is not significant.
	List(ctx context.Context, partition int32) ([]KafkaKey, error)
	// Add registers key as known, called on first record for an unseen key.
	Add(ctx context.Context, key KafkaKey) error
	// Remove unregisters key, called once its deletion has been durably persisted.
	Remove(ctx context.Context, key KafkaKey) error
}

// ScheduleCommit is a non-blocking handoff to the consumer thread that
// performs the actual offset commit, per spec.md §6. offset is the offset to
// commit (i.e. the next offset to resume consumption from on restart).
type ScheduleCommit func(tp TopicPartition, offset int64)

// Bootstrapper is implemented by SnapshotStore backends that need a one-time
// replay before they can answer Get/List correctly — the Kafka-topic-backed
// store in particular, whose cache is empty until its changelog has been
// consumed from the start. TopicFlow.Assign calls Bootstrap on every
// partition assignment, before EagerRecovery runs.
// Stores that don't need this (memstore, pebblestore, s3store) simply don't
// implement it.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) error
}

// CommitSynchronizer is implemented by SnapshotStore backends that take a
// synchronization step against their backing log before a commit — the
// Kafka-topic-backed store writes a marker record to the partition.
// PartitionFlow calls SyncMarker for the partition being committed right
// before scheduling that commit, and does not schedule the commit if
// SyncMarker returns an error.
type CommitSynchronizer interface {
	SyncMarker(ctx context.Context, partitions []int32) error
}
