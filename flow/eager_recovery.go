package flow

import "context"

// EagerRecovery bootstraps the KeyState map for a newly-assigned partition
// before the first record is processed, per spec.md §4.7: list every key
// belonging to the partition from KeyStore, load its latest snapshot, and
// pre-populate a Recovered KeyState for it. Without this step a key that
// receives no new record this session would never appear in the map at all,
// and TimerFlow/OffsetTracker would have no knowledge of it.
type EagerRecovery[S any] struct {
	keys    KeyStore
	store   SnapshotStore[S]
	metrics MetricsHandler
}

// NewEagerRecovery builds an EagerRecovery against keys and store.
func NewEagerRecovery[S any](keys KeyStore, store SnapshotStore[S], metrics MetricsHandler) *EagerRecovery[S] {
	return &EagerRecovery[S]{keys: keys, store: store, metrics: metrics}
}

// Recover lists every key for partition and loads its snapshot, returning a
// map ready to be handed to a PartitionFlow. A failure to list or load is
// returned as a *RecoveryError and aborts recovery entirely — a partition
// cannot safely begin processing with a partial view of its keyspace.
func (er *EagerRecovery[S]) Recover(ctx context.Context, partition int32, assignedAtOffset int64) (map[string]*KeyState[S], error) {
	start := RealClock.Now()
	keys, err := er.keys.List(ctx, partition)
	if err != nil {
		emit(er.metrics, partition, OpRecovery, start, 0, err)
		return nil, &RecoveryError{Partition: partition, Err: err}
	}

	out := make(map[string]*KeyState[S], len(keys))
	for _, key := range keys {
		state, ok, err := er.store.Get(ctx, key)
		if err != nil {
			emit(er.metrics, partition, OpRecovery, start, len(out), err)
			return nil, &RecoveryError{Partition: partition, Err: err}
		}
		out[key.Key] = Recovered[S](key, state, ok, assignedAtOffset)
	}
	emit(er.metrics, partition, OpRecovery, start, len(out), nil)
	return out, nil
}
