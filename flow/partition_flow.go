package flow

import (
	"context"
	"fmt"
)

// PartitionFlow is the orchestrator described in spec.md §4.6: it owns one
// partition's KeyState map, applies Fold to every record in a batch, runs
// the timer and interjection passes, and computes the safe commit offset.
// A PartitionFlow is never touched by more than one goroutine at a time
// (spec.md §5) — callers are responsible for that single-threaded contract,
// typically by running each partition's flow on its own goroutine fed by a
// channel, the way dispatch does.
type PartitionFlow[S any] struct {
	applicationID  string
	groupID        string
	topicPartition TopicPartition
	config         Config
	clock          Clock

	fold               Fold[S]
	foldErrorHandler    func(KafkaKey, error) ErrorResponse
	persistErrorHandler func(KafkaKey, error) ErrorResponse

	store    SnapshotStore[S]
	keyStore KeyStore

	timerFlow      *TimerFlow[S]
	offsetTracker  *OffsetTracker
	interjectors   []*ScheduledInterjector[S]
	scheduleCommit ScheduleCommit
	metrics        MetricsHandler

	keys      map[string]*KeyState[S]
	recovered bool
}

// PartitionFlowParams groups the dependencies a PartitionFlow needs,
// mirroring the constructor-argument clusters the teacher library passes
// into its partitionWorker/EventSource plumbing.
type PartitionFlowParams[S any] struct {
	ApplicationID       string
	GroupID             string
	TopicPartition      TopicPartition
	Config              Config
	Clock               Clock
	Fold                Fold[S]
	FoldErrorHandler    func(KafkaKey, error) ErrorResponse
	PersistErrorHandler func(KafkaKey, error) ErrorResponse
	Store               SnapshotStore[S]
	KeyStore            KeyStore
	Interjectors        []*ScheduledInterjector[S]
	ScheduleCommit      ScheduleCommit
	Metrics             MetricsHandler
}

// NewPartitionFlow builds a PartitionFlow from p. Unset handlers fall back
// to DefaultFoldErrorHandler/DefaultPersistErrorHandler; an unset Clock
// falls back to RealClock.
func NewPartitionFlow[S any](p PartitionFlowParams[S]) *PartitionFlow[S] {
	clock := p.Clock
	if clock == nil {
		clock = RealClock
	}
	foldErrorHandler := p.FoldErrorHandler
	if foldErrorHandler == nil {
		foldErrorHandler = DefaultFoldErrorHandler
	}
	persistErrorHandler := p.PersistErrorHandler
	if persistErrorHandler == nil {
		persistErrorHandler = DefaultPersistErrorHandler
	}
	return &PartitionFlow[S]{
		applicationID:       p.ApplicationID,
		groupID:             p.GroupID,
		topicPartition:      p.TopicPartition,
		config:              p.Config,
		clock:               clock,
		fold:                p.Fold,
		foldErrorHandler:    foldErrorHandler,
		persistErrorHandler: persistErrorHandler,
		store:               p.Store,
		keyStore:            p.KeyStore,
		timerFlow:           NewTimerFlow[S](p.Config, clock, p.Metrics),
		interjectors:        p.Interjectors,
		scheduleCommit:      p.ScheduleCommit,
		metrics:             p.Metrics,
	}
}

// Recover runs EagerRecovery against assignedAtOffset, populating the
// KeyState map before any record is processed, per spec.md §4.7.
func (pf *PartitionFlow[S]) Recover(ctx context.Context, assignedAtOffset int64) error {
	er := NewEagerRecovery[S](pf.keyStore, pf.store, pf.metrics)
	keys, err := er.Recover(ctx, pf.topicPartition.Partition, assignedAtOffset)
	if err != nil {
		return err
	}
	pf.keys = keys
	pf.offsetTracker = NewOffsetTracker(assignedAtOffset, pf.config.CommitOffsetsInterval, pf.clock)
	pf.recovered = true
	return nil
}

func (pf *PartitionFlow[S]) keyStateFor(ctx context.Context, key KafkaKey) (*KeyState[S], error) {
	ks, ok := pf.keys[key.Key]
	if ok {
		return ks, nil
	}
	if err := pf.keyStore.Add(ctx, key); err != nil {
		return nil, &PersistError{Key: key, Err: err}
	}
	ks = NewKeyState[S](key)
	pf.keys[key.Key] = ks
	return ks, nil
}

// ProcessBatch applies fold to every record in batch, in order, then runs
// the timer evaluation pass and every due interjector, and finally computes
// and (if due) schedules a commit, per spec.md §4.6's per-batch sequence.
//
// A fold failure is routed through foldErrorHandler. CompleteAndContinue
// skips the record and keeps going; FailPartition/FailConsumer/FatallyExit
// abort the batch immediately and return the directive wrapped in a
// *PartitionFailure so the caller (dispatch) knows how far to escalate.
func (pf *PartitionFlow[S]) ProcessBatch(ctx context.Context, records []Record) error {
	if !pf.recovered {
		return fmt.Errorf("partition %+v: ProcessBatch called before Recover", pf.topicPartition)
	}
	for _, record := range records {
		key := NewKafkaKey(pf.applicationID, pf.groupID, pf.topicPartition, record.Key)
		ks, err := pf.keyStateFor(ctx, key)
		if err != nil {
			resp := pf.persistErrorHandler(key, err)
			if resp == CompleteAndContinue {
				pf.offsetTracker.NoteRecordProcessed(record.Offset)
				continue
			}
			return &PartitionFailure{Partition: pf.topicPartition.Partition, Response: resp, Err: err}
		}

		start := pf.clock.Now()
		err = ks.Apply(pf.fold, record)
		emit(pf.metrics, pf.topicPartition.Partition, OpFold, start, 1, err)

		if err != nil {
			resp := pf.foldErrorHandler(key, err)
			if resp == CompleteAndContinue {
				pf.offsetTracker.NoteRecordProcessed(record.Offset)
				continue
			}
			return &PartitionFailure{Partition: pf.topicPartition.Partition, Response: resp, Err: err}
		}
		pf.offsetTracker.NoteRecordProcessed(record.Offset)

		pf.evictIfDeleted(ctx, ks)
	}

	if err := pf.timerFlow.Evaluate(ctx, pf.store, pf.topicPartition.Partition, pf.keys); err != nil {
		resp := pf.persistErrorHandler(keyOf(err), err)
		if resp != CompleteAndContinue {
			return &PartitionFailure{Partition: pf.topicPartition.Partition, Response: resp, Err: err}
		}
	}
	pf.sweepDeleted(ctx)

	now := pf.clock.Now()
	for _, ij := range pf.interjectors {
		if err := ij.Run(ctx, pf.topicPartition.Partition, pf.keys, now); err != nil {
			log.Errorf("interjection failed for partition %d: %v", pf.topicPartition.Partition, err)
		}
	}

	pf.maybeCommit(ctx)
	return nil
}

// evictIfDeleted removes ks from the map immediately if Deleted() already
// holds right after Apply, which happens only for a record at or below the
// key's persisted offset. A deletion folded from a newer record is removed
// by sweepDeleted once TimerFlow has persisted it.
func (pf *PartitionFlow[S]) evictIfDeleted(ctx context.Context, ks *KeyState[S]) {
	if !ks.Deleted() {
		return
	}
	pf.forgetKey(ctx, ks)
}

// sweepDeleted removes every key whose state is absent and whose deletion
// has been durably persisted, per spec.md §4.6 step 4.
func (pf *PartitionFlow[S]) sweepDeleted(ctx context.Context) {
	for _, ks := range pf.keys {
		if ks.Deleted() {
			pf.forgetKey(ctx, ks)
		}
	}
}

// forgetKey evicts ks from the live map and unregisters it from keyStore.
// A KeyStore.Remove failure is logged and otherwise ignored: the key's
// deletion is already durable in the SnapshotStore, so at worst the next
// EagerRecovery will needlessly list a key that resolves to "absent".
func (pf *PartitionFlow[S]) forgetKey(ctx context.Context, ks *KeyState[S]) {
	delete(pf.keys, ks.Key.Key)
	if err := pf.keyStore.Remove(ctx, ks.Key); err != nil {
		log.Errorf("keyStore.Remove failed for key %+v: %v", ks.Key, err)
	}
}

// liveHolds returns the heldOffset view of every dirty (unpersisted-work)
// key, for OffsetTracker.SafeCommitOffset.
func (pf *PartitionFlow[S]) liveHolds() []heldOffset {
	holds := make([]heldOffset, 0, len(pf.keys))
	for _, ks := range pf.keys {
		if ks.Dirty() {
			holds = append(holds, ks)
		}
	}
	return holds
}

// maybeCommit computes the safe commit offset and, if due, hands it to
// scheduleCommit. If store is a CommitSynchronizer (the Kafka-topic-backed
// store), SyncMarker is called for this partition first. A sync failure
// defers the commit to the next batch/tick instead of scheduling it.
func (pf *PartitionFlow[S]) maybeCommit(ctx context.Context) {
	safe := pf.offsetTracker.SafeCommitOffset(pf.liveHolds())
	if !pf.offsetTracker.ShouldCommit(safe) {
		return
	}
	if cs, ok := any(pf.store).(CommitSynchronizer); ok {
		if err := cs.SyncMarker(ctx, []int32{pf.topicPartition.Partition}); err != nil {
			log.Errorf("commit sync failed for partition %d, deferring commit: %v", pf.topicPartition.Partition, err)
			return
		}
	}
	pf.offsetTracker.RecordCommit(safe)
	if pf.scheduleCommit != nil {
		pf.scheduleCommit(pf.topicPartition, safe)
	}
}

// FlushOnRevoke persists every key with unpersisted work, swallowing errors,
// per spec.md §4.4's flushOnRevoke protocol. Called by the partition's owner
// right before it is torn down.
func (pf *PartitionFlow[S]) FlushOnRevoke(ctx context.Context) {
	if !pf.recovered || !pf.config.FlushOnRevoke {
		return
	}
	pf.timerFlow.FlushDirty(ctx, pf.store, pf.topicPartition.Partition, pf.keys)
}

// PartitionFailure carries an ErrorResponse directive up from a
// PartitionFlow to its owner, alongside the underlying cause.
type PartitionFailure struct {
	Partition int32
	Response  ErrorResponse
	Err       error
}

func (e *PartitionFailure) Error() string {
	return fmt.Sprintf("partition %d failure (response=%v): %v", e.Partition, e.Response, e.Err)
}

func (e *PartitionFailure) Unwrap() error { return e.Err }

// keyOf extracts the KafkaKey from a PersistError, if err is (or wraps) one;
// otherwise it returns a zero KafkaKey.
func keyOf(err error) KafkaKey {
	if pe, ok := err.(*PersistError); ok {
		return pe.Key
	}
	return KafkaKey{}
}
