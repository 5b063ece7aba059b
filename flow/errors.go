package flow

import "fmt"

// ErrorResponse instructs the caller how to proceed after an error. It mirrors
// the teacher library's ExecutionState/ErrorResponse split: execution state is
// not error state, but once an error has occurred the caller still needs a
// directive on what to do about the partition.
type ErrorResponse int

const (
	// CompleteAndContinue logs the error and continues processing as normal.
	CompleteAndContinue ErrorResponse = iota
	// FailPartition stops processing this partition only; it is eligible for reassignment.
	FailPartition
	// FailConsumer stops the whole consumer group member, gracefully leaving the group.
	FailConsumer
	// FatallyExit terminates the process.
	FatallyExit
)

// FoldError wraps a failure returned by a Fold while applying a record.
// The key's lastSeenOffset does not advance. With DefaultFoldErrorHandler it
// is fatal to the batch that produced it; a FoldErrorHandler returning
// CompleteAndContinue makes PartitionFlow skip the record and count it as
// processed for the partition's commit offset.
type FoldError struct {
	Key    KafkaKey
	Offset int64
	Err    error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("fold failed for key %+v at offset %d: %v", e.Key, e.Offset, e.Err)
}

func (e *FoldError) Unwrap() error { return e.Err }

// PersistError wraps a failure returned by a SnapshotStore write.
// If the partition's IgnorePersistErrors is set, this error is logged and
// swallowed by KeyState.Persist; otherwise it propagates and aborts the partition.
type PersistError struct {
	Key KafkaKey
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist failed for key %+v: %v", e.Key, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// RecoveryError wraps a failure encountered while eagerly loading prior state
// before normal consumption begins. Always fatal to the partition.
type RecoveryError struct {
	Partition int32
	Err       error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("eager recovery failed for partition %d: %v", e.Partition, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// StoreTransient marks an error returned by a SnapshotStore/KeyStore
// implementation as retryable. The core never retries on its own; an
// external decorator around the store is expected to apply a retry policy.
type StoreTransient struct {
	Err error
}

func (e *StoreTransient) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *StoreTransient) Unwrap() error { return e.Err }

// DefaultFoldErrorHandler logs and instructs the caller to fail the partition,
// mirroring the teacher's DefaultEosErrorHandler posture for unrecoverable errors.
func DefaultFoldErrorHandler(key KafkaKey, err error) ErrorResponse {
	log.Errorf("fold failed for key %+v, failing partition: %v", key, err)
	return FailPartition
}

// DefaultPersistErrorHandler logs and instructs the caller to fail the
// partition. It only sees persist errors when IgnorePersistErrors is unset,
// since otherwise KeyState.Persist swallows them before they propagate.
func DefaultPersistErrorHandler(key KafkaKey, err error) ErrorResponse {
	log.Errorf("persist failed for key %+v, failing partition: %v", key, err)
	return FailPartition
}
