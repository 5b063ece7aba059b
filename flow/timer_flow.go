package flow

import (
	"context"
	"time"
)

// TimerFlow schedules periodic persist evaluation for every key in a
// partition, per spec.md §4.4. It is pull-based, not push-based: rather than
// spawning a timer goroutine per key, PartitionFlow polls elapsed durations
// at batch boundaries and at a coarse tick cadence (spec.md §9, "Timers as
// pull, not push") — this sidesteps a whole class of races between timers
// and record processing and keeps TimerFlow itself synchronous and trivially
// testable with a VirtualClock.
type TimerFlow[S any] struct {
	config            Config
	clock             Clock
	additionalPersist AdditionalPersist
	metrics           MetricsHandler
}

// NewTimerFlow builds a TimerFlow from cfg (already Validated) and clock.
func NewTimerFlow[S any](cfg Config, clock Clock, metrics MetricsHandler) *TimerFlow[S] {
	if clock == nil {
		clock = RealClock
	}
	return &TimerFlow[S]{
		config:            cfg,
		clock:             clock,
		additionalPersist: AdditionalPersist{Cooldown: cfg.AdditionalPersistCooldown},
		metrics:           metrics,
	}
}

// Evaluate runs one persist-policy pass over every key in keys: regular
// persists first, then additional persists, per spec.md §4.4's ordering.
// It stops and returns the first error encountered, following spec.md §4.6's
// "errors from persist respect ignorePersistErrors" — a propagated
// PersistError aborts the whole evaluation pass, leaving remaining keys
// un-evaluated until the next tick.
func (tf *TimerFlow[S]) Evaluate(ctx context.Context, store SnapshotStore[S], partition int32, keys map[string]*KeyState[S]) error {
	now := tf.clock.Now()
	for _, ks := range keys {
		if ks.ShouldPersistRegular(now, tf.config.PersistEvery) {
			if err := tf.persist(ctx, store, partition, ks, now); err != nil {
				return err
			}
		}
	}
	for _, ks := range keys {
		if ks.ShouldPersistAdditional(now, tf.additionalPersist) {
			if err := tf.persist(ctx, store, partition, ks, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushDirty persists every key with unpersisted work, regardless of timer
// interval or cooldown. Used for the flushOnRevoke protocol (spec.md §4.4):
// errors are logged and swallowed, never propagated, so that one failing key
// cannot prevent the rest of the partition from releasing its resources.
func (tf *TimerFlow[S]) FlushDirty(ctx context.Context, store SnapshotStore[S], partition int32, keys map[string]*KeyState[S]) {
	now := tf.clock.Now()
	for _, ks := range keys {
		if !ks.Dirty() {
			continue
		}
		if err := tf.persist(ctx, store, partition, ks, now); err != nil {
			log.Errorf("flushOnRevoke: persist failed for key %+v, dropping: %v", ks.Key, err)
		}
	}
}

func (tf *TimerFlow[S]) persist(ctx context.Context, store SnapshotStore[S], partition int32, ks *KeyState[S], now time.Time) error {
	start := tf.clock.Now()
	err := ks.Persist(ctx, store, now, tf.additionalPersist, tf.config.IgnorePersistErrors)
	emit(tf.metrics, partition, OpPersist, start, 1, err)
	return err
}
