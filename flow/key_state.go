package flow

import (
	"context"
	"time"
)

// KeyState is the per-key live object described in spec.md §3: the latest
// folded state, the highest offset seen, the highest offset whose effect is
// durable, and the additional-persist cooldown clock. It is owned
// exclusively by its partition's PartitionFlow; there is no synchronization
// inside KeyState itself (spec.md §5, "KeyState map is owned exclusively by
// its partition flow").
type KeyState[S any] struct {
	Key KafkaKey

	state    S
	hasState bool

	touched        bool
	lastSeenOffset int64

	persistedOffset    int64
	hasPersistedOffset bool

	lastPersistedAt time.Time

	cooldownDeadline time.Time

	additionalPersistRequested bool
}

// NewKeyState creates a fresh KeyState for key, with no state and no
// offsets; it reports no unpersisted work until Apply is first called.
func NewKeyState[S any](key KafkaKey) *KeyState[S] {
	return &KeyState[S]{Key: key}
}

// Recovered creates a KeyState pre-populated from EagerRecovery: state is the
// loaded snapshot, lastSeenOffset and persistedOffset are both set to
// assignedAtOffset-1 (the last offset consumed before assignment) so the key
// does not artificially hold back the commit offset (spec.md §4.7), while a
// record at assignedAtOffset itself still leaves the key dirty.
func Recovered[S any](key KafkaKey, state S, hasState bool, assignedAtOffset int64) *KeyState[S] {
	ks := &KeyState[S]{
		Key:                key,
		state:              state,
		hasState:           hasState,
		lastSeenOffset:     assignedAtOffset - 1,
		persistedOffset:    assignedAtOffset - 1,
		hasPersistedOffset: true,
	}
	return ks
}

// State returns the current folded state and whether one is present.
func (ks *KeyState[S]) State() (S, bool) {
	return ks.state, ks.hasState
}

// LastSeenOffset returns the highest offset processed for this key.
func (ks *KeyState[S]) LastSeenOffset() int64 {
	return ks.lastSeenOffset
}

// PersistedOffset returns the highest offset whose effect is durably
// snapshotted, and whether any persist has ever succeeded.
func (ks *KeyState[S]) PersistedOffset() (int64, bool) {
	return ks.persistedOffset, ks.hasPersistedOffset
}

// Dirty reports whether this key has unpersisted work. A KeyState that has
// never had Apply called on it (e.g. one just constructed by keyStateFor,
// before the triggering record is folded) has no work to persist yet,
// regardless of hasPersistedOffset's zero value.
func (ks *KeyState[S]) Dirty() bool {
	return ks.touched && (!ks.hasPersistedOffset || ks.persistedOffset < ks.lastSeenOffset)
}

// Deleted reports whether this key's state is absent and that deletion has
// been durably persisted — i.e. it is safe to evict from the partition map,
// per spec.md §3's KeyState lifecycle.
func (ks *KeyState[S]) Deleted() bool {
	return !ks.hasState && ks.hasPersistedOffset && ks.persistedOffset >= ks.lastSeenOffset
}

// Apply runs fold against record and updates state and lastSeenOffset. On
// fold failure it returns a *FoldError and leaves lastSeenOffset unchanged,
// per spec.md §4.2: "the record is not considered processed".
func (ks *KeyState[S]) Apply(fold Fold[S], record Record) error {
	ec := &EffectContext{}
	newState, hasNewState, err := fold(ec, ks.state, ks.hasState, record)
	if err != nil {
		return &FoldError{Key: ks.Key, Offset: record.Offset, Err: err}
	}
	ks.state = newState
	ks.hasState = hasNewState
	ks.touched = true
	ks.lastSeenOffset = record.Offset
	if ec.additionalPersistRequested {
		ks.additionalPersistRequested = true
	}
	return nil
}

// ShouldPersistRegular reports whether a regular (periodic) persist is due,
// per spec.md §4.2: now-lastPersistedAt >= persistEvery AND there is
// unpersisted work.
func (ks *KeyState[S]) ShouldPersistRegular(now time.Time, persistEvery time.Duration) bool {
	if !ks.Dirty() {
		return false
	}
	if ks.lastPersistedAt.IsZero() {
		return true
	}
	return now.Sub(ks.lastPersistedAt) >= persistEvery
}

// ShouldPersistAdditional reports whether an on-demand persist, requested via
// EffectContext.RequestAdditionalPersist, is due: the flag is set and
// ap permits persisting given this key's cooldown deadline.
func (ks *KeyState[S]) ShouldPersistAdditional(now time.Time, ap AdditionalPersist) bool {
	if !ks.additionalPersistRequested {
		return false
	}
	return ap.Allow(now, ks.cooldownDeadline)
}

// Persist writes the current state (or deletes it, if absent) to store. On
// success it advances persistedOffset to lastSeenOffset, resets the
// additional-persist cooldown, and clears the request flag. On failure, if
// ignorePersistErrors is set the error is swallowed and persistedOffset is
// left unchanged (spec.md §4.2); otherwise the *PersistError is returned.
func (ks *KeyState[S]) Persist(ctx context.Context, store SnapshotStore[S], now time.Time, ap AdditionalPersist, ignorePersistErrors bool) error {
	var err error
	if ks.hasState {
		err = store.Persist(ctx, ks.Key, ks.state)
	} else {
		err = store.Delete(ctx, ks.Key)
	}
	if err != nil {
		persistErr := &PersistError{Key: ks.Key, Err: err}
		if ignorePersistErrors {
			log.Errorf("%v", persistErr)
			return nil
		}
		return persistErr
	}
	ks.persistedOffset = ks.lastSeenOffset
	ks.hasPersistedOffset = true
	ks.lastPersistedAt = now
	ks.cooldownDeadline = ap.NextDeadline(now)
	ks.additionalPersistRequested = false
	return nil
}

// HoldOffset returns persistedOffset if the key has persisted at least once,
// and lastSeenOffset otherwise. It is not the lowest non-durable offset and
// OffsetTracker does not use it: the safe-commit term per key is computed by
// OffsetTracker.nextDurableOffset (persistedOffset+1, or assignedAtOffset for
// a key that has never persisted).
func (ks *KeyState[S]) HoldOffset() int64 {
	if !ks.hasPersistedOffset {
		return ks.lastSeenOffset
	}
	return ks.persistedOffset
}
