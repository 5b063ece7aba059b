package flow

import "time"

// heldOffset is the minimal view of a KeyState that OffsetTracker needs to
// compute the partition-wide safe-commit offset. Defined as an interface so
// the tracker itself is not generic over the state type S.
type heldOffset interface {
	LastSeenOffset() int64
	PersistedOffset() (int64, bool)
}

// OffsetTracker computes the partition-wide safe commit offset and decides
// when a commit should be scheduled, per spec.md §4.5 — the central
// correctness property of the whole engine.
//
// Only keys with unpersisted work ("dirty"/live keys, per the glossary's
// "hold offset") bound the minimum: a key that has fully caught up holds
// nothing, so it must not keep capping the commit offset at its own
// assignedAtOffset-derived value forever (spec.md §4.7 — a recovered key
// that never receives another record must not "artificially hold back the
// commit offset"). When there are no dirty keys, the safe offset is derived
// from the highest record offset actually observed this session instead.
type OffsetTracker struct {
	assignedAtOffset     int64
	highWatermark        int64 // highest offset seen, or assignedAtOffset-1 if none
	lastCommittedOffset  int64
	hasCommitted         bool
	lastCommitAt         time.Time
	committedAtLeastOnce bool
	commitInterval       time.Duration
	clock                Clock
}

// NewOffsetTracker creates a tracker for a partition assigned at assignedAtOffset.
func NewOffsetTracker(assignedAtOffset int64, commitInterval time.Duration, clock Clock) *OffsetTracker {
	if clock == nil {
		clock = RealClock
	}
	return &OffsetTracker{
		assignedAtOffset: assignedAtOffset,
		highWatermark:    assignedAtOffset - 1,
		commitInterval:   commitInterval,
		clock:            clock,
	}
}

// NoteRecordProcessed records that a record at offset has been folded this
// session, regardless of which key it belonged to or whether that key has
// since been persisted and evicted.
func (ot *OffsetTracker) NoteRecordProcessed(offset int64) {
	if offset > ot.highWatermark {
		ot.highWatermark = offset
	}
}

// nextDurableOffset is the per-key term of the spec.md §4.5 formula, for a
// key known to be dirty (unpersisted work pending): the next offset whose
// effect on this key would be durable once its current persist completes.
func (ot *OffsetTracker) nextDurableOffset(ks heldOffset) int64 {
	if persisted, hasPersisted := ks.PersistedOffset(); hasPersisted {
		return persisted + 1
	}
	return ot.assignedAtOffset
}

// SafeCommitOffset computes safe per spec.md §4.5. dirtyKeys must contain
// only keys with unpersisted work (KeyState.Dirty() == true); fully
// caught-up keys are excluded by the caller so they cannot cap the commit
// offset below the highest durably-processed point.
func (ot *OffsetTracker) SafeCommitOffset(dirtyKeys []heldOffset) int64 {
	if len(dirtyKeys) == 0 {
		base := ot.assignedAtOffset
		if ot.highWatermark >= ot.assignedAtOffset {
			base = ot.highWatermark + 1
		}
		if ot.hasCommitted {
			base = max64(base, ot.lastCommittedOffset)
		}
		return base
	}
	safe := ot.nextDurableOffset(dirtyKeys[0])
	for _, ks := range dirtyKeys[1:] {
		if d := ot.nextDurableOffset(ks); d < safe {
			safe = d
		}
	}
	return safe
}

// ShouldCommit reports whether a commit for `safe` should be scheduled now,
// per spec.md §4.5's commit policy: only when safe advances past the last
// committed offset, gated by commitInterval — except the very first commit
// after assignment, which may fire as soon as safe advances.
func (ot *OffsetTracker) ShouldCommit(safe int64) bool {
	if ot.hasCommitted && safe <= ot.lastCommittedOffset {
		return false
	}
	if !ot.committedAtLeastOnce {
		return true
	}
	now := ot.clock.Now()
	return now.Sub(ot.lastCommitAt) >= ot.commitInterval
}

// RecordCommit notes that a commit for offset was scheduled at the current
// clock time, advancing the interval gate and the monotonic floor for future
// ShouldCommit calls.
func (ot *OffsetTracker) RecordCommit(offset int64) {
	ot.lastCommittedOffset = offset
	ot.hasCommitted = true
	ot.committedAtLeastOnce = true
	ot.lastCommitAt = ot.clock.Now()
}

// LastCommittedOffset returns the most recently recorded commit offset, and
// whether any commit has happened yet.
func (ot *OffsetTracker) LastCommittedOffset() (int64, bool) {
	return ot.lastCommittedOffset, ot.hasCommitted
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
