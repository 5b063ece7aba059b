package flow

// EffectContext is the side channel a Fold uses to influence the engine
// beyond returning a new state, per spec.md §4.1. Currently this is limited
// to requesting an additional (on-demand) persist of the key being folded.
type EffectContext struct {
	additionalPersistRequested bool
}

// RequestAdditionalPersist flags the key currently being folded for an
// additional persist, subject to its per-key cooldown (see
// AdditionalPersist). Calling this multiple times within one fold has no
// additional effect.
func (ec *EffectContext) RequestAdditionalPersist() {
	ec.additionalPersistRequested = true
}

// Fold is a pure or effectful reducer: (state, record) -> new state, per
// spec.md §4.1. Returning hasNewState=false (e.g. (zero, false, nil))
// signals deletion of the key's state. Fold must be deterministic given the same
// (state, record) pair, since it is replayed verbatim during recovery.
type Fold[S any] func(ec *EffectContext, state S, hasState bool, record Record) (newState S, hasNewState bool, err error)
