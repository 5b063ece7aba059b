package flow

import "time"

// AdditionalPersist is the stateless cooldown policy for on-demand persists,
// per spec.md §4.3. The cooldown is per key, not global, and applies only to
// additional persists — regular periodic persists ignore it entirely.
type AdditionalPersist struct {
	Cooldown time.Duration
}

// Allow reports whether an additional persist may run now, given the key's
// current cooldown deadline (zero time means "never persisted, always allowed").
func (ap AdditionalPersist) Allow(now, deadline time.Time) bool {
	return deadline.IsZero() || !now.Before(deadline)
}

// NextDeadline computes the cooldown deadline to record after an additional
// persist completes at now.
func (ap AdditionalPersist) NextDeadline(now time.Time) time.Time {
	return now.Add(ap.Cooldown)
}
