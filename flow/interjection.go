package flow

import (
	"context"
	"time"
)

// Interjector lets code run against a partition's full KeyState map on a
// schedule, independent of any particular record — e.g. sweeping for
// expired keys or emitting synthetic events. Modeled after the teacher
// library's Interjector[T], but pull-based rather than timer-and-channel
// driven: PartitionFlow calls it at its own tick cadence, the same way it
// evaluates TimerFlow, keeping the whole engine on one goroutine per
// partition with no extra synchronization (spec.md §5, §9).
type Interjector[S any] func(ctx context.Context, partition int32, keys map[string]*KeyState[S], now time.Time) error

// ScheduledInterjector wraps an Interjector with its own tick interval, so a
// PartitionFlow can run several interjectors at different cadences.
type ScheduledInterjector[S any] struct {
	Every      time.Duration
	Interject  Interjector[S]
	lastRunAt  time.Time
	hasRun     bool
}

// due reports whether this interjector should run given now.
func (si *ScheduledInterjector[S]) due(now time.Time) bool {
	if !si.hasRun {
		return true
	}
	return now.Sub(si.lastRunAt) >= si.Every
}

// Run invokes the interjector if it is due, recording the run time
// regardless of whether it returned an error.
func (si *ScheduledInterjector[S]) Run(ctx context.Context, partition int32, keys map[string]*KeyState[S], now time.Time) error {
	if !si.due(now) {
		return nil
	}
	si.hasRun = true
	si.lastRunAt = now
	return si.Interject(ctx, partition, keys, now)
}
