package flow

import "time"

// Config collects every tunable named in spec.md §6. Zero-value durations are
// filled in by Validated, mirroring the teacher's EosConfig.IsZero/validate
// pattern for EosConfig.
type Config struct {
	// CommitOffsetsInterval is the minimum interval between scheduled commits
	// for a partition, except that the first commit after assignment may fire
	// as soon as the safe offset advances.
	CommitOffsetsInterval time.Duration
	// TriggerTimersInterval is the cadence at which dispatch ticks idle
	// partitions with empty batches, so TimerFlow is also evaluated when no
	// records arrive. TimerFlow always runs at the end of every batch; zero
	// disables the tick, leaving evaluation to batch boundaries only.
	TriggerTimersInterval time.Duration
	// PersistEvery is the minimum interval between regular persists of a key.
	PersistEvery time.Duration
	// FireEvery is an alias kept for parity with spec.md's naming of the timer
	// tick interval; it is equivalent to TriggerTimersInterval.
	FireEvery time.Duration
	// AdditionalPersistCooldown is the minimum interval between two additional
	// (on-demand) persists of the same key.
	AdditionalPersistCooldown time.Duration
	// FlushOnRevoke, if true, attempts one final persist of every dirty key
	// before a partition's resources are released.
	FlushOnRevoke bool
	// IgnorePersistErrors, if true, logs and swallows PersistError instead of
	// propagating it and aborting the partition.
	IgnorePersistErrors bool
}

const (
	DefaultCommitOffsetsInterval    = time.Minute
	DefaultTriggerTimersInterval    = 10 * time.Second
	DefaultPersistEvery             = 30 * time.Second
	DefaultAdditionalPersistCooldow = 5 * time.Second
)

// DefaultConfig mirrors the teacher's DefaultEosConfig: sane production defaults.
var DefaultConfig = Config{
	CommitOffsetsInterval:     DefaultCommitOffsetsInterval,
	TriggerTimersInterval:     DefaultTriggerTimersInterval,
	PersistEvery:              DefaultPersistEvery,
	FireEvery:                 DefaultTriggerTimersInterval,
	AdditionalPersistCooldown: DefaultAdditionalPersistCooldow,
	FlushOnRevoke:             true,
	IgnorePersistErrors:       false,
}

// IsZero reports whether cfg is the uninitialized Config, matching the
// teacher's EosConfig.IsZero.
func (cfg Config) IsZero() bool {
	return cfg == Config{}
}

// Validated returns DefaultConfig for an all-zero cfg. Otherwise it fills a
// zero CommitOffsetsInterval, PersistEvery or AdditionalPersistCooldown from
// DefaultConfig, and a zero TriggerTimersInterval or FireEvery from the
// other one (both stay zero if both are zero). It panics if the result is
// still structurally invalid
// (negative durations), following the teacher's validate()-panics-on-
// misconfiguration convention for a mistake that can only come from the
// application wiring its own Config incorrectly, not from runtime conditions.
func (cfg Config) Validated() Config {
	if cfg.IsZero() {
		return DefaultConfig
	}
	if cfg.CommitOffsetsInterval == 0 {
		cfg.CommitOffsetsInterval = DefaultCommitOffsetsInterval
	}
	if cfg.TriggerTimersInterval == 0 && cfg.FireEvery != 0 {
		cfg.TriggerTimersInterval = cfg.FireEvery
	}
	if cfg.FireEvery == 0 {
		cfg.FireEvery = cfg.TriggerTimersInterval
	}
	if cfg.PersistEvery == 0 {
		cfg.PersistEvery = DefaultPersistEvery
	}
	if cfg.AdditionalPersistCooldown == 0 {
		cfg.AdditionalPersistCooldown = DefaultAdditionalPersistCooldow
	}
	if cfg.CommitOffsetsInterval < 0 || cfg.TriggerTimersInterval < 0 || cfg.FireEvery < 0 ||
		cfg.PersistEvery < 0 || cfg.AdditionalPersistCooldown < 0 {
		panic("flow.Config: durations must not be negative")
	}
	return cfg
}
