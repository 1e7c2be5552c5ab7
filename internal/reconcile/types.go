package reconcile

import (
	"errors"
	"fmt"
	"time"
)

// Result is the per-schedule outcome of one reconcile call.
type Result string

const (
	// ResultCreated: the schedule did not exist remotely and was created.
	ResultCreated Result = "created"
	// ResultUpdated: the remote configuration was stale and was replaced.
	ResultUpdated Result = "updated"
	// ResultUnchanged: remote already matches desired; no write was issued.
	ResultUnchanged Result = "unchanged"
	// ResultError: reconciliation failed; see Entry.Err.
	ResultError Result = "error"
)

// ErrStoreUnavailable means the schedule store could not be read or written
// after exhausting retries. The schedule is left untouched: a failed read is
// never treated as evidence of absence.
var ErrStoreUnavailable = errors.New("schedule store unavailable")

// ErrPersistentConflict means the remote state kept disagreeing after the
// single bounded conflict retry. Repeated conflict implies a second writer
// (or a modeling bug) and is surfaced rather than auto-resolved.
var ErrPersistentConflict = errors.New("persistent schedule conflict")

// ErrInvalidDesiredState means the desired descriptor is missing a required
// field. It fails fast and is never sent to the remote store.
var ErrInvalidDesiredState = errors.New("invalid desired schedule state")

// Error wraps a per-schedule reconciliation failure with its identity and
// the remote operation that failed.
type Error struct {
	ScheduleID string
	Op         string // "describe" | "create" | "update" | "validate"
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reconcile %s: %s: %v", e.ScheduleID, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Entry is one row of a sweep's per-schedule outcome table.
type Entry struct {
	ID     string
	Result Result
	Err    error
}

// Report summarizes one full sweep over the desired set.
//
// One schedule's failure never fails the sweep; callers inspect Entries for
// per-id outcomes.
type Report struct {
	Started  time.Time
	Finished time.Time
	Entries  []Entry

	Created   int
	Updated   int
	Unchanged int
	Failed    int
}

// Config controls the controller's remote-call and sweep behavior.
//
// All zero values get conservative defaults in New.
type Config struct {
	// Concurrency bounds how many schedule ids reconcile in parallel
	// during a sweep.
	Concurrency int
	// StoreTimeout applies to each individual describe/create/update call.
	StoreTimeout time.Duration
	// RetryMax is the number of describe retries after the first attempt.
	RetryMax int
	// RetryBase is the initial backoff between describe retries.
	RetryBase time.Duration
	// RatePerSec limits aggregate remote store calls across the sweep.
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	return c
}
