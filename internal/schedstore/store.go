package schedstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Update/Pause/Resume when the target schedule
// does not exist.
//
// Describe reports absence as an outcome, not a failure: drivers either
// return Remote with Exists=false (the in-tree drivers do) or return
// ErrNotFound. Callers treat both as authoritative absence.
var ErrNotFound = errors.New("schedule not found")

// ErrConflict is returned by Create when a schedule with the same id already
// exists (possibly written by another process).
var ErrConflict = errors.New("schedule already exists")

// Remote is the live state of one schedule as reported by a describe call.
//
// The store owns this state; controllers only read it and propose writes.
// Another operator or process may write concurrently, so Remote must never be
// cached across reconciliation passes.
type Remote struct {
	ID         string
	ConfigHash string
	Paused     bool
	Exists     bool
}

// Spec is the full write payload for create/update.
//
// Updates are total: a Spec always carries every configuration field so that
// a describe after the write yields exactly the desired state. Partial
// patches are not representable on purpose.
type Spec struct {
	ID         string
	Cron       string
	TimeZone   string
	Entrypoint string
	Input      map[string]any
	ConfigHash string
}

// Store is the remote durable scheduler boundary.
//
// Any concrete scheduler (a managed workflow engine, a cron service, the
// local sqlite driver in this package) can sit behind it; its trigger and
// dispatch mechanics are opaque to callers.
type Store interface {
	Describe(ctx context.Context, id string) (Remote, error)
	Create(ctx context.Context, spec Spec) error
	Update(ctx context.Context, spec Spec) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Close() error
}

// Config selects and configures a store driver.
//
// Driver values:
//   - "memory": in-process map (tests, ephemeral deployments)
//   - "sqlite": durable SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
