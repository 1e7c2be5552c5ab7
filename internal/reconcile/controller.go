package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"govrun/internal/eventbus"
	"govrun/internal/schedstore"
	"govrun/internal/schedule"
	logx "govrun/pkg/logx"
)

// Controller converges the schedule store to the desired set.
//
// Reconciliation for one schedule id is strictly serialized inside a
// controller instance (per-id mutex held for the whole
// describe-compare-write); distinct ids reconcile independently and a sweep
// runs them in parallel up to Config.Concurrency.
type Controller struct {
	store   schedstore.Store
	log     logx.Logger
	bus     eventbus.Bus
	cfg     Config
	limiter *rate.Limiter

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(store schedstore.Store, cfg Config, log logx.Logger, bus eventbus.Bus) *Controller {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{
		store:   store,
		log:     log,
		bus:     bus,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		locks:   map[string]*sync.Mutex{},
	}
}

// Reconcile converges one schedule to its desired state.
//
// Semantics:
//   - invalid descriptors fail fast (ErrInvalidDesiredState), nothing is sent
//   - describe failures are retried with bounded backoff, then surfaced as
//     ErrStoreUnavailable with the schedule left untouched (fail-closed)
//   - absent remote: create (ResultCreated)
//   - hash match: no write (ResultUnchanged)
//   - hash mismatch: one total update carrying the full descriptor
//     (ResultUpdated)
//   - create conflict: re-describe once and take the compare/update path; a
//     second disagreement is ErrPersistentConflict
func (c *Controller) Reconcile(ctx context.Context, desired schedule.Descriptor) (Result, error) {
	if err := desired.Validate(); err != nil {
		return ResultError, &Error{ScheduleID: desired.ID, Op: "validate", Err: fmt.Errorf("%w: %v", ErrInvalidDesiredState, err)}
	}

	lock := c.lockFor(desired.ID)
	lock.Lock()
	defer lock.Unlock()

	return c.reconcileLocked(ctx, desired, true)
}

func (c *Controller) reconcileLocked(ctx context.Context, desired schedule.Descriptor, allowConflictRetry bool) (Result, error) {
	remote, err := c.describeWithRetry(ctx, desired.ID)
	if err != nil {
		return ResultError, &Error{ScheduleID: desired.ID, Op: "describe", Err: err}
	}

	spec := writeSpec(desired)

	if !remote.Exists {
		err := c.write(ctx, func(wctx context.Context) error {
			return c.store.Create(wctx, spec)
		})
		switch {
		case err == nil:
			return ResultCreated, nil
		case errors.Is(err, schedstore.ErrConflict):
			// Lost a create race with another writer. Re-describe and take
			// the compare/update path exactly once; looping against a
			// persistently conflicting writer is not our job.
			if !allowConflictRetry {
				return ResultError, &Error{ScheduleID: desired.ID, Op: "create", Err: ErrPersistentConflict}
			}
			c.log.Debug("create raced with another writer, retrying compare path",
				logx.String("schedule", desired.ID))
			return c.reconcileLocked(ctx, desired, false)
		default:
			return ResultError, &Error{ScheduleID: desired.ID, Op: "create", Err: err}
		}
	}

	if remote.ConfigHash == spec.ConfigHash {
		return ResultUnchanged, nil
	}

	err = c.write(ctx, func(wctx context.Context) error {
		return c.store.Update(wctx, spec)
	})
	switch {
	case err == nil:
		return ResultUpdated, nil
	case errors.Is(err, schedstore.ErrNotFound):
		// Existed at describe time, gone at update time: a second writer is
		// actively fighting us.
		return ResultError, &Error{ScheduleID: desired.ID, Op: "update", Err: ErrPersistentConflict}
	default:
		return ResultError, &Error{ScheduleID: desired.ID, Op: "update", Err: err}
	}
}

// Sweep reconciles the full desired set, parallel across ids up to the
// configured concurrency. Per-id outcomes are reported in input order; one
// id's failure never blocks the rest.
func (c *Controller) Sweep(ctx context.Context, desired []schedule.Descriptor) Report {
	rep := Report{Started: time.Now(), Entries: make([]Entry, len(desired))}

	permits := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range desired {
		d := desired[i]
		idx := i

		// Stop picking up new ids once the sweep is cancelled; ids already
		// in flight run to completion so no write is abandoned midway.
		if ctx.Err() != nil {
			rep.Entries[idx] = Entry{ID: d.ID, Result: ResultError, Err: ctx.Err()}
			continue
		}

		permits <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-permits }()
			res, err := c.Reconcile(ctx, d)
			rep.Entries[idx] = Entry{ID: d.ID, Result: res, Err: err}
		}()
	}
	wg.Wait()
	rep.Finished = time.Now()

	for _, e := range rep.Entries {
		switch {
		case e.Err != nil:
			rep.Failed++
			c.log.Warn("schedule reconcile failed",
				logx.String("schedule", e.ID), logx.Err(e.Err))
		case e.Result == ResultCreated:
			rep.Created++
			c.log.Info("schedule created", logx.String("schedule", e.ID))
		case e.Result == ResultUpdated:
			rep.Updated++
			c.log.Info("schedule updated", logx.String("schedule", e.ID))
		default:
			rep.Unchanged++
		}
	}
	c.log.Info("reconcile sweep done",
		logx.Int("total", len(rep.Entries)),
		logx.Int("created", rep.Created),
		logx.Int("updated", rep.Updated),
		logx.Int("unchanged", rep.Unchanged),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Finished.Sub(rep.Started)),
	)
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepDone, Data: rep})
	}
	return rep
}

func (c *Controller) describeWithRetry(ctx context.Context, id string) (schedstore.Remote, error) {
	var lastErr error
	backoff := c.cfg.RetryBase
	for attempt := 0; attempt <= c.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			wait := backoff
			// 20% jitter.
			if j := time.Duration(int64(wait) / 5); j > 0 {
				wait += time.Duration(time.Now().UnixNano() % int64(j+1))
			}
			select {
			case <-ctx.Done():
				return schedstore.Remote{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
			case <-time.After(wait):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return schedstore.Remote{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		dctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
		remote, err := c.store.Describe(dctx, id)
		cancel()
		if err == nil {
			return remote, nil
		}
		// Some drivers report absence as ErrNotFound rather than Exists=false.
		// That is an authoritative answer, not a failure to retry.
		if errors.Is(err, schedstore.ErrNotFound) {
			return schedstore.Remote{ID: id}, nil
		}
		// Timeouts are transient failures, never evidence of non-existence.
		lastErr = err
	}
	return schedstore.Remote{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
}

// write runs a store mutation on a context detached from sweep cancellation
// so shutdown never abandons a write mid-flight and leaves the remote store
// in an undefined intermediate state. The per-call timeout still applies.
func (c *Controller) write(ctx context.Context, fn func(ctx context.Context) error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
	defer cancel()
	if err := c.limiter.Wait(wctx); err != nil {
		return err
	}
	return fn(wctx)
}

func (c *Controller) lockFor(id string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l := c.locks[id]
	if l == nil {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

func writeSpec(d schedule.Descriptor) schedstore.Spec {
	return schedstore.Spec{
		ID:         d.ID,
		Cron:       d.Cron,
		TimeZone:   d.TimeZone,
		Entrypoint: d.Entrypoint,
		Input:      d.Materialize(),
		ConfigHash: d.ConfigHash(),
	}
}
