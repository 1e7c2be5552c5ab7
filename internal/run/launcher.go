package run

import (
	"context"
	"sync"
	"time"

	"govrun/internal/budget"
	"govrun/internal/eventbus"
	"govrun/internal/idgen"
	"govrun/internal/schedule"
	logx "govrun/pkg/logx"
)

// Execution is what the agent runner receives for one triggered run.
//
// The runner reports every budget-relevant event through Guard.ObserveTick
// and must stop issuing further work once a tick returns OutcomeAbort (the
// run context is cancelled at the same moment).
type Execution struct {
	RunID    string
	Schedule schedule.Descriptor
	Guard    *budget.Guard
}

// Runner executes the actual agent session. The session internals (model
// provider, prompts, transports) are outside this package.
type Runner interface {
	Run(ctx context.Context, ex Execution) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, ex Execution) error

func (f RunnerFunc) Run(ctx context.Context, ex Execution) error { return f(ctx, ex) }

// HistoryItem records one finished run for operator visibility.
type HistoryItem struct {
	RunID      string
	ScheduleID string
	Started    time.Time
	Duration   time.Duration
	Status     budget.Status
	Reason     string // set when aborted
	Error      string // runner error, if any
}

type Config struct {
	HistorySize   int
	DefaultBudget budget.Budget
}

// Launcher starts runs for triggered schedules and wraps each one in a
// budget guard. A guard abort is a terminal run result, never a crash; it
// cancels the run context but leaves already-committed output standing.
type Launcher struct {
	runner Runner
	log    logx.Logger
	bus    eventbus.Bus
	cfg    Config

	mu     sync.Mutex
	active map[string]*budget.Guard

	hmu     sync.Mutex
	history []HistoryItem
}

func NewLauncher(runner Runner, cfg Config, log logx.Logger, bus eventbus.Bus) *Launcher {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Launcher{
		runner: runner,
		log:    log,
		bus:    bus,
		cfg:    cfg,
		active: map[string]*budget.Guard{},
	}
}

// AttachGuard creates and registers the budget guard for a run.
func (l *Launcher) AttachGuard(runID string, b budget.Budget) *budget.Guard {
	g := budget.NewGuard(runID, b, l.log)
	l.mu.Lock()
	l.active[runID] = g
	l.mu.Unlock()
	return g
}

// Guard returns the guard of an active run, if any.
func (l *Launcher) Guard(runID string) (*budget.Guard, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.active[runID]
	return g, ok
}

// Launch executes one run synchronously: new run id, guard attached, runner
// invoked under a context that is cancelled the moment the guard aborts.
// It returns the run's history record; runner errors and budget aborts are
// reported there, not raised.
func (l *Launcher) Launch(ctx context.Context, desc schedule.Descriptor, b budget.Budget) HistoryItem {
	if b == (budget.Budget{}) {
		b = l.cfg.DefaultBudget
	}
	runID := idgen.NewRunID()
	guard := l.AttachGuard(runID, b)
	log := l.log.With(logx.String("run", runID), logx.String("schedule", desc.ID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Abort signal -> cancellation request. Delivered at most once per run
	// by construction (the guard closes its abort channel exactly once).
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-guard.Aborted():
			cancel()
		case <-stopWatch:
		}
	}()

	started := time.Now()
	log.Info("run started", logx.String("entrypoint", desc.Entrypoint), logx.String("model", desc.ModelID))
	l.publish(eventbus.TypeRunStarted, HistoryItem{RunID: runID, ScheduleID: desc.ID, Started: started, Status: budget.StatusActive})

	err := l.runner.Run(runCtx, Execution{RunID: runID, Schedule: desc, Guard: guard})
	close(stopWatch)

	// Normal finish; loses silently against an in-flight abort.
	guard.Complete()

	item := HistoryItem{
		RunID:      runID,
		ScheduleID: desc.ID,
		Started:    started,
		Duration:   time.Since(started),
		Status:     guard.Status(),
	}
	if r := guard.AbortReason(); r != nil {
		item.Reason = r.String()
	}
	if err != nil && item.Status != budget.StatusAborted {
		item.Error = err.Error()
	}

	switch item.Status {
	case budget.StatusAborted:
		log.Warn("run aborted: budget exceeded", logx.String("reason", item.Reason), logx.Duration("took", item.Duration))
		l.publish(eventbus.TypeRunAborted, item)
	default:
		if item.Error != "" {
			log.Warn("run finished with error", logx.String("err", item.Error), logx.Duration("took", item.Duration))
		} else {
			log.Info("run completed", logx.Duration("took", item.Duration))
		}
		l.publish(eventbus.TypeRunCompleted, item)
	}

	l.mu.Lock()
	delete(l.active, runID)
	l.mu.Unlock()

	l.record(item)
	return item
}

func (l *Launcher) publish(typ string, item HistoryItem) {
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: typ, Data: item})
	}
}

func (l *Launcher) record(item HistoryItem) {
	l.hmu.Lock()
	defer l.hmu.Unlock()
	l.history = append(l.history, item)
	if len(l.history) > l.cfg.HistorySize {
		l.history = l.history[len(l.history)-l.cfg.HistorySize:]
	}
}

// History returns a copy of the recorded run outcomes, oldest first.
func (l *Launcher) History() []HistoryItem {
	l.hmu.Lock()
	defer l.hmu.Unlock()
	out := make([]HistoryItem, len(l.history))
	copy(out, l.history)
	return out
}
