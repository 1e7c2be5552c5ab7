package app

import (
	"context"
	"sync"
	"time"

	"govrun/internal/budget"
	"govrun/internal/config"
	"govrun/internal/eventbus"
	pprofsvc "govrun/internal/observability/pprof"
	"govrun/internal/reconcile"
	"govrun/internal/run"
	"govrun/internal/runtime/supervisor"
	"govrun/internal/schedstore"
	"govrun/internal/schedule"
	"govrun/internal/trigger"
	logx "govrun/pkg/logx"
)

// App wires the platform together: config manager and watcher, schedule
// store, reconciliation controller, cron trigger engine, and run launcher.
type App struct {
	cfgPath string

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store    schedstore.Store
	ctrl     *reconcile.Controller
	launcher *run.Launcher
	trig     *trigger.Service
	prof     *pprofsvc.Service

	sup     *supervisor.Supervisor
	cfgSub  chan *config.Config
	sweepCh chan struct{}

	mu      sync.Mutex
	cfg     *config.Config
	started bool
}

func New(cfgPath string, runner run.Runner) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(validate)

	bus := eventbus.New()

	storeCfg, err := storeConfig(cfg.Store)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := schedstore.Open(storeCfg, log.With(logx.String("comp", "schedstore")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	recCfg, err := reconcileConfig(cfg.Reconcile)
	if err != nil {
		_ = store.Close()
		logs.Close()
		return nil, err
	}
	ctrl := reconcile.New(store, recCfg, log.With(logx.String("comp", "reconcile")), bus)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     bus,
		store:   store,
		ctrl:    ctrl,
		sweepCh: make(chan struct{}, 1),
		cfg:     cfg,
	}

	defBudget, err := budgetFromConfig(cfg.BudgetDefaults, nil)
	if err != nil {
		_ = store.Close()
		logs.Close()
		return nil, err
	}
	a.launcher = run.NewLauncher(runner, run.Config{DefaultBudget: defBudget},
		log.With(logx.String("comp", "launcher")), bus)
	a.trig = trigger.New(trigger.Config{Enabled: cfg.Trigger.IsEnabled()},
		a.launcher, a.budgetFor, log.With(logx.String("comp", "trigger")))
	a.prof = pprofsvc.New(pprofConfig(cfg.Debug.Pprof), log)

	return a, nil
}

func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Launcher() *run.Launcher       { return a.launcher }
func (a *App) Controller() *reconcile.Controller { return a.ctrl }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.cfgSub = a.cfgm.Subscribe(4)

	a.trig.Start(ctx)
	a.prof.Start(ctx)

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go("reconcile.loop", a.reconcileLoop)

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	sup := a.sup
	a.mu.Unlock()

	a.trig.Stop(ctx)
	a.prof.Stop(ctx)
	if sup != nil {
		_ = sup.Stop(ctx)
	}
	if a.cfgSub != nil {
		a.cfgm.Unsubscribe(a.cfgSub)
		a.cfgSub = nil
	}
	err := a.store.Close()
	a.log.Info("stopped")
	a.logs.Close()
	return err
}

// TriggerSweep requests an on-demand reconciliation sweep. Non-blocking;
// coalesces with an already-pending request.
func (a *App) TriggerSweep() {
	select {
	case a.sweepCh <- struct{}{}:
	default:
	}
}

func (a *App) reconcileLoop(ctx context.Context) error {
	// Converge once at startup before any trigger can fire stale state.
	a.sweepAndApply(ctx)

	interval, _ := config.ParseDurationField("reconcile.interval", a.current().Reconcile.Interval)
	var tickCh <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tickCh = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tickCh:
			a.sweepAndApply(ctx)
		case <-a.sweepCh:
			a.sweepAndApply(ctx)
		case cfg, ok := <-a.cfgSub:
			if !ok {
				return nil
			}
			a.applyConfig(cfg)
			a.sweepAndApply(ctx)
		}
	}
}

// sweepAndApply runs one reconciliation sweep over the current desired set
// and re-registers triggers for every schedule that converged.
func (a *App) sweepAndApply(ctx context.Context) {
	cfg := a.current()
	descs := descriptors(cfg)
	rep := a.ctrl.Sweep(ctx, descs)

	converged := make([]schedule.Descriptor, 0, len(descs))
	for i, e := range rep.Entries {
		if e.Err == nil {
			converged = append(converged, descs[i])
		}
	}
	a.trig.Apply(converged)
}

// applyConfig applies a hot-reloaded config to the running services.
// Store driver and controller settings are fixed for the process lifetime;
// changing them requires a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("config reloaded", logx.Int("schedules", len(cfg.Schedules)))
}

func (a *App) current() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// budgetFor resolves the effective budget for a triggered schedule from the
// current config (per-schedule override merged over defaults).
func (a *App) budgetFor(desc schedule.Descriptor) budget.Budget {
	cfg := a.current()
	var override *config.BudgetConfig
	for i := range cfg.Schedules {
		if cfg.Schedules[i].ID == desc.ID {
			override = cfg.Schedules[i].Budget
			break
		}
	}
	b, err := budgetFromConfig(cfg.BudgetDefaults, override)
	if err != nil {
		// Durations were validated at load time; fall back to defaults.
		a.log.Warn("invalid budget override, using defaults",
			logx.String("schedule", desc.ID), logx.Err(err))
		b, _ = budgetFromConfig(cfg.BudgetDefaults, nil)
	}
	return b
}
