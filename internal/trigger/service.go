package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"govrun/internal/budget"
	"govrun/internal/run"
	"govrun/internal/runtime/supervisor"
	"govrun/internal/schedule"
	logx "govrun/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled bool
}

// BudgetResolver picks the budget for a triggered schedule (per-schedule
// override or platform default).
type BudgetResolver func(desc schedule.Descriptor) budget.Budget

// Service owns the local cron engine that fires reconciled schedules.
//
// Each schedule gets one cron entry in its own timezone (CRON_TZ prefix).
// Firing submits a run to the launcher; overlapping runs of the same
// schedule are allowed, each with its own guard.
type Service struct {
	mu sync.Mutex

	cfg      Config
	log      logx.Logger
	launcher *run.Launcher
	budgets  BudgetResolver

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]cron.EntryID
	sup     *supervisor.Supervisor
	started bool
}

func New(cfg Config, launcher *run.Launcher, budgets BudgetResolver, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		launcher: launcher,
		budgets:  budgets,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries:  map[string]cron.EntryID{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || !s.cfg.Enabled {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser))
	s.entries = map[string]cron.EntryID{}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "trigger"))))
	s.c.Start()
	s.started = true
	s.log.Info("trigger service started")
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.c
	sup := s.sup
	s.c = nil
	s.sup = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c != nil {
		// Let an already-firing entry finish scheduling its run.
		<-c.Stop().Done()
	}
	if sup != nil {
		_ = sup.Stop(ctx)
	}
	s.log.Info("trigger service stopped")
}

// Apply replaces the registered entry set with the given descriptors.
// Called after every successful reconcile sweep so triggers always follow
// the converged desired state.
func (s *Service) Apply(descs []schedule.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	for id, entryID := range s.entries {
		s.c.Remove(entryID)
		delete(s.entries, id)
	}

	for _, d := range descs {
		d := d
		spec := cronSpec(d)
		entryID, err := s.c.AddFunc(spec, func() { s.fire(d) })
		if err != nil {
			// Descriptors are validated before reconciliation; a parse
			// failure here means the validator and trigger disagree.
			s.log.Error("failed to register trigger",
				logx.String("schedule", d.ID), logx.String("spec", spec), logx.Err(err))
			continue
		}
		s.entries[d.ID] = entryID
	}
	s.log.Info("triggers applied", logx.Int("schedules", len(s.entries)))
}

func (s *Service) fire(d schedule.Descriptor) {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return
	}

	b := s.budgets(d)
	sup.Go0(fmt.Sprintf("run.%s", d.ID), func(ctx context.Context) {
		s.launcher.Launch(ctx, d, b)
	})
}

// Entries returns the currently registered schedule ids.
func (s *Service) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}

func cronSpec(d schedule.Descriptor) string {
	if tz := strings.TrimSpace(d.TimeZone); tz != "" {
		return "CRON_TZ=" + tz + " " + d.Cron
	}
	return d.Cron
}
