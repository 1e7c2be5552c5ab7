package app

import (
	"context"
	"fmt"
	"strings"

	"govrun/internal/budget"
	"govrun/internal/config"
	pprofsvc "govrun/internal/observability/pprof"
	"govrun/internal/reconcile"
	"govrun/internal/schedstore"
	"govrun/internal/schedule"
)

// descriptors materializes the desired-state source from config.
// Invalid entries are kept: the controller rejects them per-id so one bad
// schedule never hides the rest of the sweep.
func descriptors(cfg *config.Config) []schedule.Descriptor {
	out := make([]schedule.Descriptor, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		out = append(out, schedule.Descriptor{
			ID:         s.ID,
			Cron:       s.Cron,
			TimeZone:   s.Timezone,
			Entrypoint: s.Entrypoint,
			ModelID:    s.Model,
			Input:      s.Input,
		})
	}
	return out
}

func storeConfig(c config.StoreConfig) (schedstore.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", c.BusyTimeout)
	if err != nil {
		return schedstore.Config{}, err
	}
	return schedstore.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}, nil
}

func reconcileConfig(c config.ReconcileConfig) (reconcile.Config, error) {
	storeTimeout, err := config.ParseDurationField("reconcile.store_timeout", c.StoreTimeout)
	if err != nil {
		return reconcile.Config{}, err
	}
	retryBase, err := config.ParseDurationField("reconcile.retry_base", c.RetryBase)
	if err != nil {
		return reconcile.Config{}, err
	}
	return reconcile.Config{
		Concurrency:  c.Concurrency,
		StoreTimeout: storeTimeout,
		RetryMax:     c.RetryMax,
		RetryBase:    retryBase,
		RatePerSec:   c.RatePerSec,
	}, nil
}

func pprofConfig(c config.PprofConfig) pprofsvc.Config {
	return pprofsvc.Config{
		Enabled:              c.Enabled,
		Addr:                 c.Addr,
		Token:                c.Token,
		AllowInsecure:        c.AllowInsecure,
		MutexProfileFraction: c.MutexProfileFraction,
		BlockProfileRate:     c.BlockProfileRate,
	}
}

// budgetFromConfig merges a per-schedule override over platform defaults,
// field by field. Zero/omitted override fields inherit the default.
func budgetFromConfig(def config.BudgetConfig, override *config.BudgetConfig) (budget.Budget, error) {
	merged := def
	if override != nil {
		if override.MaxModelCalls > 0 {
			merged.MaxModelCalls = override.MaxModelCalls
		}
		if override.MaxToolInvocations > 0 {
			merged.MaxToolInvocations = override.MaxToolInvocations
		}
		if strings.TrimSpace(override.MaxDuration) != "" {
			merged.MaxDuration = override.MaxDuration
		}
		if override.MaxSpendUSD > 0 {
			merged.MaxSpendUSD = override.MaxSpendUSD
		}
		if override.RequireStablePrefix != nil {
			merged.RequireStablePrefix = override.RequireStablePrefix
		}
		if override.StabilityPenalty > 0 {
			merged.StabilityPenalty = override.StabilityPenalty
		}
	}

	maxDur, err := config.ParseDurationField("budget.max_duration", merged.MaxDuration)
	if err != nil {
		return budget.Budget{}, err
	}
	b := budget.Budget{
		MaxModelCalls:      merged.MaxModelCalls,
		MaxToolInvocations: merged.MaxToolInvocations,
		MaxDuration:        maxDur,
		MaxSpendUSD:        merged.MaxSpendUSD,
		StabilityPenalty:   merged.StabilityPenalty,
	}
	if merged.RequireStablePrefix != nil {
		b.RequireStablePrefix = *merged.RequireStablePrefix
	}
	return b, nil
}

// validate is the config manager's pre-commit hook: every declared schedule
// must materialize into a valid descriptor, and every duration must parse,
// before a reload is accepted.
func validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := storeConfig(cfg.Store); err != nil {
		return err
	}
	if _, err := reconcileConfig(cfg.Reconcile); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("reconcile.interval", cfg.Reconcile.Interval); err != nil {
		return err
	}
	if _, err := budgetFromConfig(cfg.BudgetDefaults, nil); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, s := range cfg.Schedules {
		if seen[s.ID] {
			return fmt.Errorf("duplicate schedule id %q", s.ID)
		}
		seen[s.ID] = true
		d := schedule.Descriptor{
			ID:         s.ID,
			Cron:       s.Cron,
			TimeZone:   s.Timezone,
			Entrypoint: s.Entrypoint,
			ModelID:    s.Model,
			Input:      s.Input,
		}
		if err := d.Validate(); err != nil {
			return err
		}
		if _, err := budgetFromConfig(cfg.BudgetDefaults, s.Budget); err != nil {
			return fmt.Errorf("schedule %q: %w", s.ID, err)
		}
	}
	return nil
}
