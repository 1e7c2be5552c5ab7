package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"govrun/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: "memory"},
		BudgetDefaults: config.BudgetConfig{
			MaxModelCalls: 50,
			MaxDuration:   "10m",
			MaxSpendUSD:   25,
		},
		Schedules: []config.ScheduleConfig{
			{
				ID:         "gov-eng",
				Cron:       "0 * * * *",
				Timezone:   "UTC",
				Entrypoint: "governance.session",
				Model:      "model-a",
			},
		},
	}
}

func TestBudgetFromConfigDefaults(t *testing.T) {
	t.Parallel()
	b, err := budgetFromConfig(validConfig().BudgetDefaults, nil)
	if err != nil {
		t.Fatalf("budgetFromConfig: %v", err)
	}
	if b.MaxModelCalls != 50 || b.MaxDuration != 10*time.Minute || b.MaxSpendUSD != 25 {
		t.Fatalf("budget = %+v", b)
	}
	if b.RequireStablePrefix {
		t.Fatal("stable prefix enforcement on by default")
	}
}

func TestBudgetFromConfigOverrideMergesFieldByField(t *testing.T) {
	t.Parallel()
	on := true
	override := &config.BudgetConfig{
		MaxModelCalls:       10,
		RequireStablePrefix: &on,
		StabilityPenalty:    3,
	}
	b, err := budgetFromConfig(validConfig().BudgetDefaults, override)
	if err != nil {
		t.Fatalf("budgetFromConfig: %v", err)
	}
	if b.MaxModelCalls != 10 {
		t.Fatalf("MaxModelCalls = %d, want the override", b.MaxModelCalls)
	}
	if b.MaxDuration != 10*time.Minute || b.MaxSpendUSD != 25 {
		t.Fatalf("unset override fields should inherit defaults: %+v", b)
	}
	if !b.RequireStablePrefix || b.StabilityPenalty != 3 {
		t.Fatalf("stability settings = %v/%d", b.RequireStablePrefix, b.StabilityPenalty)
	}
}

func TestBudgetFromConfigRejectsBadDuration(t *testing.T) {
	t.Parallel()
	def := config.BudgetConfig{MaxDuration: "forever"}
	if _, err := budgetFromConfig(def, nil); err == nil {
		t.Fatal("invalid duration accepted")
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	t.Parallel()
	if err := validate(context.Background(), validConfig()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name: "duplicate schedule id",
			mutate: func(c *config.Config) {
				c.Schedules = append(c.Schedules, c.Schedules[0])
			},
			wantSub: "duplicate schedule id",
		},
		{
			name: "bad cron",
			mutate: func(c *config.Config) {
				c.Schedules[0].Cron = "every tuesday"
			},
			wantSub: "cron",
		},
		{
			name: "bad timezone",
			mutate: func(c *config.Config) {
				c.Schedules[0].Timezone = "Mars/Olympus"
			},
			wantSub: "timezone",
		},
		{
			name: "missing entrypoint",
			mutate: func(c *config.Config) {
				c.Schedules[0].Entrypoint = ""
			},
			wantSub: "entrypoint",
		},
		{
			name: "bad reconcile interval",
			mutate: func(c *config.Config) {
				c.Reconcile.Interval = "often"
			},
			wantSub: "reconcile.interval",
		},
		{
			name: "bad schedule budget",
			mutate: func(c *config.Config) {
				c.Schedules[0].Budget = &config.BudgetConfig{MaxDuration: "long"}
			},
			wantSub: "gov-eng",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := validate(context.Background(), cfg)
			if err == nil {
				t.Fatal("validate accepted a broken config")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestDescriptorsKeepsInvalidEntries(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Schedules = append(cfg.Schedules, config.ScheduleConfig{ID: "broken"})
	descs := descriptors(cfg)
	if len(descs) != 2 {
		t.Fatalf("descriptors = %d, want all entries including invalid ones", len(descs))
	}
	if descs[0].ModelID != "model-a" || descs[1].ID != "broken" {
		t.Fatalf("descs = %+v", descs)
	}
}
