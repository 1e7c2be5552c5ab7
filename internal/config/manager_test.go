package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
store:
  driver: sqlite
  path: ./govrun.db
  busy_timeout: 2s
reconcile:
  interval: 5m
  concurrency: 8
budget_defaults:
  max_model_calls: 50
  max_spend_usd: 25.5
schedules:
  - id: gov-eng
    cron: "0 * * * *"
    timezone: America/New_York
    entrypoint: governance.session
    model: model-a
    input:
      channel: eng
    budget:
      max_model_calls: 10
`

func writeTempConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTempConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.BusyTimeout != "2s" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Reconcile.Interval != "5m" || cfg.Reconcile.Concurrency != 8 {
		t.Fatalf("reconcile = %+v", cfg.Reconcile)
	}
	if cfg.BudgetDefaults.MaxModelCalls != 50 || cfg.BudgetDefaults.MaxSpendUSD != 25.5 {
		t.Fatalf("budget defaults = %+v", cfg.BudgetDefaults)
	}
	if len(cfg.Schedules) != 1 {
		t.Fatalf("schedules = %d", len(cfg.Schedules))
	}
	s := cfg.Schedules[0]
	if s.ID != "gov-eng" || s.Timezone != "America/New_York" || s.Model != "model-a" {
		t.Fatalf("schedule = %+v", s)
	}
	if s.Input["channel"] != "eng" {
		t.Fatalf("input = %+v", s.Input)
	}
	if s.Budget == nil || s.Budget.MaxModelCalls != 10 {
		t.Fatalf("budget override = %+v", s.Budget)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTempConfig(t, "config.yaml", "schedules: []\nsurprise: true\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTempConfig(t, "config.json", `{"schedules":[]}{"schedules":[]}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("concatenated JSON documents accepted")
	}
}

func TestLoadCommitsForGet(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTempConfig(t, "config.yaml", sampleYAML))
	if m.Get() != nil {
		t.Fatal("Get before Load returned a config")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the committed config")
	}
}

func TestPublishKeepsNewestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	old := &Config{Logging: LoggingConfig{Level: "info"}}
	newest := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.publish(old)
	m.publish(newest) // buffer full: the stale entry is dropped

	got := <-ch
	if got != newest {
		t.Fatalf("received level %q, want the newest config", got.Logging.Level)
	}
}

func TestConfigHashTracksContent(t *testing.T) {
	t.Parallel()
	a := &Config{Schedules: []ScheduleConfig{{ID: "s1", Cron: "0 * * * *"}}}
	b := &Config{Schedules: []ScheduleConfig{{ID: "s1", Cron: "0 * * * *"}}}
	c := &Config{Schedules: []ScheduleConfig{{ID: "s1", Cron: "*/5 * * * *"}}}

	if hashConfig(a) != hashConfig(b) {
		t.Fatal("identical configs hash differently")
	}
	if hashConfig(a) == hashConfig(c) {
		t.Fatal("semantic change not reflected in hash")
	}
}

func TestTriggerEnabledDefaultsTrue(t *testing.T) {
	t.Parallel()
	if !(TriggerConfig{}).IsEnabled() {
		t.Fatal("omitted trigger.enabled should default to true")
	}
	off := false
	if (TriggerConfig{Enabled: &off}).IsEnabled() {
		t.Fatal("explicit false ignored")
	}
}

func TestWatchPublishesValidatedChange(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		return nil
	})
	ch := m.Subscribe(2)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to attach before mutating the file.
	time.Sleep(300 * time.Millisecond)
	updated := sampleYAML + "trigger:\n  enabled: false\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Trigger.IsEnabled() {
			t.Fatal("published config missing the change")
		}
		if m.Get() != cfg {
			t.Fatal("published config was not committed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after file change")
	}

	cancel()
	<-done
}
