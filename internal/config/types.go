package config

// Config is the full on-disk configuration.
//
// The schedules section is the desired-state source: the set of governance
// runs that should exist on the schedule store, re-read on every
// reconciliation pass and on file change.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Trigger   TriggerConfig   `json:"trigger,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`

	// BudgetDefaults applies to every run unless a schedule overrides it.
	BudgetDefaults BudgetConfig `json:"budget_defaults,omitempty"`

	Schedules []ScheduleConfig `json:"schedules"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StoreConfig selects the schedule store driver.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./govrun.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ReconcileConfig controls the reconciliation controller and its sweep loop.
type ReconcileConfig struct {
	// Interval between periodic sweeps. "0s" disables the periodic loop
	// (sweeps then only happen at startup and on config reload).
	Interval string `json:"interval,omitempty"`

	Concurrency  int    `json:"concurrency,omitempty"`
	StoreTimeout string `json:"store_timeout,omitempty"`
	RetryMax     int    `json:"retry_max,omitempty"`
	RetryBase    string `json:"retry_base,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
}

// TriggerConfig controls the local cron trigger engine.
//
// Enabled is a pointer so "omitted" (default true) is distinguishable from an
// explicit false (useful when an external workflow engine owns triggering).
type TriggerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

func (t TriggerConfig) IsEnabled() bool {
	if t.Enabled == nil {
		return true
	}
	return *t.Enabled
}

// DebugConfig holds optional operator tooling. Off by default.
type DebugConfig struct {
	Pprof PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig controls the pprof debug listener. A non-loopback addr
// requires a token or an explicit allow_insecure.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`
	Token                string `json:"token,omitempty"`
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

// BudgetConfig mirrors budget.Budget in config form.
type BudgetConfig struct {
	MaxModelCalls       int     `json:"max_model_calls,omitempty"`
	MaxToolInvocations  int     `json:"max_tool_invocations,omitempty"`
	MaxDuration         string  `json:"max_duration,omitempty"`
	MaxSpendUSD         float64 `json:"max_spend_usd,omitempty"`
	RequireStablePrefix *bool   `json:"require_stable_prefix,omitempty"`
	StabilityPenalty    int     `json:"stability_penalty,omitempty"`
}

// ScheduleConfig declares one desired schedule.
type ScheduleConfig struct {
	ID         string         `json:"id"`
	Cron       string         `json:"cron"`
	Timezone   string         `json:"timezone,omitempty"`
	Entrypoint string         `json:"entrypoint"`
	Model      string         `json:"model"`
	Input      map[string]any `json:"input,omitempty"`

	// Budget overrides budget_defaults field-by-field for this schedule.
	Budget *BudgetConfig `json:"budget,omitempty"`
}
