package budget

import "time"

// Budget is the per-run ceiling configuration, attached at run launch and
// immutable for the run's lifetime.
//
// A zero ceiling disables that particular limit.
type Budget struct {
	MaxModelCalls      int
	MaxToolInvocations int
	MaxDuration        time.Duration
	MaxSpendUSD        float64

	// RequireStablePrefix treats a changing prompt-prefix hash across model
	// calls as an accelerating signal of an uncontrolled loop.
	RequireStablePrefix bool

	// StabilityPenalty is the extra weight added to the model-call counter
	// for each call whose prefix hash differs from the one recorded on the
	// first call. Escalation stays linear; how fast it should grow is a
	// tuning decision, so the weight is config, not a constant.
	// Values <= 0 mean 1.
	StabilityPenalty int
}

func (b Budget) penalty() int {
	if b.StabilityPenalty <= 0 {
		return 1
	}
	return b.StabilityPenalty
}

// Limit identifies which ceiling tripped an abort.
type Limit string

const (
	LimitModelCalls      Limit = "max_model_calls"
	LimitToolInvocations Limit = "max_tool_invocations"
	LimitDuration        Limit = "max_duration"
	LimitSpend           Limit = "max_spend_usd"
)

// Status is the run's terminal-state machine position. Terminal states are
// sticky: once a run leaves Active it never returns.
type Status int

const (
	StatusActive Status = iota
	StatusCompleted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TickEvent is one discrete, budget-relevant event within a run.
type TickEvent interface{ isTick() }

// ModelCall is one model invocation: its cost and the hash of the stable
// prompt prefix it was issued with.
type ModelCall struct {
	CostUSD          float64
	PromptPrefixHash string
}

// ToolInvocation is one tool call made by the run.
type ToolInvocation struct{}

// TimeElapsed reports wall time consumed since the previous time checkpoint.
type TimeElapsed struct {
	D time.Duration
}

func (ModelCall) isTick()      {}
func (ToolInvocation) isTick() {}
func (TimeElapsed) isTick()    {}
