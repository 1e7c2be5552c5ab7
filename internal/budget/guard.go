package budget

import (
	"fmt"
	"sync"
	"time"

	logx "govrun/pkg/logx"
)

// OutcomeKind classifies the guard's answer to one tick.
type OutcomeKind int

const (
	// OutcomeContinue: the run is still under budget.
	OutcomeContinue OutcomeKind = iota
	// OutcomeAbort: this tick crossed a ceiling. Returned exactly once per
	// run; the caller must stop further work for the run.
	OutcomeAbort
	// OutcomeAlreadyTerminal: the run had already completed or aborted.
	// The event was logged and discarded.
	OutcomeAlreadyTerminal
)

// Outcome is the result of observing one tick.
type Outcome struct {
	Kind   OutcomeKind
	Reason *Reason
}

// Reason says which ceiling tripped, its observed value, and the configured
// ceiling, so "too many calls" is distinguishable from "too slow" or "too
// expensive" without re-deriving from raw logs.
type Reason struct {
	Limit   Limit
	Value   float64
	Ceiling float64
}

func (r Reason) String() string {
	return fmt.Sprintf("%s: %v > %v", r.Limit, r.Value, r.Ceiling)
}

// Guard bounds the resource consumption of exactly one run.
//
// It is a single-writer state machine that tolerates ticks arriving from
// multiple concurrent sources: counter updates and the terminal transition
// are one atomic unit under the mutex, so at most one caller ever receives
// OutcomeAbort. The guard only signals; cancelling the underlying execution
// is the launcher's job.
type Guard struct {
	runID string
	b     Budget
	log   logx.Logger

	mu         sync.Mutex
	modelCalls int // weighted: stability violations count extra
	toolCalls  int
	elapsed    time.Duration
	spendUSD   float64

	prefixHash string
	prefixSet  bool
	violations int

	status Status
	reason *Reason

	abortCh chan struct{}
}

// Snapshot is a read-only view of the guard's counters.
type Snapshot struct {
	RunID               string
	Status              Status
	ModelCalls          int
	ToolInvocations     int
	Elapsed             time.Duration
	SpendUSD            float64
	StabilityViolations int
	Reason              *Reason
}

func NewGuard(runID string, b Budget, log logx.Logger) *Guard {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Guard{
		runID:   runID,
		b:       b,
		log:     log.With(logx.String("run", runID)),
		abortCh: make(chan struct{}),
	}
}

func (g *Guard) RunID() string { return g.runID }

// Aborted is closed at most once, when a ceiling breach (or explicit abort)
// transitions the run to Aborted. It doubles as the launcher's cancellation
// signal.
func (g *Guard) Aborted() <-chan struct{} { return g.abortCh }

// ObserveTick applies one event: increment the matching counters, then check
// every ceiling. Ceilings are evaluated on each tick rather than polled
// because ticks are the exact events that consume budget.
func (g *Guard) ObserveTick(ev TickEvent) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusActive {
		g.log.Debug("tick after terminal state ignored",
			logx.String("status", g.status.String()))
		return Outcome{Kind: OutcomeAlreadyTerminal}
	}

	switch e := ev.(type) {
	case ModelCall:
		weight := 1
		if !g.prefixSet {
			g.prefixSet = true
			g.prefixHash = e.PromptPrefixHash
		} else if g.b.RequireStablePrefix && e.PromptPrefixHash != g.prefixHash {
			// A shrinking or unstable cached prefix is the leading indicator
			// of a call storm, not proof of one: weight it against the call
			// ceiling instead of aborting outright.
			g.violations++
			weight += g.b.penalty()
			g.log.Warn("unstable prompt prefix",
				logx.Int("violations", g.violations),
				logx.Int("weight", weight))
		}
		g.modelCalls += weight
		g.spendUSD += e.CostUSD
	case ToolInvocation:
		g.toolCalls++
	case TimeElapsed:
		if e.D > 0 {
			g.elapsed += e.D
		}
	}

	if r := g.breachedLocked(); r != nil {
		g.status = StatusAborted
		g.reason = r
		close(g.abortCh)
		g.log.Warn("run budget exceeded",
			logx.String("limit", string(r.Limit)),
			logx.Float64("value", r.Value),
			logx.Float64("ceiling", r.Ceiling))
		return Outcome{Kind: OutcomeAbort, Reason: r}
	}
	return Outcome{Kind: OutcomeContinue}
}

// breachedLocked checks ceilings in a fixed order so concurrent breaches
// report deterministically.
func (g *Guard) breachedLocked() *Reason {
	if g.b.MaxModelCalls > 0 && g.modelCalls > g.b.MaxModelCalls {
		return &Reason{Limit: LimitModelCalls, Value: float64(g.modelCalls), Ceiling: float64(g.b.MaxModelCalls)}
	}
	if g.b.MaxToolInvocations > 0 && g.toolCalls > g.b.MaxToolInvocations {
		return &Reason{Limit: LimitToolInvocations, Value: float64(g.toolCalls), Ceiling: float64(g.b.MaxToolInvocations)}
	}
	if g.b.MaxDuration > 0 && g.elapsed > g.b.MaxDuration {
		return &Reason{Limit: LimitDuration, Value: g.elapsed.Seconds(), Ceiling: g.b.MaxDuration.Seconds()}
	}
	if g.b.MaxSpendUSD > 0 && g.spendUSD > g.b.MaxSpendUSD {
		return &Reason{Limit: LimitSpend, Value: g.spendUSD, Ceiling: g.b.MaxSpendUSD}
	}
	return nil
}

// Complete marks the run finished under budget. It is a no-op when the run is
// already terminal: whichever of Complete or an in-flight abort applies first
// wins, and the loser is silently discarded.
func (g *Guard) Complete() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusActive {
		return
	}
	g.status = StatusCompleted
}

// Status returns the current state-machine position.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// AbortReason returns the ceiling that tripped, or nil if the run has not
// aborted.
func (g *Guard) AbortReason() *Reason {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Snapshot returns a consistent view of the counters.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		RunID:               g.runID,
		Status:              g.status,
		ModelCalls:          g.modelCalls,
		ToolInvocations:     g.toolCalls,
		Elapsed:             g.elapsed,
		SpendUSD:            g.spendUSD,
		StabilityViolations: g.violations,
		Reason:              g.reason,
	}
}
