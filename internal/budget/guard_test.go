package budget

import (
	"sync"
	"testing"
	"time"

	logx "govrun/pkg/logx"
)

func TestGuardCallCeilingScenario(t *testing.T) {
	t.Parallel()
	// Six calls at $2 against {5 calls, $10}: the call ceiling trips first
	// at event six even though spend would also project past its ceiling.
	g := NewGuard("r1", Budget{MaxModelCalls: 5, MaxSpendUSD: 10}, logx.Nop())

	for i := 0; i < 5; i++ {
		out := g.ObserveTick(ModelCall{CostUSD: 2, PromptPrefixHash: "p"})
		if out.Kind != OutcomeContinue {
			t.Fatalf("tick %d: kind = %v, want continue", i+1, out.Kind)
		}
	}
	out := g.ObserveTick(ModelCall{CostUSD: 2, PromptPrefixHash: "p"})
	if out.Kind != OutcomeAbort {
		t.Fatalf("tick 6: kind = %v, want abort", out.Kind)
	}
	if out.Reason == nil || out.Reason.Limit != LimitModelCalls {
		t.Fatalf("reason = %+v, want %s", out.Reason, LimitModelCalls)
	}
	if out.Reason.Value != 6 || out.Reason.Ceiling != 5 {
		t.Fatalf("reason values = %v/%v, want 6/5", out.Reason.Value, out.Reason.Ceiling)
	}
	if g.Status() != StatusAborted {
		t.Fatalf("status = %s, want aborted", g.Status())
	}
}

func TestGuardTerminalStateIsSticky(t *testing.T) {
	t.Parallel()
	g := NewGuard("r1", Budget{MaxModelCalls: 1}, logx.Nop())

	g.ObserveTick(ModelCall{})
	if out := g.ObserveTick(ModelCall{}); out.Kind != OutcomeAbort {
		t.Fatalf("kind = %v, want abort", out.Kind)
	}

	before := g.Snapshot()
	for i := 0; i < 5; i++ {
		if out := g.ObserveTick(ModelCall{CostUSD: 99}); out.Kind != OutcomeAlreadyTerminal {
			t.Fatalf("post-terminal tick kind = %v, want already-terminal", out.Kind)
		}
	}
	g.Complete() // must not resurrect the run
	after := g.Snapshot()

	if after.Status != StatusAborted {
		t.Fatalf("status = %s, want aborted (terminal states are sticky)", after.Status)
	}
	if after.ModelCalls != before.ModelCalls || after.SpendUSD != before.SpendUSD {
		t.Fatal("counters mutated after terminal state")
	}
}

func TestGuardAbortDeliveredAtMostOnce(t *testing.T) {
	t.Parallel()
	g := NewGuard("r1", Budget{MaxModelCalls: 3}, logx.Nop())

	const n = 32
	var wg sync.WaitGroup
	aborts := make(chan Outcome, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			aborts <- g.ObserveTick(ModelCall{})
		}()
	}
	close(start)
	wg.Wait()
	close(aborts)

	var abortCount, terminalCount int
	for out := range aborts {
		switch out.Kind {
		case OutcomeAbort:
			abortCount++
		case OutcomeAlreadyTerminal:
			terminalCount++
		}
	}
	if abortCount != 1 {
		t.Fatalf("aborts = %d, want exactly 1 across all concurrent callers", abortCount)
	}
	if terminalCount != n-4 {
		t.Fatalf("already-terminal = %d, want %d", terminalCount, n-4)
	}

	select {
	case <-g.Aborted():
	default:
		t.Fatal("abort channel not closed")
	}
}

func TestGuardCompleteWinsRaceAgainstLaterTicks(t *testing.T) {
	t.Parallel()
	g := NewGuard("r1", Budget{MaxModelCalls: 1}, logx.Nop())
	g.Complete()

	if out := g.ObserveTick(ModelCall{}); out.Kind != OutcomeAlreadyTerminal {
		t.Fatalf("kind = %v, want already-terminal after complete", out.Kind)
	}
	if g.Status() != StatusCompleted {
		t.Fatalf("status = %s, want completed (first terminal transition wins)", g.Status())
	}
	select {
	case <-g.Aborted():
		t.Fatal("abort signal fired for a completed run")
	default:
	}
}

func TestGuardStabilityViolationAcceleratesCallCeiling(t *testing.T) {
	t.Parallel()
	b := Budget{MaxModelCalls: 5, RequireStablePrefix: true, StabilityPenalty: 2}
	g := NewGuard("r1", b, logx.Nop())

	// First call records the prefix; second call with a different prefix
	// counts 1 + penalty = 3. Weighted total after two events: 4.
	g.ObserveTick(ModelCall{PromptPrefixHash: "stable"})
	out := g.ObserveTick(ModelCall{PromptPrefixHash: "shrunk"})
	if out.Kind != OutcomeContinue {
		t.Fatalf("kind = %v, want continue (violation alone is not an abort)", out.Kind)
	}
	snap := g.Snapshot()
	if snap.ModelCalls != 4 || snap.StabilityViolations != 1 {
		t.Fatalf("modelCalls=%d violations=%d, want 4/1", snap.ModelCalls, snap.StabilityViolations)
	}

	// One more unstable call: 4 + 3 = 7 > 5.
	out = g.ObserveTick(ModelCall{PromptPrefixHash: "shrunk again"})
	if out.Kind != OutcomeAbort || out.Reason.Limit != LimitModelCalls {
		t.Fatalf("out = %+v, want abort on %s", out, LimitModelCalls)
	}
}

func TestGuardPrefixIgnoredWhenNotRequired(t *testing.T) {
	t.Parallel()
	g := NewGuard("r1", Budget{MaxModelCalls: 10}, logx.Nop())
	g.ObserveTick(ModelCall{PromptPrefixHash: "a"})
	g.ObserveTick(ModelCall{PromptPrefixHash: "b"})
	snap := g.Snapshot()
	if snap.ModelCalls != 2 || snap.StabilityViolations != 0 {
		t.Fatalf("modelCalls=%d violations=%d, want 2/0", snap.ModelCalls, snap.StabilityViolations)
	}
}

func TestGuardDurationAndSpendCeilings(t *testing.T) {
	t.Parallel()

	g := NewGuard("slow", Budget{MaxDuration: time.Minute}, logx.Nop())
	g.ObserveTick(TimeElapsed{D: 59 * time.Second})
	out := g.ObserveTick(TimeElapsed{D: 2 * time.Second})
	if out.Kind != OutcomeAbort || out.Reason.Limit != LimitDuration {
		t.Fatalf("out = %+v, want abort on %s", out, LimitDuration)
	}

	g = NewGuard("pricey", Budget{MaxSpendUSD: 5}, logx.Nop())
	g.ObserveTick(ModelCall{CostUSD: 3})
	out = g.ObserveTick(ModelCall{CostUSD: 3})
	if out.Kind != OutcomeAbort || out.Reason.Limit != LimitSpend {
		t.Fatalf("out = %+v, want abort on %s", out, LimitSpend)
	}

	g = NewGuard("tools", Budget{MaxToolInvocations: 2}, logx.Nop())
	g.ObserveTick(ToolInvocation{})
	g.ObserveTick(ToolInvocation{})
	out = g.ObserveTick(ToolInvocation{})
	if out.Kind != OutcomeAbort || out.Reason.Limit != LimitToolInvocations {
		t.Fatalf("out = %+v, want abort on %s", out, LimitToolInvocations)
	}
}

func TestGuardZeroCeilingsNeverAbort(t *testing.T) {
	t.Parallel()
	g := NewGuard("r1", Budget{}, logx.Nop())
	for i := 0; i < 100; i++ {
		if out := g.ObserveTick(ModelCall{CostUSD: 10}); out.Kind != OutcomeContinue {
			t.Fatalf("kind = %v, want continue with no ceilings configured", out.Kind)
		}
	}
}
