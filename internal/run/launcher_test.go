package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"govrun/internal/budget"
	"govrun/internal/eventbus"
	"govrun/internal/schedule"
	logx "govrun/pkg/logx"
)

func testDescriptor() schedule.Descriptor {
	return schedule.Descriptor{
		ID:         "gov-eng",
		Cron:       "0 * * * *",
		TimeZone:   "UTC",
		Entrypoint: "governance.session",
		ModelID:    "model-a",
	}
}

func TestLaunchCompletesUnderBudget(t *testing.T) {
	t.Parallel()
	var observed Execution
	runner := RunnerFunc(func(ctx context.Context, ex Execution) error {
		observed = ex
		ex.Guard.ObserveTick(budget.ModelCall{CostUSD: 1, PromptPrefixHash: "p"})
		ex.Guard.ObserveTick(budget.ToolInvocation{})
		return nil
	})
	l := NewLauncher(runner, Config{}, logx.Nop(), nil)

	item := l.Launch(context.Background(), testDescriptor(), budget.Budget{MaxModelCalls: 10})

	if item.Status != budget.StatusCompleted {
		t.Fatalf("status = %s, want completed", item.Status)
	}
	if item.Error != "" || item.Reason != "" {
		t.Fatalf("clean run carries error=%q reason=%q", item.Error, item.Reason)
	}
	if observed.RunID != item.RunID || observed.Schedule.ID != "gov-eng" {
		t.Fatalf("execution %+v does not match history item %+v", observed, item)
	}
	if _, ok := l.Guard(item.RunID); ok {
		t.Fatal("guard still registered after run finished")
	}
}

func TestLaunchAbortCancelsRunContext(t *testing.T) {
	t.Parallel()
	runner := RunnerFunc(func(ctx context.Context, ex Execution) error {
		for i := 0; ; i++ {
			out := ex.Guard.ObserveTick(budget.ModelCall{CostUSD: 1, PromptPrefixHash: "p"})
			if out.Kind == budget.OutcomeAbort {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(2 * time.Second):
					return errors.New("run context not cancelled after abort")
				}
			}
			if i > 100 {
				return errors.New("ceiling never tripped")
			}
		}
	})
	l := NewLauncher(runner, Config{}, logx.Nop(), nil)

	item := l.Launch(context.Background(), testDescriptor(), budget.Budget{MaxModelCalls: 3})

	if item.Status != budget.StatusAborted {
		t.Fatalf("status = %s, want aborted", item.Status)
	}
	if item.Reason == "" {
		t.Fatal("aborted run has no reason")
	}
	// The context cancellation that follows the abort is part of the abort,
	// not an independent failure.
	if item.Error != "" {
		t.Fatalf("abort recorded as error: %q", item.Error)
	}
}

func TestLaunchRecordsRunnerError(t *testing.T) {
	t.Parallel()
	runner := RunnerFunc(func(ctx context.Context, ex Execution) error {
		return errors.New("session transport failed")
	})
	l := NewLauncher(runner, Config{}, logx.Nop(), nil)

	item := l.Launch(context.Background(), testDescriptor(), budget.Budget{})

	if item.Status != budget.StatusCompleted {
		t.Fatalf("status = %s, want completed (runner errors are not aborts)", item.Status)
	}
	if item.Error != "session transport failed" {
		t.Fatalf("error = %q", item.Error)
	}
}

func TestLaunchPublishesLifecycleEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	l := NewLauncher(RunnerFunc(func(ctx context.Context, ex Execution) error {
		return nil
	}), Config{}, logx.Nop(), bus)
	l.Launch(context.Background(), testDescriptor(), budget.Budget{})

	var types []string
	for len(types) < 2 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("got events %v, want started+completed", types)
		}
	}
	if types[0] != eventbus.TypeRunStarted || types[1] != eventbus.TypeRunCompleted {
		t.Fatalf("event order = %v", types)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	l := NewLauncher(RunnerFunc(func(ctx context.Context, ex Execution) error {
		return nil
	}), Config{HistorySize: 3}, logx.Nop(), nil)

	var last HistoryItem
	for i := 0; i < 5; i++ {
		last = l.Launch(context.Background(), testDescriptor(), budget.Budget{})
	}

	hist := l.History()
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[len(hist)-1].RunID != last.RunID {
		t.Fatal("newest run missing from history tail")
	}
	for i, item := range hist {
		if item.RunID == "" || item.ScheduleID != "gov-eng" {
			t.Fatalf("history[%d] = %+v", i, item)
		}
	}
}
