package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verdict-labs/verdict-go/internal/dispatch"
	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/execution/state"
	"github.com/verdict-labs/verdict-go/internal/execution/stream"
)

type testCaps struct {
	target func(ctx context.Context, cell domain.ExecutionCell) (domain.TargetResult, error)
	eval   func(ctx context.Context, cell domain.ExecutionCell, evaluatorID string, output any) (domain.EvaluatorResult, error)
}

func (c *testCaps) RunTarget(ctx context.Context, cell domain.ExecutionCell) (domain.TargetResult, error) {
	return c.target(ctx, cell)
}

func (c *testCaps) RunEvaluator(ctx context.Context, cell domain.ExecutionCell, evaluatorID string, output any) (domain.EvaluatorResult, error) {
	if c.eval == nil {
		return domain.EvaluatorResult{}, nil
	}
	return c.eval(ctx, cell, evaluatorID, output)
}

type testSink struct {
	mu            sync.Mutex
	cmds          []dispatch.Command
	failAll       bool
	panicOnTarget bool
}

func (s *testSink) Notify(cmd dispatch.Command, onFailure func()) {
	if s.panicOnTarget && cmd.Type == dispatch.CommandTargetResult {
		panic("pipeline sink exploded")
	}
	s.mu.Lock()
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()
	if s.failAll && onFailure != nil {
		onFailure()
	}
}

func (s *testSink) commands() []dispatch.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.Command(nil), s.cmds...)
}

func echoCells(rows int, evaluators []domain.EvaluatorConfig) []domain.ExecutionCell {
	cells := make([]domain.ExecutionCell, 0, rows)
	for i := range rows {
		cells = append(cells, domain.ExecutionCell{
			RowIndex:   i,
			TargetID:   "echo",
			Target:     domain.TargetConfig{ID: "echo", Kind: "echo"},
			Evaluators: evaluators,
			Row:        domain.Row{"input": fmt.Sprintf("in-%d", i), "expected": "in-0"},
		})
	}
	return cells
}

func runScheduler(t *testing.T, caps Capabilities, sink commandSink, cells []domain.ExecutionCell, concurrency int) (*state.Store, []stream.Event) {
	t.Helper()

	store, err := state.NewStore("run-1", domain.ExecutionRequest{ProjectID: "proj-1"}, cells)
	if err != nil {
		t.Fatalf("NewStore() err=%v", err)
	}
	st := stream.New()
	scheduler := NewScheduler(caps, sink, slog.New(slog.DiscardHandler))
	scheduler.Run(context.Background(), store, st, cells, concurrency)

	var events []stream.Event
	for event := range st.Events() {
		events = append(events, event)
	}
	return store, events
}

func eventsOfType(events []stream.Event, eventType string) []stream.Event {
	var out []stream.Event
	for _, event := range events {
		if event.EventType() == eventType {
			out = append(out, event)
		}
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	caps := &testCaps{
		target: func(_ context.Context, cell domain.ExecutionCell) (domain.TargetResult, error) {
			return domain.TargetResult{Output: cell.Row["input"]}, nil
		},
		eval: func(_ context.Context, cell domain.ExecutionCell, _ string, output any) (domain.EvaluatorResult, error) {
			passed := output == cell.Row["expected"]
			return domain.EvaluatorResult{Passed: &passed}, nil
		},
	}
	sink := &testSink{}
	evaluators := []domain.EvaluatorConfig{{ID: "exact_match", Kind: "exact_match"}}

	store, events := runScheduler(t, caps, sink, echoCells(2, evaluators), 1)

	if events[0].EventType() != stream.TypeExecutionStarted {
		t.Fatalf("first event=%s, want execution_started", events[0].EventType())
	}
	last := events[len(events)-1]
	done, ok := last.(stream.Done)
	if !ok {
		t.Fatalf("last event=%s, want done", last.EventType())
	}
	if done.Summary.CompletedCells != 2 || done.Summary.FailedCells != 0 {
		t.Fatalf("summary=%+v", done.Summary)
	}

	if got := eventsOfType(events, stream.TypeTargetResult); len(got) != 2 {
		t.Fatalf("target_result events=%d, want 2", len(got))
	}
	evalEvents := eventsOfType(events, stream.TypeEvaluatorResult)
	if len(evalEvents) != 2 {
		t.Fatalf("evaluator_result events=%d, want 2", len(evalEvents))
	}
	first := evalEvents[0].(stream.EvaluatorResult)
	second := evalEvents[1].(stream.EvaluatorResult)
	if first.Result.Passed == nil || !*first.Result.Passed {
		t.Fatalf("row 0 should pass exact match")
	}
	if second.Result.Passed == nil || *second.Result.Passed {
		t.Fatalf("row 1 should fail exact match")
	}

	progress := eventsOfType(events, stream.TypeProgress)
	final := progress[len(progress)-1].(stream.Progress)
	if final.Completed != 2 || final.Total != 2 {
		t.Fatalf("final progress=%d/%d, want 2/2", final.Completed, final.Total)
	}

	if store.Status() != domain.RunCompleted {
		t.Fatalf("status=%s, want completed", store.Status())
	}

	var types []dispatch.CommandType
	for _, cmd := range sink.commands() {
		types = append(types, cmd.Type)
	}
	if types[0] != dispatch.CommandStartRun || types[len(types)-1] != dispatch.CommandCompleteRun {
		t.Fatalf("dispatch order=%v", types)
	}
}

func TestConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int64
	caps := &testCaps{
		target: func(context.Context, domain.ExecutionCell) (domain.TargetResult, error) {
			current := inFlight.Add(1)
			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return domain.TargetResult{Output: "ok"}, nil
		},
	}

	store, _ := runScheduler(t, caps, &testSink{}, echoCells(10, nil), 2)

	if peak.Load() > 2 {
		t.Fatalf("peak in-flight=%d, bound was 2", peak.Load())
	}
	completed, failed, total := store.Progress()
	if completed != 10 || failed != 0 || total != 10 {
		t.Fatalf("Progress()=(%d,%d,%d)", completed, failed, total)
	}
}

func TestTargetFailureIsolatedToCell(t *testing.T) {
	caps := &testCaps{
		target: func(_ context.Context, cell domain.ExecutionCell) (domain.TargetResult, error) {
			if cell.RowIndex == 1 {
				return domain.TargetResult{}, fmt.Errorf("model unavailable")
			}
			return domain.TargetResult{Output: "ok"}, nil
		},
		eval: func(context.Context, domain.ExecutionCell, string, any) (domain.EvaluatorResult, error) {
			passed := true
			return domain.EvaluatorResult{Passed: &passed}, nil
		},
	}
	evaluators := []domain.EvaluatorConfig{{ID: "em", Kind: "exact_match"}}

	store, events := runScheduler(t, caps, &testSink{}, echoCells(3, evaluators), 1)

	snap := store.Snapshot()
	failedCell := snap.Cells["1-echo"]
	if failedCell.Status != domain.CellError || failedCell.Error != "model unavailable" {
		t.Fatalf("failed cell=%+v", failedCell)
	}
	if len(failedCell.Evaluators) != 0 {
		t.Fatalf("failed target must leave evaluator results absent, got %+v", failedCell.Evaluators)
	}
	for _, key := range []string{"0-echo", "2-echo"} {
		if snap.Cells[key].Status != domain.CellSuccess {
			t.Fatalf("cell %s=%s, failure must not spread", key, snap.Cells[key].Status)
		}
	}

	// Two healthy cells get evaluator events; the failed one none.
	if got := eventsOfType(events, stream.TypeEvaluatorResult); len(got) != 2 {
		t.Fatalf("evaluator_result events=%d, want 2", len(got))
	}

	done := events[len(events)-1].(stream.Done)
	if done.Summary.CompletedCells != 2 || done.Summary.FailedCells != 1 {
		t.Fatalf("summary=%+v", done.Summary)
	}
	if store.Status() != domain.RunCompleted {
		t.Fatalf("status=%s, cell failures do not fail the run", store.Status())
	}
}

func TestEvaluatorIsolation(t *testing.T) {
	caps := &testCaps{
		target: func(context.Context, domain.ExecutionCell) (domain.TargetResult, error) {
			return domain.TargetResult{Output: "ok"}, nil
		},
		eval: func(_ context.Context, _ domain.ExecutionCell, evaluatorID string, _ any) (domain.EvaluatorResult, error) {
			if evaluatorID == "crashy" {
				panic("judge crashed")
			}
			passed := true
			return domain.EvaluatorResult{Passed: &passed}, nil
		},
	}
	evaluators := []domain.EvaluatorConfig{
		{ID: "crashy", Kind: "llm_judge"},
		{ID: "em", Kind: "exact_match"},
	}

	store, events := runScheduler(t, caps, &testSink{}, echoCells(1, evaluators), 1)

	cell := store.Snapshot().Cells["0-echo"]
	if cell.Status != domain.CellSuccess {
		t.Fatalf("status=%s, evaluator panic must not demote cell", cell.Status)
	}
	if cell.Evaluators["crashy"].Error == "" {
		t.Fatalf("crashed evaluator must carry an error")
	}
	if cell.Evaluators["em"].Passed == nil || !*cell.Evaluators["em"].Passed {
		t.Fatalf("later evaluator must still run: %+v", cell.Evaluators["em"])
	}
	if got := eventsOfType(events, stream.TypeEvaluatorResult); len(got) != 2 {
		t.Fatalf("evaluator_result events=%d, want one per evaluator", len(got))
	}
}

func TestStopLeavesUnclaimedCellsPending(t *testing.T) {
	var store *state.Store
	caps := &testCaps{
		target: func(context.Context, domain.ExecutionCell) (domain.TargetResult, error) {
			store.RequestStop()
			return domain.TargetResult{Output: "ok"}, nil
		},
	}

	cells := echoCells(5, nil)
	var err error
	store, err = state.NewStore("run-1", domain.ExecutionRequest{ProjectID: "proj-1"}, cells)
	if err != nil {
		t.Fatalf("NewStore() err=%v", err)
	}
	st := stream.New()
	scheduler := NewScheduler(caps, &testSink{}, slog.New(slog.DiscardHandler))
	scheduler.Run(context.Background(), store, st, cells, 1)

	var events []stream.Event
	for event := range st.Events() {
		events = append(events, event)
	}

	last := events[len(events)-1]
	stopped, ok := last.(stream.Stopped)
	if !ok {
		t.Fatalf("last event=%s, want stopped", last.EventType())
	}
	if stopped.Reason != stream.StopReasonUser {
		t.Fatalf("reason=%s, want user", stopped.Reason)
	}

	snap := store.Snapshot()
	if snap.Status != domain.RunStopped || snap.StoppedAt == nil {
		t.Fatalf("run not stopped: %+v", snap.Status)
	}
	pending := 0
	for _, cell := range snap.Cells {
		if cell.Status == domain.CellPending {
			pending++
		}
		if cell.Status == domain.CellRunning {
			t.Fatalf("no cell may be left running after stop")
		}
	}
	if pending == 0 {
		t.Fatalf("unclaimed cells must stay pending")
	}
}

func TestDispatchFailuresNeverAffectRun(t *testing.T) {
	caps := &testCaps{
		target: func(context.Context, domain.ExecutionCell) (domain.TargetResult, error) {
			return domain.TargetResult{Output: "ok"}, nil
		},
	}
	sink := &testSink{failAll: true}

	store, events := runScheduler(t, caps, sink, echoCells(3, nil), 2)

	if store.Status() != domain.RunCompleted {
		t.Fatalf("status=%s, dispatch failures must not affect the run", store.Status())
	}
	done := events[len(events)-1].(stream.Done)
	if done.Summary.CompletedCells != 3 {
		t.Fatalf("summary=%+v", done.Summary)
	}
	// start_run + 3 target results failed before the summary was built.
	if done.Summary.DispatchFailures < 4 {
		t.Fatalf("DispatchFailures=%d, want >=4", done.Summary.DispatchFailures)
	}
}

func TestProgressMonotonic(t *testing.T) {
	caps := &testCaps{
		target: func(context.Context, domain.ExecutionCell) (domain.TargetResult, error) {
			return domain.TargetResult{Output: "ok"}, nil
		},
	}

	_, events := runScheduler(t, caps, &testSink{}, echoCells(8, nil), 4)

	previous := -1
	for _, event := range eventsOfType(events, stream.TypeProgress) {
		progress := event.(stream.Progress)
		if progress.Completed < previous {
			t.Fatalf("progress went backwards: %d after %d", progress.Completed, previous)
		}
		previous = progress.Completed
	}
	if previous != 8 {
		t.Fatalf("final progress=%d, want 8", previous)
	}
}

func TestWorkerPanicFailsRunButEmitsDone(t *testing.T) {
	caps := &testCaps{
		target: func(context.Context, domain.ExecutionCell) (domain.TargetResult, error) {
			return domain.TargetResult{Output: "ok"}, nil
		},
	}
	sink := &testSink{panicOnTarget: true}

	store, events := runScheduler(t, caps, sink, echoCells(2, nil), 1)

	if store.Status() != domain.RunError {
		t.Fatalf("status=%s, want error", store.Status())
	}
	if got := eventsOfType(events, stream.TypeError); len(got) == 0 {
		t.Fatalf("expected an error event without cell context")
	}
	last := events[len(events)-1]
	if _, ok := last.(stream.Done); !ok {
		t.Fatalf("last event=%s, done must still close the run", last.EventType())
	}
}

func TestEmptyCellSetCompletesImmediately(t *testing.T) {
	caps := &testCaps{
		target: func(context.Context, domain.ExecutionCell) (domain.TargetResult, error) {
			t.Error("no target may run for an empty cell set")
			return domain.TargetResult{}, nil
		},
	}

	store, events := runScheduler(t, caps, &testSink{}, nil, 4)

	if store.Status() != domain.RunCompleted {
		t.Fatalf("status=%s, want completed", store.Status())
	}
	done := events[len(events)-1].(stream.Done)
	if done.Summary.TotalCells != 0 || done.Summary.CompletedCells != 0 {
		t.Fatalf("summary=%+v", done.Summary)
	}
}

func TestEvaluatorScopeSkipsTarget(t *testing.T) {
	targetCalled := false
	caps := &testCaps{
		target: func(context.Context, domain.ExecutionCell) (domain.TargetResult, error) {
			targetCalled = true
			return domain.TargetResult{Output: "live"}, nil
		},
		eval: func(_ context.Context, _ domain.ExecutionCell, _ string, output any) (domain.EvaluatorResult, error) {
			passed := output == "precomputed"
			return domain.EvaluatorResult{Passed: &passed}, nil
		},
	}
	cells := []domain.ExecutionCell{{
		RowIndex:                0,
		TargetID:                "echo",
		Target:                  domain.TargetConfig{ID: "echo", Kind: "echo"},
		Evaluators:              []domain.EvaluatorConfig{{ID: "em", Kind: "exact_match"}},
		Row:                     domain.Row{"input": "x"},
		SkipTarget:              true,
		PrecomputedTargetOutput: "precomputed",
	}}

	store, _ := runScheduler(t, caps, &testSink{}, cells, 1)

	if targetCalled {
		t.Fatalf("target must not run for a precomputed cell")
	}
	cell := store.Snapshot().Cells["0-echo"]
	if cell.Status != domain.CellSuccess || cell.Output != "precomputed" {
		t.Fatalf("cell=%+v", cell)
	}
	if cell.Evaluators["em"].Passed == nil || !*cell.Evaluators["em"].Passed {
		t.Fatalf("evaluator should see the precomputed output")
	}
}
