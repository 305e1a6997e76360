// Package runner executes resolved cells with bounded parallelism and
// publishes the run's lifecycle events.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/verdict-labs/verdict-go/internal/dispatch"
	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/execution/state"
	"github.com/verdict-labs/verdict-go/internal/execution/stream"
)

// Capabilities is the collaborator that actually runs targets and
// evaluators. Implementations must be safe for concurrent use.
type Capabilities interface {
	RunTarget(ctx context.Context, cell domain.ExecutionCell) (domain.TargetResult, error)
	RunEvaluator(ctx context.Context, cell domain.ExecutionCell, evaluatorID string, targetOutput any) (domain.EvaluatorResult, error)
}

// commandSink is the dispatcher surface the runner needs.
type commandSink interface {
	Notify(cmd dispatch.Command, onFailure func())
}

// CellExecutor runs one cell to settlement: target call, then each
// bound evaluator in isolation. Every step updates state, emits an
// event, and notifies dispatch, in that order.
type CellExecutor struct {
	Caps     Capabilities
	Store    *state.Store
	Stream   *stream.Stream
	Dispatch commandSink
	Log      *slog.Logger
}

func (e *CellExecutor) Execute(ctx context.Context, cell domain.ExecutionCell) {
	key := cell.Key()
	if err := e.Store.MarkRunning(key); err != nil {
		e.Log.Error("cell claim failed", "run_id", e.Store.RunID(), "cell", key, "error", err)
		return
	}
	e.Stream.Publish(stream.NewCellStarted(cell.RowIndex, cell.TargetID))

	var result domain.TargetResult
	if cell.SkipTarget {
		result = domain.TargetResult{Output: cell.PrecomputedTargetOutput, TraceID: cell.TraceID}
	} else {
		result = e.runTarget(ctx, cell)
	}

	if err := e.Store.SetTargetResult(key, result); err != nil {
		e.Log.Error("target result write failed", "run_id", e.Store.RunID(), "cell", key, "error", err)
		return
	}
	e.Stream.Publish(stream.NewTargetResult(cell.RowIndex, cell.TargetID, result))
	e.Dispatch.Notify(
		dispatch.NewTargetResult(e.Store.RunID(), e.Store.ProjectID(), cell.RowIndex, cell.TargetID, result),
		e.Store.CountDispatchFailure,
	)

	// A failed target settles the cell as error; its evaluators never
	// run and their results stay absent.
	if result.Error != "" {
		return
	}

	for _, evaluator := range cell.Evaluators {
		evalResult := e.runEvaluator(ctx, cell, evaluator.ID, result.Output)
		if err := e.Store.SetEvaluatorResult(key, evaluator.ID, evalResult); err != nil {
			e.Log.Error("evaluator result write failed",
				"run_id", e.Store.RunID(), "cell", key, "evaluator_id", evaluator.ID, "error", err)
			continue
		}
		e.Stream.Publish(stream.NewEvaluatorResult(cell.RowIndex, cell.TargetID, evaluator.ID, evalResult))
		e.Dispatch.Notify(
			dispatch.NewEvaluatorResult(e.Store.RunID(), e.Store.ProjectID(), cell.RowIndex, cell.TargetID, evaluator.ID, evalResult),
			e.Store.CountDispatchFailure,
		)
	}
}

// runTarget isolates target panics into an error result on the cell.
func (e *CellExecutor) runTarget(ctx context.Context, cell domain.ExecutionCell) (result domain.TargetResult) {
	defer func() {
		if r := recover(); r != nil {
			e.Log.Error("target panicked", "run_id", e.Store.RunID(), "cell", cell.Key(), "panic", r)
			result = domain.TargetResult{Error: fmt.Sprintf("target panicked: %v", r)}
		}
	}()

	result, err := e.Caps.RunTarget(ctx, cell)
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}
	return result
}

// runEvaluator isolates one evaluator's error or panic into that
// evaluator's result; the cell and its other evaluators are untouched.
func (e *CellExecutor) runEvaluator(ctx context.Context, cell domain.ExecutionCell, evaluatorID string, targetOutput any) (result domain.EvaluatorResult) {
	defer func() {
		if r := recover(); r != nil {
			e.Log.Error("evaluator panicked",
				"run_id", e.Store.RunID(), "cell", cell.Key(), "evaluator_id", evaluatorID, "panic", r)
			result = domain.EvaluatorResult{Error: fmt.Sprintf("evaluator panicked: %v", r)}
		}
	}()

	result, err := e.Caps.RunEvaluator(ctx, cell, evaluatorID, targetOutput)
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}
	return result
}
