// Package dispatch forwards run state transitions to the downstream
// event-sourced command pipeline. The forward path is strictly
// best-effort: failures are logged and counted, never propagated.
package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

type CommandType string

const (
	CommandStartRun        CommandType = "start_run"
	CommandTargetResult    CommandType = "target_result"
	CommandEvaluatorResult CommandType = "evaluator_result"
	CommandCompleteRun     CommandType = "complete_run"
)

// Command is one pipeline command. Exactly the fields relevant to its
// type are populated.
type Command struct {
	CommandID  string      `json:"command_id"`
	Type       CommandType `json:"type"`
	RunID      string      `json:"run_id"`
	ProjectID  string      `json:"project_id"`
	OccurredAt time.Time   `json:"occurred_at"`

	TotalCells  int                      `json:"total_cells,omitempty"`
	RowIndex    *int                     `json:"row_index,omitempty"`
	TargetID    string                   `json:"target_id,omitempty"`
	EvaluatorID string                   `json:"evaluator_id,omitempty"`
	Target      *domain.TargetResult     `json:"target_result,omitempty"`
	Evaluator   *domain.EvaluatorResult  `json:"evaluator_result,omitempty"`
	Summary     *domain.ExecutionSummary `json:"summary,omitempty"`
}

func newCommand(cmdType CommandType, runID, projectID string) Command {
	return Command{
		CommandID:  uuid.NewString(),
		Type:       cmdType,
		RunID:      runID,
		ProjectID:  projectID,
		OccurredAt: time.Now().UTC(),
	}
}

func NewStartRun(runID, projectID string, totalCells int) Command {
	cmd := newCommand(CommandStartRun, runID, projectID)
	cmd.TotalCells = totalCells
	return cmd
}

func NewTargetResult(runID, projectID string, rowIndex int, targetID string, result domain.TargetResult) Command {
	cmd := newCommand(CommandTargetResult, runID, projectID)
	cmd.RowIndex = &rowIndex
	cmd.TargetID = targetID
	cmd.Target = &result
	return cmd
}

func NewEvaluatorResult(runID, projectID string, rowIndex int, targetID, evaluatorID string, result domain.EvaluatorResult) Command {
	cmd := newCommand(CommandEvaluatorResult, runID, projectID)
	cmd.RowIndex = &rowIndex
	cmd.TargetID = targetID
	cmd.EvaluatorID = evaluatorID
	cmd.Evaluator = &result
	return cmd
}

func NewCompleteRun(runID, projectID string, summary domain.ExecutionSummary) Command {
	cmd := newCommand(CommandCompleteRun, runID, projectID)
	cmd.Summary = &summary
	return cmd
}
