package domain

import (
	"strings"
	"time"
)

// CellStatus is the lifecycle of one cell within a run.
type CellStatus string

const (
	CellPending CellStatus = "pending"
	CellRunning CellStatus = "running"
	CellSuccess CellStatus = "success"
	CellError   CellStatus = "error"
)

func (s CellStatus) Terminal() bool {
	return s == CellSuccess || s == CellError
}

// RunStatus is the lifecycle of a whole run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunStopped   RunStatus = "stopped"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

func NormalizeRunStatus(value string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunRunning):
		return RunRunning
	case string(RunStopped):
		return RunStopped
	case string(RunCompleted):
		return RunCompleted
	case string(RunError):
		return RunError
	default:
		return ""
	}
}

// CanTransitionRunStatus enforces forward-only run progression:
// running is the only non-terminal status.
func CanTransitionRunStatus(current, next RunStatus) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	return current == RunRunning
}

// CellExecutionState is the observable state of one cell. Owned by the
// state store; immutable once Status is terminal.
type CellExecutionState struct {
	RowIndex   int                        `json:"row_index"`
	TargetID   string                     `json:"target_id"`
	Status     CellStatus                 `json:"status"`
	Output     any                        `json:"output,omitempty"`
	Error      string                     `json:"error,omitempty"`
	Cost       float64                    `json:"cost,omitempty"`
	DurationMs int64                      `json:"duration_ms,omitempty"`
	TraceID    string                     `json:"trace_id,omitempty"`
	Evaluators map[string]EvaluatorResult `json:"evaluators,omitempty"`
	StartedAt  *time.Time                 `json:"started_at,omitempty"`
	FinishedAt *time.Time                 `json:"finished_at,omitempty"`
}

// ExecutionState is a point-in-time snapshot of a whole run.
type ExecutionState struct {
	RunID        string                        `json:"run_id"`
	ProjectID    string                        `json:"project_id"`
	ExperimentID string                        `json:"experiment_id,omitempty"`
	Status       RunStatus                     `json:"status"`
	Cells        map[string]CellExecutionState `json:"cells"`
	Total        int                           `json:"total"`
	Completed    int                           `json:"completed"`
	Failed       int                           `json:"failed"`
	StartedAt    time.Time                     `json:"started_at"`
	FinishedAt   *time.Time                    `json:"finished_at,omitempty"`
	StoppedAt    *time.Time                    `json:"stopped_at,omitempty"`
	Error        string                        `json:"error,omitempty"`
}

// ExecutionSummary is the terminal snapshot attached to the done
// event. DispatchFailures is informational only.
type ExecutionSummary struct {
	RunID            string     `json:"runId"`
	TotalCells       int        `json:"totalCells"`
	CompletedCells   int        `json:"completedCells"`
	FailedCells      int        `json:"failedCells"`
	DurationMs       int64      `json:"duration"`
	DispatchFailures int64      `json:"chDispatchFailures"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	StoppedAt        *time.Time `json:"stoppedAt,omitempty"`
}
