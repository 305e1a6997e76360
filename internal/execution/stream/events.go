// Package stream carries the ordered lifecycle events of one run from
// the scheduler to a single consumer.
package stream

import "github.com/verdict-labs/verdict-go/internal/domain"

const (
	TypeExecutionStarted = "execution_started"
	TypeCellStarted      = "cell_started"
	TypeTargetResult     = "target_result"
	TypeEvaluatorResult  = "evaluator_result"
	TypeProgress         = "progress"
	TypeError            = "error"
	TypeStopped          = "stopped"
	TypeDone             = "done"
)

// Event is one lifecycle event; implementations are the payload
// structs below and marshal to their wire shape directly.
type Event interface {
	EventType() string
}

type ExecutionStarted struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
	Total int    `json:"total"`
}

func NewExecutionStarted(runID string, total int) ExecutionStarted {
	return ExecutionStarted{Type: TypeExecutionStarted, RunID: runID, Total: total}
}

func (e ExecutionStarted) EventType() string { return e.Type }

type CellStarted struct {
	Type     string `json:"type"`
	RowIndex int    `json:"rowIndex"`
	TargetID string `json:"targetId"`
}

func NewCellStarted(rowIndex int, targetID string) CellStarted {
	return CellStarted{Type: TypeCellStarted, RowIndex: rowIndex, TargetID: targetID}
}

func (e CellStarted) EventType() string { return e.Type }

type TargetResult struct {
	Type     string  `json:"type"`
	RowIndex int     `json:"rowIndex"`
	TargetID string  `json:"targetId"`
	Output   any     `json:"output"`
	Cost     float64 `json:"cost,omitempty"`
	Duration int64   `json:"duration,omitempty"`
	TraceID  string  `json:"traceId,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func NewTargetResult(rowIndex int, targetID string, result domain.TargetResult) TargetResult {
	return TargetResult{
		Type:     TypeTargetResult,
		RowIndex: rowIndex,
		TargetID: targetID,
		Output:   result.Output,
		Cost:     result.Cost,
		Duration: result.DurationMs,
		TraceID:  result.TraceID,
		Error:    result.Error,
	}
}

func (e TargetResult) EventType() string { return e.Type }

type EvaluatorResult struct {
	Type        string                 `json:"type"`
	RowIndex    int                    `json:"rowIndex"`
	TargetID    string                 `json:"targetId"`
	EvaluatorID string                 `json:"evaluatorId"`
	Result      domain.EvaluatorResult `json:"result"`
}

func NewEvaluatorResult(rowIndex int, targetID, evaluatorID string, result domain.EvaluatorResult) EvaluatorResult {
	return EvaluatorResult{
		Type:        TypeEvaluatorResult,
		RowIndex:    rowIndex,
		TargetID:    targetID,
		EvaluatorID: evaluatorID,
		Result:      result,
	}
}

func (e EvaluatorResult) EventType() string { return e.Type }

type Progress struct {
	Type      string `json:"type"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

func NewProgress(completed, total int) Progress {
	return Progress{Type: TypeProgress, Completed: completed, Total: total}
}

func (e Progress) EventType() string { return e.Type }

type Error struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	RowIndex    *int   `json:"rowIndex,omitempty"`
	TargetID    string `json:"targetId,omitempty"`
	EvaluatorID string `json:"evaluatorId,omitempty"`
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

func NewCellError(message string, rowIndex int, targetID string) Error {
	return Error{Type: TypeError, Message: message, RowIndex: &rowIndex, TargetID: targetID}
}

func (e Error) EventType() string { return e.Type }

// StopReason distinguishes a caller-requested stop from a scheduler
// failure.
type StopReason string

const (
	StopReasonUser  StopReason = "user"
	StopReasonError StopReason = "error"
)

type Stopped struct {
	Type   string     `json:"type"`
	Reason StopReason `json:"reason"`
}

func NewStopped(reason StopReason) Stopped {
	return Stopped{Type: TypeStopped, Reason: reason}
}

func (e Stopped) EventType() string { return e.Type }

type Done struct {
	Type    string                  `json:"type"`
	Summary domain.ExecutionSummary `json:"summary"`
}

func NewDone(summary domain.ExecutionSummary) Done {
	return Done{Type: TypeDone, Summary: summary}
}

func (e Done) EventType() string { return e.Type }
