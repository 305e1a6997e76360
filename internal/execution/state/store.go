// Package state holds the in-memory observable state of evaluation
// runs. One Store per run, indexed by a process-wide Registry.
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

// Store tracks the mutable state of one run. All methods are safe for
// concurrent use; terminal cell and run states are write-once.
type Store struct {
	mu sync.RWMutex

	runID        string
	projectID    string
	experimentID string
	status       domain.RunStatus
	cells        map[string]*domain.CellExecutionState
	order        []string
	startedAt    time.Time
	finishedAt   *time.Time
	stoppedAt    *time.Time
	runErr       string

	completed int
	failed    int

	dispatchFailures atomic.Int64
	stopRequested    atomic.Bool
}

// NewStore seeds the store with one pending cell per resolved cell.
func NewStore(runID string, req domain.ExecutionRequest, cells []domain.ExecutionCell) (*Store, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	s := &Store{
		runID:        runID,
		projectID:    req.ProjectID,
		experimentID: req.ExperimentID,
		status:       domain.RunRunning,
		cells:        make(map[string]*domain.CellExecutionState, len(cells)),
		order:        make([]string, 0, len(cells)),
		startedAt:    time.Now().UTC(),
	}
	for _, cell := range cells {
		key := cell.Key()
		if _, ok := s.cells[key]; ok {
			return nil, fmt.Errorf("duplicate cell %s", key)
		}
		s.cells[key] = &domain.CellExecutionState{
			RowIndex: cell.RowIndex,
			TargetID: cell.TargetID,
			Status:   domain.CellPending,
		}
		s.order = append(s.order, key)
	}
	return s, nil
}

func (s *Store) RunID() string        { return s.runID }
func (s *Store) ProjectID() string    { return s.projectID }
func (s *Store) ExperimentID() string { return s.experimentID }
func (s *Store) StartedAt() time.Time { return s.startedAt }

func (s *Store) TotalCells() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// MarkRunning transitions a pending cell to running.
func (s *Store) MarkRunning(cellKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell, ok := s.cells[cellKey]
	if !ok {
		return fmt.Errorf("unknown cell %s", cellKey)
	}
	if cell.Status != domain.CellPending {
		return fmt.Errorf("cell %s is %s, not pending", cellKey, cell.Status)
	}
	now := time.Now().UTC()
	cell.Status = domain.CellRunning
	cell.StartedAt = &now
	return nil
}

// SetTargetResult records the target outcome and settles the cell. A
// target error makes the cell terminal with status error; success
// leaves it terminal with status success pending evaluator results,
// which never demote it.
func (s *Store) SetTargetResult(cellKey string, result domain.TargetResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell, ok := s.cells[cellKey]
	if !ok {
		return fmt.Errorf("unknown cell %s", cellKey)
	}
	if cell.Status.Terminal() {
		return fmt.Errorf("cell %s already settled", cellKey)
	}

	now := time.Now().UTC()
	cell.Output = result.Output
	cell.Cost = result.Cost
	cell.DurationMs = result.DurationMs
	cell.TraceID = result.TraceID
	cell.FinishedAt = &now
	if result.Error != "" {
		cell.Status = domain.CellError
		cell.Error = result.Error
		s.failed++
	} else {
		cell.Status = domain.CellSuccess
		s.completed++
	}
	return nil
}

// SetEvaluatorResult attaches a score to a settled cell. Evaluator
// errors are recorded on the result but never change cell status.
func (s *Store) SetEvaluatorResult(cellKey, evaluatorID string, result domain.EvaluatorResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell, ok := s.cells[cellKey]
	if !ok {
		return fmt.Errorf("unknown cell %s", cellKey)
	}
	if cell.Evaluators == nil {
		cell.Evaluators = make(map[string]domain.EvaluatorResult)
	}
	cell.Evaluators[evaluatorID] = result
	return nil
}

// RequestStop flags the run for cooperative cancellation. Idempotent;
// reports whether this call was the first.
func (s *Store) RequestStop() bool {
	return s.stopRequested.CompareAndSwap(false, true)
}

func (s *Store) StopRequested() bool {
	return s.stopRequested.Load()
}

// Settle moves the run to a terminal status. The first terminal
// transition wins; later calls are no-ops.
func (s *Store) Settle(status domain.RunStatus, runErr string) error {
	if status == domain.RunRunning {
		return errors.New("running is not a terminal status")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.RunRunning {
		return nil
	}
	if !domain.CanTransitionRunStatus(s.status, status) {
		return fmt.Errorf("cannot transition %s -> %s", s.status, status)
	}

	now := time.Now().UTC()
	s.status = status
	s.finishedAt = &now
	if status == domain.RunStopped {
		s.stoppedAt = &now
	}
	s.runErr = runErr
	return nil
}

// CountDispatchFailure bumps the fire-and-forget failure counter.
func (s *Store) CountDispatchFailure() {
	s.dispatchFailures.Add(1)
}

func (s *Store) DispatchFailures() int64 {
	return s.dispatchFailures.Load()
}

// Progress returns (completed, failed, total) under one lock.
func (s *Store) Progress() (int, int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed, s.failed, len(s.order)
}

// Snapshot returns a deep copy of the run state.
func (s *Store) Snapshot() domain.ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cells := make(map[string]domain.CellExecutionState, len(s.cells))
	for key, cell := range s.cells {
		copied := *cell
		if cell.Evaluators != nil {
			copied.Evaluators = make(map[string]domain.EvaluatorResult, len(cell.Evaluators))
			for id, result := range cell.Evaluators {
				copied.Evaluators[id] = result
			}
		}
		cells[key] = copied
	}

	return domain.ExecutionState{
		RunID:        s.runID,
		ProjectID:    s.projectID,
		ExperimentID: s.experimentID,
		Status:       s.status,
		Cells:        cells,
		Total:        len(s.order),
		Completed:    s.completed,
		Failed:       s.failed,
		StartedAt:    s.startedAt,
		FinishedAt:   copyTime(s.finishedAt),
		StoppedAt:    copyTime(s.stoppedAt),
		Error:        s.runErr,
	}
}

// Summary builds the terminal summary for the done event.
func (s *Store) Summary() domain.ExecutionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var durationMs int64
	end := time.Now().UTC()
	if s.finishedAt != nil {
		end = *s.finishedAt
	}
	durationMs = end.Sub(s.startedAt).Milliseconds()

	return domain.ExecutionSummary{
		RunID:            s.runID,
		TotalCells:       len(s.order),
		CompletedCells:   s.completed,
		FailedCells:      s.failed,
		DurationMs:       durationMs,
		DispatchFailures: s.dispatchFailures.Load(),
		StartedAt:        s.startedAt,
		FinishedAt:       copyTime(s.finishedAt),
		StoppedAt:        copyTime(s.stoppedAt),
	}
}

func (s *Store) Status() domain.RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
