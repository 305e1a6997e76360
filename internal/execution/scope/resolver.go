// Package scope expands an execution request into the ordered set of
// cells the scheduler will run. Resolution is pure and deterministic:
// cells come back sorted by row index, then by target declaration
// order, so event ordering downstream is reproducible.
package scope

import (
	"fmt"
	"sort"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/dataset"
	"github.com/verdict-labs/verdict-go/internal/domain"
)

// TargetNotFoundError reports a scope referencing a target id absent
// from the request.
type TargetNotFoundError struct {
	TargetID string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("target not found: %s", e.TargetID)
}

// CellNotFoundError reports a cell scope whose row index is outside
// the dataset.
type CellNotFoundError struct {
	RowIndex int
	TargetID string
}

func (e *CellNotFoundError) Error() string {
	return fmt.Sprintf("cell not found: %s", domain.CellKey(e.RowIndex, e.TargetID))
}

// EvaluatorNotFoundError reports an evaluator scope referencing an
// evaluator id absent from the request or not bound to the target.
type EvaluatorNotFoundError struct {
	EvaluatorID string
	TargetID    string
}

func (e *EvaluatorNotFoundError) Error() string {
	return fmt.Sprintf("evaluator not found: %s (target %s)", e.EvaluatorID, e.TargetID)
}

// Resolve expands the request's scope against the materialized dataset.
// The request must already be validated.
func Resolve(req domain.ExecutionRequest, ds dataset.Resolved) ([]domain.ExecutionCell, error) {
	kind := domain.NormalizeScopeKind(string(req.Scope.Kind))
	switch kind {
	case domain.ScopeFull:
		return resolveFull(req, ds), nil
	case domain.ScopeRows:
		return resolveRows(req, ds), nil
	case domain.ScopeTarget:
		return resolveTarget(req, ds)
	case domain.ScopeCell:
		return resolveCell(req, ds)
	case domain.ScopeEvaluator:
		return resolveEvaluator(req, ds)
	default:
		return nil, fmt.Errorf("unsupported scope kind: %q", req.Scope.Kind)
	}
}

func resolveFull(req domain.ExecutionRequest, ds dataset.Resolved) []domain.ExecutionCell {
	cells := make([]domain.ExecutionCell, 0, len(ds.Rows)*len(req.Targets))
	for rowIndex, row := range ds.Rows {
		for _, target := range req.Targets {
			cells = append(cells, buildCell(req, rowIndex, row, target))
		}
	}
	return cells
}

func resolveRows(req domain.ExecutionRequest, ds dataset.Resolved) []domain.ExecutionCell {
	// Indices outside the dataset are dropped silently; duplicates
	// collapse to one cell per (row, target).
	indices := make([]int, 0, len(req.Scope.RowIndices))
	seen := make(map[int]struct{}, len(req.Scope.RowIndices))
	for _, idx := range req.Scope.RowIndices {
		if idx < 0 || idx >= len(ds.Rows) {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	cells := make([]domain.ExecutionCell, 0, len(indices)*len(req.Targets))
	for _, rowIndex := range indices {
		for _, target := range req.Targets {
			cells = append(cells, buildCell(req, rowIndex, ds.Rows[rowIndex], target))
		}
	}
	return cells
}

func resolveTarget(req domain.ExecutionRequest, ds dataset.Resolved) ([]domain.ExecutionCell, error) {
	target, err := findTarget(req, req.Scope.TargetID)
	if err != nil {
		return nil, err
	}

	cells := make([]domain.ExecutionCell, 0, len(ds.Rows))
	for rowIndex, row := range ds.Rows {
		cells = append(cells, buildCell(req, rowIndex, row, target))
	}
	return cells, nil
}

func resolveCell(req domain.ExecutionRequest, ds dataset.Resolved) ([]domain.ExecutionCell, error) {
	target, err := findTarget(req, req.Scope.TargetID)
	if err != nil {
		return nil, err
	}
	rowIndex := req.Scope.RowIndex
	if rowIndex < 0 || rowIndex >= len(ds.Rows) {
		return nil, &CellNotFoundError{RowIndex: rowIndex, TargetID: target.ID}
	}
	return []domain.ExecutionCell{buildCell(req, rowIndex, ds.Rows[rowIndex], target)}, nil
}

func resolveEvaluator(req domain.ExecutionRequest, ds dataset.Resolved) ([]domain.ExecutionCell, error) {
	target, err := findTarget(req, req.Scope.TargetID)
	if err != nil {
		return nil, err
	}
	rowIndex := req.Scope.RowIndex
	if rowIndex < 0 || rowIndex >= len(ds.Rows) {
		return nil, &CellNotFoundError{RowIndex: rowIndex, TargetID: target.ID}
	}

	evaluatorID := strings.TrimSpace(req.Scope.EvaluatorID)
	var evaluator *domain.EvaluatorConfig
	for i := range req.Evaluators {
		if strings.TrimSpace(req.Evaluators[i].ID) == evaluatorID {
			evaluator = &req.Evaluators[i]
			break
		}
	}
	if evaluator == nil || !evaluator.AppliesTo(target.ID) {
		return nil, &EvaluatorNotFoundError{EvaluatorID: evaluatorID, TargetID: target.ID}
	}

	cell := domain.ExecutionCell{
		RowIndex:   rowIndex,
		TargetID:   target.ID,
		Target:     target,
		Evaluators: []domain.EvaluatorConfig{*evaluator},
		Row:        ds.Rows[rowIndex],
		TraceID:    strings.TrimSpace(req.Scope.TraceID),
	}
	if req.Scope.TargetOutput != nil {
		cell.SkipTarget = true
		cell.PrecomputedTargetOutput = *req.Scope.TargetOutput
	}
	return []domain.ExecutionCell{cell}, nil
}

func findTarget(req domain.ExecutionRequest, targetID string) (domain.TargetConfig, error) {
	targetID = strings.TrimSpace(targetID)
	for _, target := range req.Targets {
		if strings.TrimSpace(target.ID) == targetID {
			return target, nil
		}
	}
	return domain.TargetConfig{}, &TargetNotFoundError{TargetID: targetID}
}

func buildCell(req domain.ExecutionRequest, rowIndex int, row domain.Row, target domain.TargetConfig) domain.ExecutionCell {
	evaluators := make([]domain.EvaluatorConfig, 0, len(req.Evaluators))
	for _, evaluator := range req.Evaluators {
		if evaluator.AppliesTo(target.ID) {
			evaluators = append(evaluators, evaluator)
		}
	}
	return domain.ExecutionCell{
		RowIndex:   rowIndex,
		TargetID:   target.ID,
		Target:     target,
		Evaluators: evaluators,
		Row:        row,
	}
}
