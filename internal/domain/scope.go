package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ScopeKind selects one of the mutually exclusive resolution
// strategies for a run.
type ScopeKind string

const (
	ScopeFull      ScopeKind = "full"
	ScopeRows      ScopeKind = "rows"
	ScopeTarget    ScopeKind = "target"
	ScopeCell      ScopeKind = "cell"
	ScopeEvaluator ScopeKind = "evaluator"
)

// ExecutionScope is a tagged union; exactly one variant's fields are
// set, selected by Kind.
type ExecutionScope struct {
	Kind ScopeKind `json:"kind" yaml:"kind"`

	// rows
	RowIndices []int `json:"row_indices,omitempty" yaml:"row_indices"`

	// target, cell, evaluator
	TargetID string `json:"target_id,omitempty" yaml:"target_id"`

	// cell, evaluator
	RowIndex int `json:"row_index,omitempty" yaml:"row_index"`

	// evaluator
	EvaluatorID  string  `json:"evaluator_id,omitempty" yaml:"evaluator_id"`
	TargetOutput *string `json:"target_output,omitempty" yaml:"target_output"`
	TraceID      string  `json:"trace_id,omitempty" yaml:"trace_id"`
}

func NormalizeScopeKind(value string) ScopeKind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ScopeFull), "":
		return ScopeFull
	case string(ScopeRows):
		return ScopeRows
	case string(ScopeTarget):
		return ScopeTarget
	case string(ScopeCell):
		return ScopeCell
	case string(ScopeEvaluator):
		return ScopeEvaluator
	default:
		return ""
	}
}

func (s ExecutionScope) Validate() error {
	kind := NormalizeScopeKind(string(s.Kind))
	if kind == "" {
		return fmt.Errorf("unsupported scope kind: %q", s.Kind)
	}

	switch kind {
	case ScopeFull:
		if len(s.RowIndices) > 0 || strings.TrimSpace(s.TargetID) != "" || strings.TrimSpace(s.EvaluatorID) != "" {
			return errors.New("full scope must not carry variant fields")
		}
	case ScopeRows:
		if len(s.RowIndices) == 0 {
			return errors.New("rows scope requires row indices")
		}
		for _, idx := range s.RowIndices {
			if idx < 0 {
				return fmt.Errorf("rows scope index must be >= 0 (got %d)", idx)
			}
		}
		if strings.TrimSpace(s.TargetID) != "" || strings.TrimSpace(s.EvaluatorID) != "" {
			return errors.New("rows scope must not carry target or evaluator fields")
		}
	case ScopeTarget:
		if strings.TrimSpace(s.TargetID) == "" {
			return errors.New("target scope requires a target id")
		}
		if len(s.RowIndices) > 0 || strings.TrimSpace(s.EvaluatorID) != "" {
			return errors.New("target scope must not carry row or evaluator fields")
		}
	case ScopeCell:
		if strings.TrimSpace(s.TargetID) == "" {
			return errors.New("cell scope requires a target id")
		}
		if s.RowIndex < 0 {
			return errors.New("cell scope requires a row index >= 0")
		}
		if len(s.RowIndices) > 0 || strings.TrimSpace(s.EvaluatorID) != "" {
			return errors.New("cell scope must not carry rows or evaluator fields")
		}
	case ScopeEvaluator:
		if strings.TrimSpace(s.TargetID) == "" {
			return errors.New("evaluator scope requires a target id")
		}
		if strings.TrimSpace(s.EvaluatorID) == "" {
			return errors.New("evaluator scope requires an evaluator id")
		}
		if s.RowIndex < 0 {
			return errors.New("evaluator scope requires a row index >= 0")
		}
		if len(s.RowIndices) > 0 {
			return errors.New("evaluator scope must not carry row indices")
		}
	}
	return nil
}
