package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultConcurrency = 10
	MaxConcurrency     = 24
)

// ExecutionRequest is the immutable input to one evaluation run.
type ExecutionRequest struct {
	ProjectID    string           `json:"project_id" yaml:"project_id"`
	ExperimentID string           `json:"experiment_id,omitempty" yaml:"experiment_id"`
	Name         string           `json:"name,omitempty" yaml:"name"`
	Dataset      DatasetReference `json:"dataset" yaml:"dataset"`
	Targets      []TargetConfig   `json:"targets" yaml:"targets"`
	Evaluators   []EvaluatorConfig `json:"evaluators,omitempty" yaml:"evaluators"`
	Scope        ExecutionScope   `json:"scope" yaml:"scope"`
	Concurrency  int              `json:"concurrency,omitempty" yaml:"concurrency"`
}

// DatasetReference points at the rows a run evaluates: either inline
// rows or a saved document in the object store.
type DatasetReference struct {
	Rows      []Row    `json:"rows,omitempty" yaml:"rows"`
	Columns   []Column `json:"columns,omitempty" yaml:"columns"`
	ObjectKey string   `json:"object_key,omitempty" yaml:"object_key"`
}

func (d DatasetReference) Inline() bool {
	return strings.TrimSpace(d.ObjectKey) == ""
}

// TargetConfig identifies one system under evaluation.
type TargetConfig struct {
	ID      string   `json:"id" yaml:"id"`
	Kind    string   `json:"kind" yaml:"kind"`
	Options Metadata `json:"options,omitempty" yaml:"options"`
}

// EvaluatorConfig identifies one scorer and the targets it applies to.
// Empty TargetIDs binds the evaluator to every target.
type EvaluatorConfig struct {
	ID        string   `json:"id" yaml:"id"`
	Kind      string   `json:"kind" yaml:"kind"`
	TargetIDs []string `json:"target_ids,omitempty" yaml:"target_ids"`
	Options   Metadata `json:"options,omitempty" yaml:"options"`
}

// AppliesTo reports whether the evaluator is bound to the target.
func (e EvaluatorConfig) AppliesTo(targetID string) bool {
	if len(e.TargetIDs) == 0 {
		return true
	}
	for _, id := range e.TargetIDs {
		if strings.TrimSpace(id) == targetID {
			return true
		}
	}
	return false
}

// EffectiveConcurrency resolves the worker count: the configured value
// clamped to MaxConcurrency, or DefaultConcurrency when unset.
func (r ExecutionRequest) EffectiveConcurrency() int {
	c := r.Concurrency
	if c <= 0 {
		c = DefaultConcurrency
	}
	if c > MaxConcurrency {
		c = MaxConcurrency
	}
	return c
}

func (r ExecutionRequest) Validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if len(r.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	if r.Concurrency < 0 || r.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d", MaxConcurrency)
	}
	if r.Dataset.Inline() && len(r.Dataset.Rows) == 0 {
		return errors.New("dataset rows or object key is required")
	}

	targetIDs := make(map[string]struct{}, len(r.Targets))
	for i, target := range r.Targets {
		id := strings.TrimSpace(target.ID)
		if id == "" {
			return fmt.Errorf("targets[%d].id is required", i)
		}
		if strings.TrimSpace(target.Kind) == "" {
			return fmt.Errorf("targets[%d].kind is required", i)
		}
		if _, ok := targetIDs[id]; ok {
			return fmt.Errorf("targets[%d].id must be unique (duplicate %q)", i, id)
		}
		targetIDs[id] = struct{}{}
	}

	evaluatorIDs := make(map[string]struct{}, len(r.Evaluators))
	for i, evaluator := range r.Evaluators {
		id := strings.TrimSpace(evaluator.ID)
		if id == "" {
			return fmt.Errorf("evaluators[%d].id is required", i)
		}
		if strings.TrimSpace(evaluator.Kind) == "" {
			return fmt.Errorf("evaluators[%d].kind is required", i)
		}
		if _, ok := evaluatorIDs[id]; ok {
			return fmt.Errorf("evaluators[%d].id must be unique (duplicate %q)", i, id)
		}
		evaluatorIDs[id] = struct{}{}
		for _, targetID := range evaluator.TargetIDs {
			if _, ok := targetIDs[strings.TrimSpace(targetID)]; !ok {
				return fmt.Errorf("evaluators[%d] references unknown target %q", i, targetID)
			}
		}
	}

	return r.Scope.Validate()
}
