// Package capability provides the built-in target and evaluator
// implementations and resolves configured kinds at run creation time,
// so an unknown kind fails the request instead of a live run.
package capability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

// TargetRunner executes one target kind for a cell.
type TargetRunner interface {
	Run(ctx context.Context, cell domain.ExecutionCell) (domain.TargetResult, error)
}

// Evaluator scores one cell's target output.
type Evaluator interface {
	Evaluate(ctx context.Context, cell domain.ExecutionCell, targetOutput any) (domain.EvaluatorResult, error)
}

// Registry binds a request's configured targets and evaluators to
// concrete implementations. Implements the runner's Capabilities
// contract; safe for concurrent use after construction.
type Registry struct {
	targets    map[string]TargetRunner
	evaluators map[string]Evaluator
}

// NewRegistry resolves every configured kind. httpClient backs the
// http target kind; nil gets a default with a 60s timeout.
func NewRegistry(req domain.ExecutionRequest, httpClient *http.Client) (*Registry, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	r := &Registry{
		targets:    make(map[string]TargetRunner, len(req.Targets)),
		evaluators: make(map[string]Evaluator, len(req.Evaluators)),
	}
	for _, target := range req.Targets {
		runner, err := newTargetRunner(target, httpClient)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target.ID, err)
		}
		r.targets[target.ID] = runner
	}
	for _, evaluator := range req.Evaluators {
		impl, err := newEvaluator(evaluator)
		if err != nil {
			return nil, fmt.Errorf("evaluator %s: %w", evaluator.ID, err)
		}
		r.evaluators[evaluator.ID] = impl
	}
	return r, nil
}

func (r *Registry) RunTarget(ctx context.Context, cell domain.ExecutionCell) (domain.TargetResult, error) {
	runner, ok := r.targets[cell.TargetID]
	if !ok {
		return domain.TargetResult{}, fmt.Errorf("no runner for target %s", cell.TargetID)
	}

	started := time.Now()
	result, err := runner.Run(ctx, cell)
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(started).Milliseconds()
	}
	return result, err
}

func (r *Registry) RunEvaluator(ctx context.Context, cell domain.ExecutionCell, evaluatorID string, targetOutput any) (domain.EvaluatorResult, error) {
	evaluator, ok := r.evaluators[evaluatorID]
	if !ok {
		return domain.EvaluatorResult{}, fmt.Errorf("no evaluator %s", evaluatorID)
	}
	return evaluator.Evaluate(ctx, cell, targetOutput)
}

func newTargetRunner(cfg domain.TargetConfig, httpClient *http.Client) (TargetRunner, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "echo":
		return newEchoTarget(cfg)
	case "template":
		return newTemplateTarget(cfg)
	case "http":
		return newHTTPTarget(cfg, httpClient)
	default:
		return nil, fmt.Errorf("unknown target kind %q", cfg.Kind)
	}
}

func newEvaluator(cfg domain.EvaluatorConfig) (Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "exact_match":
		return newExactMatch(cfg), nil
	case "contains":
		return newContains(cfg), nil
	case "regex_match":
		return newRegexMatch(cfg)
	case "json_required_keys":
		return newJSONRequiredKeys(cfg)
	default:
		return nil, fmt.Errorf("unknown evaluator kind %q", cfg.Kind)
	}
}

func optionString(options domain.Metadata, key, fallback string) string {
	if options == nil {
		return fallback
	}
	if value, ok := options[key].(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// stringify renders a target output or row value for text comparison.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
