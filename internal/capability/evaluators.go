package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

func boolResult(passed bool, details domain.Metadata) domain.EvaluatorResult {
	score := 0.0
	if passed {
		score = 1.0
	}
	return domain.EvaluatorResult{Passed: &passed, Score: &score, Details: details}
}

// exactMatch compares the target output against a row column.
// Options: "expected_field" (default "expected"), "trim" (default
// true).
type exactMatch struct {
	expectedField string
	trim          bool
}

func newExactMatch(cfg domain.EvaluatorConfig) *exactMatch {
	trim := true
	if cfg.Options != nil {
		if raw, ok := cfg.Options["trim"].(bool); ok {
			trim = raw
		}
	}
	return &exactMatch{
		expectedField: optionString(cfg.Options, "expected_field", "expected"),
		trim:          trim,
	}
}

func (e *exactMatch) Evaluate(_ context.Context, cell domain.ExecutionCell, targetOutput any) (domain.EvaluatorResult, error) {
	expected := stringify(cell.Row[e.expectedField])
	actual := stringify(targetOutput)
	if e.trim {
		expected = strings.TrimSpace(expected)
		actual = strings.TrimSpace(actual)
	}
	return boolResult(expected == actual, domain.Metadata{"expected": expected}), nil
}

// contains checks the output for a substring: the "needle" option, or
// the expected row column when unset.
type contains struct {
	needle        string
	expectedField string
}

func newContains(cfg domain.EvaluatorConfig) *contains {
	return &contains{
		needle:        optionString(cfg.Options, "needle", ""),
		expectedField: optionString(cfg.Options, "expected_field", "expected"),
	}
}

func (e *contains) Evaluate(_ context.Context, cell domain.ExecutionCell, targetOutput any) (domain.EvaluatorResult, error) {
	needle := e.needle
	if needle == "" {
		needle = stringify(cell.Row[e.expectedField])
	}
	if needle == "" {
		return domain.EvaluatorResult{}, errors.New("nothing to search for: needle option and expected column both empty")
	}
	passed := strings.Contains(stringify(targetOutput), needle)
	return boolResult(passed, domain.Metadata{"needle": needle}), nil
}

// regexMatch tests the output against a pattern compiled at creation.
type regexMatch struct {
	pattern *regexp.Regexp
}

func newRegexMatch(cfg domain.EvaluatorConfig) (*regexMatch, error) {
	raw := optionString(cfg.Options, "pattern", "")
	if raw == "" {
		return nil, errors.New("pattern option is required")
	}
	pattern, err := regexp.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	return &regexMatch{pattern: pattern}, nil
}

func (e *regexMatch) Evaluate(_ context.Context, _ domain.ExecutionCell, targetOutput any) (domain.EvaluatorResult, error) {
	passed := e.pattern.MatchString(stringify(targetOutput))
	return boolResult(passed, domain.Metadata{"pattern": e.pattern.String()}), nil
}

// jsonRequiredKeys parses the output as a JSON object and requires
// every configured key to be present.
type jsonRequiredKeys struct {
	keys []string
}

func newJSONRequiredKeys(cfg domain.EvaluatorConfig) (*jsonRequiredKeys, error) {
	if cfg.Options == nil {
		return nil, errors.New("keys option is required")
	}
	raw, ok := cfg.Options["keys"].([]any)
	if !ok || len(raw) == 0 {
		return nil, errors.New("keys option is required")
	}
	keys := make([]string, 0, len(raw))
	for _, item := range raw {
		key, ok := item.(string)
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.New("keys must be non-empty strings")
		}
		keys = append(keys, key)
	}
	return &jsonRequiredKeys{keys: keys}, nil
}

func (e *jsonRequiredKeys) Evaluate(_ context.Context, _ domain.ExecutionCell, targetOutput any) (domain.EvaluatorResult, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(stringify(targetOutput)), &parsed); err != nil {
		return domain.EvaluatorResult{}, fmt.Errorf("output is not a JSON object: %w", err)
	}

	missing := make([]string, 0)
	for _, key := range e.keys {
		if _, ok := parsed[key]; !ok {
			missing = append(missing, key)
		}
	}
	details := domain.Metadata{"required": e.keys}
	if len(missing) > 0 {
		details["missing"] = missing
	}
	return boolResult(len(missing) == 0, details), nil
}
