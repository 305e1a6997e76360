package domain

import "fmt"

// ExecutionCell is the unit of work: one (row, target) pair plus the
// evaluators bound to that target.
type ExecutionCell struct {
	RowIndex   int
	TargetID   string
	Target     TargetConfig
	Evaluators []EvaluatorConfig
	Row        Row

	// Set only when resolved from an evaluator scope with a supplied
	// target output.
	SkipTarget              bool
	PrecomputedTargetOutput string
	TraceID                 string
}

// Key returns the natural cell key, unique within one resolved set.
func (c ExecutionCell) Key() string {
	return CellKey(c.RowIndex, c.TargetID)
}

func CellKey(rowIndex int, targetID string) string {
	return fmt.Sprintf("%d-%s", rowIndex, targetID)
}
