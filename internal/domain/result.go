package domain

// TargetResult is the outcome of one target invocation.
type TargetResult struct {
	Output     any     `json:"output"`
	Cost       float64 `json:"cost,omitempty"`
	DurationMs int64   `json:"duration,omitempty"`
	TraceID    string  `json:"trace_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// EvaluatorResult is the outcome of one evaluator invocation for one
// cell. A non-empty Error marks the evaluator itself as failed; it
// never affects the cell's target-level status.
type EvaluatorResult struct {
	Passed  *bool    `json:"passed,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Label   string   `json:"label,omitempty"`
	Details Metadata `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}
