package stream

import (
	"encoding/json"
	"testing"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

func TestStreamOrderAndClose(t *testing.T) {
	s := New()
	s.Publish(NewExecutionStarted("run-1", 2))
	s.Publish(NewCellStarted(0, "echo"))
	s.Publish(NewDone(domain.ExecutionSummary{RunID: "run-1"}))
	s.Close()
	s.Close()

	var types []string
	for event := range s.Events() {
		types = append(types, event.EventType())
	}
	want := []string{TypeExecutionStarted, TypeCellStarted, TypeDone}
	if len(types) != len(want) {
		t.Fatalf("got %d events, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events[%d]=%q, want %q", i, types[i], want[i])
		}
	}
}

func TestEventWireShapes(t *testing.T) {
	passed := true
	cases := []struct {
		event Event
		want  string
	}{
		{NewExecutionStarted("run-1", 4), `{"type":"execution_started","runId":"run-1","total":4}`},
		{NewCellStarted(1, "echo"), `{"type":"cell_started","rowIndex":1,"targetId":"echo"}`},
		{NewProgress(3, 4), `{"type":"progress","completed":3,"total":4}`},
		{NewError("boom"), `{"type":"error","message":"boom"}`},
		{NewStopped(StopReasonUser), `{"type":"stopped","reason":"user"}`},
		{
			NewTargetResult(0, "echo", domain.TargetResult{Output: "hi", DurationMs: 5}),
			`{"type":"target_result","rowIndex":0,"targetId":"echo","output":"hi","duration":5}`,
		},
		{
			NewEvaluatorResult(0, "echo", "em", domain.EvaluatorResult{Passed: &passed}),
			`{"type":"evaluator_result","rowIndex":0,"targetId":"echo","evaluatorId":"em","result":{"passed":true}}`,
		},
	}

	for _, tc := range cases {
		raw, err := json.Marshal(tc.event)
		if err != nil {
			t.Fatalf("marshal %s: %v", tc.event.EventType(), err)
		}
		if string(raw) != tc.want {
			t.Fatalf("%s wire shape\n got %s\nwant %s", tc.event.EventType(), raw, tc.want)
		}
	}
}

func TestCellErrorCarriesContext(t *testing.T) {
	raw, err := json.Marshal(NewCellError("target exploded", 2, "echo"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"error","message":"target exploded","rowIndex":2,"targetId":"echo"}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
}
