package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/verdict-labs/verdict-go/internal/dispatch"
	"github.com/verdict-labs/verdict-go/internal/domain"
)

func newTestServer(t *testing.T) (*httptest.Server, *runManager) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	manager := newRunManager(context.Background(), logger, dispatch.Noop(), nil, time.Hour)

	mux := http.NewServeMux()
	newEvaluationsAPI(logger, manager).register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, manager
}

func createRunBody() string {
	return `{
		"project_id": "proj-1",
		"dataset": {"rows": [
			{"input": "alpha", "expected": "alpha"},
			{"input": "beta", "expected": "gamma"}
		]},
		"targets": [{"id": "echo", "kind": "echo"}],
		"evaluators": [{"id": "exact_match", "kind": "exact_match"}],
		"scope": {"kind": "full"}
	}`
}

func createRun(t *testing.T, server *httptest.Server, body string) (string, int) {
	t.Helper()

	resp, err := http.Post(server.URL+"/api/v1/evaluations", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST err=%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d body=%s", resp.StatusCode, raw)
	}
	var out struct {
		RunID      string `json:"run_id"`
		TotalCells int    `json:"total_cells"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.RunID, out.TotalCells
}

func waitForTerminal(t *testing.T, server *httptest.Server, runID string) domain.ExecutionState {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(server.URL + "/api/v1/evaluations/" + runID)
		if err != nil {
			t.Fatalf("GET err=%v", err)
		}
		var snap domain.ExecutionState
		err = json.NewDecoder(resp.Body).Decode(&snap)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snap.Status != domain.RunRunning {
			return snap
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal status", runID)
	return domain.ExecutionState{}
}

func TestCreateRunAndSnapshot(t *testing.T) {
	server, _ := newTestServer(t)

	runID, total := createRun(t, server, createRunBody())
	if runID == "" || total != 2 {
		t.Fatalf("run_id=%q total=%d", runID, total)
	}

	snap := waitForTerminal(t, server, runID)
	if snap.Status != domain.RunCompleted {
		t.Fatalf("status=%s, want completed", snap.Status)
	}
	if snap.Completed != 2 || snap.Failed != 0 {
		t.Fatalf("completed=%d failed=%d", snap.Completed, snap.Failed)
	}

	cell := snap.Cells["0-echo"]
	if cell.Status != domain.CellSuccess || cell.Output != "alpha" {
		t.Fatalf("cell=%+v", cell)
	}
	result := cell.Evaluators["exact_match"]
	if result.Passed == nil || !*result.Passed {
		t.Fatalf("row 0 should pass exact match: %+v", result)
	}
	mismatch := snap.Cells["1-echo"].Evaluators["exact_match"]
	if mismatch.Passed == nil || *mismatch.Passed {
		t.Fatalf("row 1 should fail exact match: %+v", mismatch)
	}
}

func TestCreateRunValidation(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/v1/evaluations", "application/json",
		strings.NewReader(`{"project_id":"p"}`))
	if err != nil {
		t.Fatalf("POST err=%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
}

func TestCreateRunScopeTargetNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	body := strings.Replace(createRunBody(), `{"kind": "full"}`,
		`{"kind": "target", "target_id": "missing"}`, 1)
	resp, err := http.Post(server.URL+"/api/v1/evaluations", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST err=%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error != "target_not_found" {
		t.Fatalf("error=%q", out.Error)
	}
}

func TestCreateRunUnknownCapabilityKind(t *testing.T) {
	server, _ := newTestServer(t)

	body := strings.Replace(createRunBody(), `"kind": "echo"`, `"kind": "quantum"`, 1)
	resp, err := http.Post(server.URL+"/api/v1/evaluations", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST err=%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, unknown kinds must fail before the run starts", resp.StatusCode)
	}
}

func TestStopRun(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/v1/evaluations/nope/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST err=%v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404 for unknown run", resp.StatusCode)
	}

	runID, _ := createRun(t, server, createRunBody())
	resp, err = http.Post(server.URL+"/api/v1/evaluations/"+runID+"/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST err=%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status=%d, want 202", resp.StatusCode)
	}
	var out struct {
		RunID    string `json:"run_id"`
		Stopping bool   `json:"stopping"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.RunID != runID || !out.Stopping {
		t.Fatalf("out=%+v", out)
	}

	snap := waitForTerminal(t, server, runID)
	if snap.Status != domain.RunCompleted && snap.Status != domain.RunStopped {
		t.Fatalf("status=%s", snap.Status)
	}
}

func TestStreamEvents(t *testing.T) {
	server, _ := newTestServer(t)

	runID, _ := createRun(t, server, createRunBody())
	waitForTerminal(t, server, runID)

	resp, err := http.Get(server.URL + "/api/v1/evaluations/" + runID + "/events")
	if err != nil {
		t.Fatalf("GET err=%v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	body := string(raw)

	for _, marker := range []string{
		"event: execution_started",
		"event: cell_started",
		"event: target_result",
		"event: evaluator_result",
		"event: progress",
		"event: done",
	} {
		if !strings.Contains(body, marker) {
			t.Fatalf("stream missing %q:\n%s", marker, body)
		}
	}
	if !strings.Contains(body, `"completedCells":2`) {
		t.Fatalf("done summary missing completed count:\n%s", body)
	}
	// done must be the final event on the wire.
	lastEvent := body[strings.LastIndex(body, "event: "):]
	if !strings.HasPrefix(lastEvent, "event: done") {
		t.Fatalf("last event was not done:\n%s", lastEvent)
	}
}

func TestStreamEventsUnknownRun(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/evaluations/nope/events")
	if err != nil {
		t.Fatalf("GET err=%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}
