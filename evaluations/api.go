package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/execution/scope"
)

const heartbeatInterval = 15 * time.Second

type evaluationsAPI struct {
	logger  *slog.Logger
	manager *runManager
}

func newEvaluationsAPI(logger *slog.Logger, manager *runManager) *evaluationsAPI {
	return &evaluationsAPI{logger: logger, manager: manager}
}

func (api *evaluationsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/evaluations", api.handleCreateRun)
	mux.HandleFunc("GET /api/v1/evaluations/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /api/v1/evaluations/{run_id}/events", api.handleStreamEvents)
	mux.HandleFunc("POST /api/v1/evaluations/{run_id}/stop", api.handleStopRun)
}

func (api *evaluationsAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := req.Validate(); err != nil {
		api.logger.Info("run rejected", "error", err)
		api.writeError(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	cells, caps, err := api.manager.prepare(r.Context(), req)
	if err != nil {
		status, code := resolutionError(err)
		api.logger.Info("run resolution failed", "error", err, "code", code)
		api.writeError(w, r, status, code)
		return
	}

	runID, totalCells, err := api.manager.start(req, cells, caps)
	if err != nil {
		api.logger.Error("run start failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.logger.Info("run started",
		"run_id", runID, "project_id", req.ProjectID, "total_cells", totalCells,
		"concurrency", req.EffectiveConcurrency())
	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":      runID,
		"total_cells": totalCells,
	})
}

// resolutionError maps scope and dataset failures to response codes.
// All of them fire before the run exists.
func resolutionError(err error) (int, string) {
	var targetNotFound *scope.TargetNotFoundError
	var cellNotFound *scope.CellNotFoundError
	var evaluatorNotFound *scope.EvaluatorNotFoundError
	switch {
	case errors.As(err, &targetNotFound):
		return http.StatusNotFound, "target_not_found"
	case errors.As(err, &cellNotFound):
		return http.StatusNotFound, "cell_not_found"
	case errors.As(err, &evaluatorNotFound):
		return http.StatusNotFound, "evaluator_not_found"
	default:
		return http.StatusBadRequest, "invalid_request"
	}
}

func (api *evaluationsAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	snapshot, ok := api.manager.snapshot(runID)
	if !ok {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.writeJSON(w, http.StatusOK, snapshot)
}

func (api *evaluationsAPI) handleStopRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	if !api.manager.requestStop(runID) {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.logger.Info("stop requested", "run_id", runID)
	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":   runID,
		"stopping": true,
	})
}

func (api *evaluationsAPI) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	run, ok := api.manager.get(runID)
	if !ok {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.writeError(w, r, http.StatusInternalServerError, "streaming_not_supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := run.subscribe()
	defer run.unsubscribe(events)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, event.EventType(), "", event); err != nil {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, id string, payload any) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", blob); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *evaluationsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *evaluationsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
