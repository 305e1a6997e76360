// Command evalrun executes an evaluation request from a YAML file and
// prints each lifecycle event as one JSON line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verdict-labs/verdict-go/internal/capability"
	"github.com/verdict-labs/verdict-go/internal/dataset"
	"github.com/verdict-labs/verdict-go/internal/dispatch"
	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/execution/runner"
	"github.com/verdict-labs/verdict-go/internal/execution/scope"
	"github.com/verdict-labs/verdict-go/internal/execution/state"
	"github.com/verdict-labs/verdict-go/internal/execution/stream"
	"github.com/verdict-labs/verdict-go/internal/platform/requestid"
)

func main() {
	requestFile := flag.String("f", "", "path to the request YAML file")
	concurrency := flag.Int("concurrency", 0, "override request concurrency (1-24)")
	timeout := flag.Duration("timeout", 0, "abort the run after this duration (0 = none)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *requestFile == "" {
		fmt.Fprintln(os.Stderr, "usage: evalrun -f request.yaml [-concurrency N] [-timeout 5m]")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*requestFile)
	if err != nil {
		logger.Error("read request file", "error", err)
		os.Exit(2)
	}
	var req domain.ExecutionRequest
	if err := yaml.Unmarshal(raw, &req); err != nil {
		logger.Error("parse request file", "error", err)
		os.Exit(2)
	}
	if *concurrency > 0 {
		req.Concurrency = *concurrency
	}
	if err := req.Validate(); err != nil {
		logger.Error("invalid request", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	if err := run(ctx, logger, req); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, req domain.ExecutionRequest) error {
	resolved, err := dataset.Resolve(ctx, req.Dataset, nil)
	if err != nil {
		return fmt.Errorf("resolve dataset: %w", err)
	}
	cells, err := scope.Resolve(req, resolved)
	if err != nil {
		return fmt.Errorf("resolve scope: %w", err)
	}
	caps, err := capability.NewRegistry(req, nil)
	if err != nil {
		return fmt.Errorf("bind capabilities: %w", err)
	}

	runID, err := requestid.New()
	if err != nil {
		return fmt.Errorf("allocate run id: %w", err)
	}
	store, err := state.NewStore(runID, req, cells)
	if err != nil {
		return err
	}

	st := stream.New()
	scheduler := runner.NewScheduler(caps, dispatch.Noop(), logger)
	go func() {
		<-ctx.Done()
		store.RequestStop()
	}()
	go scheduler.Run(ctx, store, st, cells, req.EffectiveConcurrency())

	started := time.Now()
	enc := json.NewEncoder(os.Stdout)
	for event := range st.Events() {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}

	summary := store.Summary()
	logger.Info("run finished",
		"run_id", runID,
		"status", string(store.Status()),
		"completed", summary.CompletedCells,
		"failed", summary.FailedCells,
		"elapsed", time.Since(started).Round(time.Millisecond).String())

	if store.Status() == domain.RunError {
		return fmt.Errorf("run ended with status error")
	}
	return nil
}
