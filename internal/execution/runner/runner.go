package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/verdict-labs/verdict-go/internal/dispatch"
	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/execution/state"
	"github.com/verdict-labs/verdict-go/internal/execution/stream"
)

// Scheduler drains a resolved cell set through a bounded worker pool.
type Scheduler struct {
	Caps     Capabilities
	Dispatch commandSink
	Log      *slog.Logger
}

func NewScheduler(caps Capabilities, dispatcher commandSink, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{Caps: caps, Dispatch: dispatcher, Log: logger}
}

// Run executes the cells and closes the stream after the terminal
// event. Blocking; callers run it in a goroutine per run. Stop is
// cooperative: claimed cells finish, unclaimed cells stay pending.
func (s *Scheduler) Run(ctx context.Context, store *state.Store, st *stream.Stream, cells []domain.ExecutionCell, concurrency int) {
	defer st.Close()

	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(cells) {
		concurrency = len(cells)
	}

	st.Publish(stream.NewExecutionStarted(store.RunID(), len(cells)))
	s.Dispatch.Notify(
		dispatch.NewStartRun(store.RunID(), store.ProjectID(), len(cells)),
		store.CountDispatchFailure,
	)

	executor := &CellExecutor{
		Caps:     s.Caps,
		Store:    store,
		Stream:   st,
		Dispatch: s.Dispatch,
		Log:      s.Log,
	}

	// feedCtx unblocks the feeder when the pool exits early.
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()

	// Unbuffered, so a stop request leaves unclaimed cells pending
	// instead of letting them sit in a queue a worker will drain.
	queue := make(chan domain.ExecutionCell)
	go func() {
		defer close(queue)
		for _, cell := range cells {
			if store.StopRequested() || feedCtx.Err() != nil {
				return
			}
			select {
			case queue <- cell:
			case <-feedCtx.Done():
				return
			}
		}
	}()

	// progressMu serializes the settle-then-publish pair so progress
	// counts never appear out of order on the stream.
	var progressMu sync.Mutex

	g := new(errgroup.Group)
	for range concurrency {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker panicked: %v", r)
				}
			}()
			for cell := range queue {
				executor.Execute(ctx, cell)

				progressMu.Lock()
				completed, failed, total := store.Progress()
				st.Publish(stream.NewProgress(completed+failed, total))
				progressMu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	switch {
	case err != nil:
		if settleErr := store.Settle(domain.RunError, err.Error()); settleErr != nil {
			s.Log.Error("run settle failed", "run_id", store.RunID(), "error", settleErr)
		}
		s.Log.Error("run aborted", "run_id", store.RunID(), "error", err)
		st.Publish(stream.NewError(err.Error()))
		st.Publish(stream.NewDone(store.Summary()))
	case store.StopRequested(), ctx.Err() != nil:
		if settleErr := store.Settle(domain.RunStopped, ""); settleErr != nil {
			s.Log.Error("run settle failed", "run_id", store.RunID(), "error", settleErr)
		}
		reason := stream.StopReasonUser
		if !store.StopRequested() {
			reason = stream.StopReasonError
		}
		st.Publish(stream.NewStopped(reason))
	default:
		if settleErr := store.Settle(domain.RunCompleted, ""); settleErr != nil {
			s.Log.Error("run settle failed", "run_id", store.RunID(), "error", settleErr)
		}
		st.Publish(stream.NewDone(store.Summary()))
	}

	s.Dispatch.Notify(
		dispatch.NewCompleteRun(store.RunID(), store.ProjectID(), store.Summary()),
		store.CountDispatchFailure,
	)
}
