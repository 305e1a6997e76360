package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdict-labs/verdict-go/internal/capability"
	"github.com/verdict-labs/verdict-go/internal/dataset"
	"github.com/verdict-labs/verdict-go/internal/dispatch"
	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/execution/runner"
	"github.com/verdict-labs/verdict-go/internal/execution/scope"
	"github.com/verdict-labs/verdict-go/internal/execution/state"
	"github.com/verdict-labs/verdict-go/internal/execution/stream"
)

// runManager owns the live runs of this process: it starts schedulers,
// consumes each run's event stream into a replayable history, and
// evicts finished runs after a TTL.
type runManager struct {
	log        *slog.Logger
	registry   *state.Registry
	dispatcher *dispatch.Dispatcher
	loader     dataset.Loader
	httpClient *http.Client
	baseCtx    context.Context
	ttl        time.Duration

	mu   sync.Mutex
	runs map[string]*managedRun
}

func newRunManager(baseCtx context.Context, logger *slog.Logger, dispatcher *dispatch.Dispatcher, loader dataset.Loader, ttl time.Duration) *runManager {
	return &runManager{
		log:        logger,
		registry:   state.NewRegistry(),
		dispatcher: dispatcher,
		loader:     loader,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseCtx:    baseCtx,
		ttl:        ttl,
		runs:       make(map[string]*managedRun),
	}
}

// managedRun is one run's ordered event history plus live fanout to
// stream subscribers.
type managedRun struct {
	store *state.Store

	mu       sync.Mutex
	history  []stream.Event
	subs     map[chan stream.Event]struct{}
	closed   bool
	finished time.Time
}

func (r *managedRun) broadcast(event stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, event)
	for ch := range r.subs {
		select {
		case ch <- event:
		default:
			// Subscriber fell too far behind; cut it loose so the
			// client reconnects rather than seeing a gap.
			delete(r.subs, ch)
			close(ch)
		}
	}
}

func (r *managedRun) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.finished = time.Now().UTC()
	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
}

// subscribe replays the full history into a fresh channel and keeps
// it attached for live events. The channel closes at run end.
func (r *managedRun) subscribe() chan stream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan stream.Event, len(r.history)+512)
	for _, event := range r.history {
		ch <- event
	}
	if r.closed {
		close(ch)
		return ch
	}
	r.subs[ch] = struct{}{}
	return ch
}

func (r *managedRun) unsubscribe(ch chan stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(ch)
	}
}

// start validates nothing: the request must already be validated and
// the cells resolved. It seeds state, launches the scheduler, and
// begins draining the stream.
func (m *runManager) start(req domain.ExecutionRequest, cells []domain.ExecutionCell, caps runner.Capabilities) (string, int, error) {
	runID := uuid.NewString()
	store, err := state.NewStore(runID, req, cells)
	if err != nil {
		return "", 0, err
	}
	m.registry.Put(store)

	run := &managedRun{
		store: store,
		subs:  make(map[chan stream.Event]struct{}),
	}
	m.mu.Lock()
	m.runs[runID] = run
	m.mu.Unlock()

	st := stream.New()
	scheduler := runner.NewScheduler(caps, m.dispatcher, m.log)
	go scheduler.Run(m.baseCtx, store, st, cells, req.EffectiveConcurrency())
	go func() {
		for event := range st.Events() {
			run.broadcast(event)
		}
		run.finish()
	}()

	return runID, len(cells), nil
}

// prepare turns an incoming request into resolved cells and bound
// capabilities. Resolution failures happen here, before any run state
// exists or any event is emitted.
func (m *runManager) prepare(ctx context.Context, req domain.ExecutionRequest) ([]domain.ExecutionCell, runner.Capabilities, error) {
	resolved, err := dataset.Resolve(ctx, req.Dataset, m.loader)
	if err != nil {
		return nil, nil, err
	}
	cells, err := scope.Resolve(req, resolved)
	if err != nil {
		return nil, nil, err
	}
	caps, err := capability.NewRegistry(req, m.httpClient)
	if err != nil {
		return nil, nil, err
	}
	return cells, caps, nil
}

func (m *runManager) get(runID string) (*managedRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	return run, ok
}

func (m *runManager) requestStop(runID string) bool {
	return m.registry.RequestStop(runID)
}

func (m *runManager) snapshot(runID string) (domain.ExecutionState, bool) {
	store, ok := m.registry.Get(runID)
	if !ok {
		return domain.ExecutionState{}, false
	}
	return store.Snapshot(), true
}

// janitor evicts finished runs past the TTL until ctx is done.
func (m *runManager) janitor(ctx context.Context) {
	interval := m.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *runManager) sweep() {
	cutoff := time.Now().UTC().Add(-m.ttl)

	m.mu.Lock()
	for runID, run := range m.runs {
		run.mu.Lock()
		expired := run.closed && run.finished.Before(cutoff)
		run.mu.Unlock()
		if expired {
			delete(m.runs, runID)
			m.registry.Delete(runID)
		}
	}
	m.mu.Unlock()

	if dropped := m.registry.Sweep(m.ttl); dropped > 0 {
		m.log.Info("evicted finished runs", "count", dropped)
	}
}
