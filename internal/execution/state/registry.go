package state

import (
	"sync"
	"time"
)

// Registry indexes live run stores by run id.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Store
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Store)}
}

func (r *Registry) Put(store *Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[store.RunID()] = store
}

func (r *Registry) Get(runID string) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.runs[runID]
	return store, ok
}

func (r *Registry) Delete(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// RequestStop flags a run for cooperative cancellation. Reports
// whether the run exists.
func (r *Registry) RequestStop(runID string) bool {
	store, ok := r.Get(runID)
	if !ok {
		return false
	}
	store.RequestStop()
	return true
}

// Sweep removes terminal runs older than ttl, returning how many were
// dropped. Called by the service janitor.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for runID, store := range r.runs {
		snap := store.Snapshot()
		if snap.FinishedAt == nil {
			continue
		}
		if snap.FinishedAt.Before(cutoff) {
			delete(r.runs, runID)
			dropped++
		}
	}
	return dropped
}
