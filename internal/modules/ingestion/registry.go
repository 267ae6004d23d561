package ingestion

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// run is the in-process record of a live driver. At most one exists per document.
type run struct {
	documentID uuid.UUID
	cancel     atomic.Bool
	done       chan struct{}
}

func (r *run) requestCancel()       { r.cancel.Store(true) }
func (r *run) cancelRequested() bool { return r.cancel.Load() }

type registry struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*run
}

func newRegistry() *registry {
	return &registry{runs: map[uuid.UUID]*run{}}
}

// acquire registers a driver for id. The bool is false when one is already live.
func (r *registry) acquire(id uuid.UUID) (*run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.runs[id]; ok {
		return existing, false
	}
	rn := &run{documentID: id, done: make(chan struct{})}
	r.runs[id] = rn
	return rn, true
}

func (r *registry) get(id uuid.UUID) *run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

func (r *registry) release(rn *run) {
	r.mu.Lock()
	if cur, ok := r.runs[rn.documentID]; ok && cur == rn {
		delete(r.runs, rn.documentID)
	}
	r.mu.Unlock()
	close(rn.done)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
