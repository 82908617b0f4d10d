package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/keysearch/internal/cluster"
	"github.com/dreamware/keysearch/internal/keyspace"
)

// ErrRegistryFull is returned when a new worker registers after the expected
// number of workers is already known.
var ErrRegistryFull = errors.New("all expected workers already registered")

// WorkerStatus is the coordinator's view of a worker process.
type WorkerStatus string

const (
	WorkerRegistered  WorkerStatus = "registered"
	WorkerStarted     WorkerStatus = "started"
	WorkerScanning    WorkerStatus = "scanning"
	WorkerTerminated  WorkerStatus = "terminated"
	WorkerAborted     WorkerStatus = "aborted"
	WorkerUnreachable WorkerStatus = "unreachable"
)

// WorkerRecord tracks one registered worker.
//
// Thread Safety:
// Records are owned by the Registry. Every accessor returns copies.
type WorkerRecord struct {
	// Registered is when the worker first announced itself.
	Registered time.Time `json:"registered"`

	// Unit is the unit most recently handed to the worker, nil before the
	// first assignment and after termination.
	Unit *keyspace.WorkUnit `json:"unit,omitempty"`

	// ID uniquely identifies the worker for the lifetime of the run.
	ID string `json:"id"`

	// Addr is the base URL of the worker's control endpoint.
	Addr string `json:"addr"`

	Status WorkerStatus `json:"status"`

	// UnitsIssued counts the units the worker has received.
	UnitsIssued uint64 `json:"units_issued"`
}

func (w WorkerRecord) live() bool {
	switch w.Status {
	case WorkerTerminated, WorkerAborted, WorkerUnreachable:
		return false
	default:
		return true
	}
}

// Registry holds the membership of a run: which workers exist, where their
// control endpoints listen and what each was last given.
//
// Membership is closed: the registry accepts exactly the number of workers
// the run was configured with. Full is closed once that many have
// registered, which is the coordinator's cue to broadcast the ciphertext.
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - No locks held during network I/O
type Registry struct {
	full     chan struct{}
	workers  []*WorkerRecord
	mu       sync.RWMutex
	expected int
}

// NewRegistry creates a registry for a run of expected workers.
func NewRegistry(expected int) *Registry {
	return &Registry{
		full:     make(chan struct{}),
		workers:  make([]*WorkerRecord, 0, expected),
		expected: expected,
	}
}

// Register adds a worker or refreshes the address of a known one.
//
// Returns:
//   - true when the worker is new
//   - ErrRegistryFull if the worker is unknown and the run is already complete
//   - an error when id or addr is empty
func (r *Registry) Register(info cluster.WorkerInfo) (bool, error) {
	if info.ID == "" || info.Addr == "" {
		return false, errors.New("worker id and addr are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.workers, func(w *WorkerRecord) bool { return w.ID == info.ID })
	if idx >= 0 {
		r.workers[idx].Addr = info.Addr
		return false, nil
	}
	if len(r.workers) >= r.expected {
		return false, fmt.Errorf("%w (%d)", ErrRegistryFull, r.expected)
	}

	r.workers = append(r.workers, &WorkerRecord{
		ID:         info.ID,
		Addr:       info.Addr,
		Status:     WorkerRegistered,
		Registered: time.Now(),
	})
	if len(r.workers) == r.expected {
		close(r.full)
	}
	return true, nil
}

// Full is closed once every expected worker has registered.
func (r *Registry) Full() <-chan struct{} { return r.full }

// Expected returns the configured worker count.
func (r *Registry) Expected() int { return r.expected }

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Known reports whether id has registered.
func (r *Registry) Known(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Get returns a copy of the worker's record.
func (r *Registry) Get(id string) (WorkerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := slices.IndexFunc(r.workers, func(w *WorkerRecord) bool { return w.ID == id })
	if idx < 0 {
		return WorkerRecord{}, false
	}
	return copyRecord(r.workers[idx]), true
}

// List returns copies of all records in registration order.
func (r *Registry) List() []WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerRecord, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, copyRecord(w))
	}
	return out
}

// All returns the addresses of every registered worker.
func (r *Registry) All() []cluster.WorkerInfo {
	return r.infos(func(*WorkerRecord) bool { return true })
}

// Live returns the workers that have not terminated, aborted or been marked
// unreachable. These are the targets of health checks and abort broadcasts.
func (r *Registry) Live() []cluster.WorkerInfo {
	return r.infos(func(w *WorkerRecord) bool { return w.live() })
}

func (r *Registry) infos(keep func(*WorkerRecord) bool) []cluster.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cluster.WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		if keep(w) {
			out = append(out, cluster.WorkerInfo{ID: w.ID, Addr: w.Addr})
		}
	}
	return out
}

// SetStatus updates a worker's status. Unknown ids are ignored.
func (r *Registry) SetStatus(id string, status WorkerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := slices.IndexFunc(r.workers, func(w *WorkerRecord) bool { return w.ID == id }); idx >= 0 {
		r.workers[idx].Status = status
	}
}

// RecordAssignment folds the coordinator's answer to a work request into the
// worker's record.
func (r *Registry) RecordAssignment(id string, a cluster.Assignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.workers, func(w *WorkerRecord) bool { return w.ID == id })
	if idx < 0 {
		return
	}
	w := r.workers[idx]
	switch a.Kind {
	case cluster.AssignUnit:
		u := a.Unit
		w.Unit = &u
		w.UnitsIssued++
		w.Status = WorkerScanning
	case cluster.AssignTerminate:
		w.Unit = nil
		w.Status = WorkerTerminated
	case cluster.AssignAbort:
		w.Unit = nil
		w.Status = WorkerAborted
	}
}

func copyRecord(w *WorkerRecord) WorkerRecord {
	c := *w
	if w.Unit != nil {
		u := *w.Unit
		c.Unit = &u
	}
	return c
}
