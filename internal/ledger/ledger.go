// Package ledger records every work unit the coordinator issues so a run can
// be audited afterwards: which worker scanned which range, and whether the
// issued ranges tile the key space without gaps or overlaps.
package ledger

import (
	"errors"
	"sort"
	"sync"

	"github.com/dreamware/keysearch/internal/keyspace"
)

// ErrWorkerNotFound is returned when no unit was recorded for a worker.
var ErrWorkerNotFound = errors.New("no units recorded for worker")

// Ledger stores issued units.
// All implementations must be thread-safe for concurrent access.
type Ledger interface {
	// Record appends a unit issued to workerID.
	Record(workerID string, u keyspace.WorkUnit)

	// Units returns every recorded unit in issue order.
	Units() []keyspace.WorkUnit

	// Worker returns the units issued to workerID in issue order.
	// Returns ErrWorkerNotFound if the worker received nothing.
	Worker(workerID string) ([]keyspace.WorkUnit, error)

	// Workers returns the ids that received at least one unit, sorted.
	Workers() []string

	Stats() Stats
}

// Stats summarises a ledger.
type Stats struct {
	Units   int    `json:"units"`
	Workers int    `json:"workers"`
	Keys    uint64 `json:"keys"` // saturates at MaxUint64
}

// Entry is one recorded issue.
type Entry struct {
	Worker string            `json:"worker"`
	Unit   keyspace.WorkUnit `json:"unit"`
}

// Memory implements Ledger in memory.
// Uses sync.RWMutex for thread-safe concurrent access.
type Memory struct {
	mu       sync.RWMutex
	entries  []Entry
	byWorker map[string][]int // indexes into entries
}

func NewMemory() *Memory {
	return &Memory{byWorker: make(map[string][]int)}
}

func (m *Memory) Record(workerID string, u keyspace.WorkUnit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byWorker[workerID] = append(m.byWorker[workerID], len(m.entries))
	m.entries = append(m.entries, Entry{Worker: workerID, Unit: u})
}

// Units returns a copy of the recorded units.
func (m *Memory) Units() []keyspace.WorkUnit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]keyspace.WorkUnit, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Unit
	}
	return out
}

// Entries returns a copy of the full log.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

func (m *Memory) Worker(workerID string) ([]keyspace.WorkUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byWorker[workerID]
	if !ok {
		return nil, ErrWorkerNotFound
	}
	out := make([]keyspace.WorkUnit, len(idx))
	for i, j := range idx {
		out[i] = m.entries[j].Unit
	}
	return out, nil
}

func (m *Memory) Workers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byWorker))
	for id := range m.byWorker {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys uint64
	for _, e := range m.entries {
		size := e.Unit.Size()
		if keys+size < keys || size == 0 {
			keys = ^uint64(0)
			continue
		}
		keys += size
	}
	return Stats{Units: len(m.entries), Workers: len(m.byWorker), Keys: keys}
}

// Audit checks that the recorded units cover [0, maxKey] exactly once.
// Only meaningful once the key space has been exhausted.
func Audit(l Ledger, maxKey uint64) error {
	return keyspace.CheckCoverage(l.Units(), maxKey)
}
