package keyspace

import (
	"fmt"
	"math"
)

// Planner hands out work units on demand.
//
// Next returns the unit for the requesting worker, or false once that worker
// must be told there is no more work. Implementations are single-owner.
type Planner interface {
	Next(workerID string) (WorkUnit, bool)
	// Position is the first key not yet issued.
	Position() uint64
	// Exhausted reports whether every key has been issued.
	Exhausted() bool
	// Issued is the number of units handed out so far.
	Issued() uint64
}

// Strategy selects a planner implementation.
type Strategy string

const (
	// StrategyDynamic pulls fixed-size chunks from a shared cursor.
	StrategyDynamic Strategy = "dynamic"
	// StrategyStatic assigns one equal range per worker.
	StrategyStatic Strategy = "static"
)

// NewPlanner builds the planner for strategy. Workers is only used by the
// static strategy and chunk only by the dynamic one.
func NewPlanner(strategy Strategy, maxKey, chunk uint64, workers int) (Planner, error) {
	switch strategy {
	case StrategyDynamic, "":
		return NewCursor(maxKey, chunk)
	case StrategyStatic:
		return NewStatic(maxKey, workers)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// Cursor is the dynamic planner. It advances strictly with every unit.
type Cursor struct {
	next   uint64
	max    uint64
	chunk  uint64
	issued uint64
	done   bool
}

// NewCursor creates a cursor over [0, maxKey] issuing chunk keys at a time.
func NewCursor(maxKey, chunk uint64) (*Cursor, error) {
	if chunk == 0 {
		return nil, ErrInvalidChunkSize
	}
	return &Cursor{max: maxKey, chunk: chunk}, nil
}

// Next returns [cursor, min(cursor+chunk-1, max)] and moves the cursor past it.
// The worker id is ignored: any idle worker gets the next chunk.
func (c *Cursor) Next(string) (WorkUnit, bool) {
	if c.done {
		return WorkUnit{}, false
	}

	lower := c.next
	upper := c.max
	if c.max-lower >= c.chunk {
		upper = lower + c.chunk - 1
	}

	c.issued++
	if upper == c.max {
		c.done = true
		c.next = endPosition(c.max, lower)
	} else {
		c.next = upper + 1
	}
	return WorkUnit{Lower: lower, Upper: upper}, true
}

// Position returns the first key not yet issued, maxKey+1 once exhausted.
// When maxKey is math.MaxUint64 that value does not exist and Position keeps
// the last lower bound; callers must consult Exhausted.
func (c *Cursor) Position() uint64 { return c.next }

// Exhausted reports whether the whole space has been issued.
func (c *Cursor) Exhausted() bool { return c.done }

// Issued returns the number of units issued.
func (c *Cursor) Issued() uint64 { return c.issued }

// Chunk returns the configured chunk size.
func (c *Cursor) Chunk() uint64 { return c.chunk }

// Partition splits [0, maxKey] into parts ranges of equal width, the last
// range taking whatever remains.
func Partition(maxKey uint64, parts int) ([]WorkUnit, error) {
	if parts < 1 {
		return nil, fmt.Errorf("cannot partition into %d parts", parts)
	}
	n := uint64(parts)
	// floor((maxKey+1)/n) without computing maxKey+1
	width := maxKey / n
	if maxKey%n == n-1 {
		width++
	}
	if width == 0 {
		width = 1
	}

	units := make([]WorkUnit, 0, parts)
	var lower uint64
	for i := uint64(0); i < n; i++ {
		upper := lower + width - 1
		if i == n-1 || upper >= maxKey {
			upper = maxKey
		}
		units = append(units, WorkUnit{Lower: lower, Upper: upper})
		if upper == maxKey {
			break
		}
		lower = upper + 1
	}
	return units, nil
}

// Static is the fixed partition planner. The i-th distinct worker to ask
// receives the i-th range; every later request from any worker is refused.
type Static struct {
	units  []WorkUnit
	served map[string]bool
	next   int
}

// NewStatic partitions [0, maxKey] into one range per worker.
func NewStatic(maxKey uint64, workers int) (*Static, error) {
	units, err := Partition(maxKey, workers)
	if err != nil {
		return nil, err
	}
	return &Static{units: units, served: make(map[string]bool, workers)}, nil
}

// Next returns the worker's range on its first request only.
func (s *Static) Next(workerID string) (WorkUnit, bool) {
	if s.served[workerID] || s.next >= len(s.units) {
		return WorkUnit{}, false
	}
	s.served[workerID] = true
	u := s.units[s.next]
	s.next++
	return u, true
}

// Position returns the lower bound of the next unassigned range, or the end
// position described on Cursor.Position once every range is out.
func (s *Static) Position() uint64 {
	if s.next >= len(s.units) {
		last := s.units[len(s.units)-1]
		return endPosition(last.Upper, last.Lower)
	}
	return s.units[s.next].Lower
}

// endPosition is the cursor value past the final unit [lastLower, maxKey].
func endPosition(maxKey, lastLower uint64) uint64 {
	if maxKey == math.MaxUint64 {
		return lastLower
	}
	return maxKey + 1
}

// Exhausted reports whether every range has been assigned.
func (s *Static) Exhausted() bool { return s.next >= len(s.units) }

// Issued returns the number of ranges assigned.
func (s *Static) Issued() uint64 { return uint64(s.next) }
