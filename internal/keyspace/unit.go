package keyspace

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidChunkSize is returned when a planner is built with a zero chunk size.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// WorkUnit is a closed range of keys [Lower, Upper] scanned by a single worker.
type WorkUnit struct {
	Lower uint64 `json:"lower"`
	Upper uint64 `json:"upper"`
}

// Size returns the number of keys in the unit.
// The single unit spanning the whole uint64 range reports 0.
func (u WorkUnit) Size() uint64 {
	return u.Upper - u.Lower + 1
}

// Contains reports whether key lies inside the unit.
func (u WorkUnit) Contains(key uint64) bool {
	return key >= u.Lower && key <= u.Upper
}

// Valid reports whether Lower <= Upper.
func (u WorkUnit) Valid() bool {
	return u.Lower <= u.Upper
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("[%d,%d]", u.Lower, u.Upper)
}

// UnitCount returns ceil((maxKey+1)/chunk), the number of units a dynamic
// planner issues before it is exhausted.
func UnitCount(maxKey, chunk uint64) uint64 {
	if chunk == 0 {
		return 0
	}
	// maxKey+1 = q*chunk + r + 1 with 0 < r+1 <= chunk, so the ceiling is q+1
	// in every case and maxKey+1 never has to be computed.
	return maxKey/chunk + 1
}

// CheckCoverage verifies that units partition [0, maxKey] exactly: no gaps,
// no overlaps and nothing outside the space. The input order is irrelevant.
func CheckCoverage(units []WorkUnit, maxKey uint64) error {
	if len(units) == 0 {
		return errors.New("no units issued")
	}

	sorted := make([]WorkUnit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lower < sorted[j].Lower })

	var next uint64
	for i, u := range sorted {
		if !u.Valid() {
			return fmt.Errorf("unit %s is inverted", u)
		}
		if u.Lower != next {
			if u.Lower < next {
				return fmt.Errorf("unit %s overlaps previous unit", u)
			}
			return fmt.Errorf("gap before unit %s: keys [%d,%d] never issued", u, next, u.Lower-1)
		}
		if u.Upper > maxKey {
			return fmt.Errorf("unit %s exceeds max key %d", u, maxKey)
		}
		if u.Upper == maxKey {
			if i != len(sorted)-1 {
				return fmt.Errorf("unit %s overlaps unit %s", sorted[i+1], u)
			}
			return nil
		}
		next = u.Upper + 1
	}
	return fmt.Errorf("keys [%d,%d] never issued", next, maxKey)
}
