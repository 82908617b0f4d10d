// Package keyspace models the candidate key space of a search run and the
// planners that carve it into work units.
//
// # Overview
//
// A run searches the closed range [0, MaxKey]. The range is never held in
// memory; instead a planner advances a monotonic cursor and hands out
// WorkUnit values, each a closed sub-range [Lower, Upper]. Every issued unit
// is disjoint from every other unit, and the issued units plus the
// unconsumed tail [cursor, MaxKey] always cover the whole space.
//
// # Planners
//
// Cursor is the dynamic planner used by the pull-based balancer: any caller
// receives the next ChunkSize keys, so faster workers simply come back more
// often.
//
//	cursor ─────────────▶
//	[0..9][10..19][20..29]│[30 .. MaxKey]
//	   issued units        unconsumed tail
//
// Static is the fixed partition planner: the space is cut once into one
// range per worker, the last range absorbing the remainder, and each worker
// receives exactly one range.
//
// # Arithmetic
//
// All arithmetic is overflow-safe up to MaxKey = math.MaxUint64. The cursor
// never computes MaxKey+1; exhaustion is tracked with an explicit flag.
//
// # Concurrency
//
// Planners are not safe for concurrent use. They are owned by the
// coordinator loop, which serializes every request.
package keyspace
