// Package coordinator implements the control side of a distributed key
// search: it owns the key-space cursor, answers worker requests for work,
// accepts the first found key and decides when the run is over.
//
// # Overview
//
// Work is pulled, never pushed. A worker that finishes a unit asks for the
// next one, so fast workers naturally take more of the key space and no
// static balancing is needed. The coordinator's job is to hand out disjoint
// units, count down the workers it has told to stop, and recognise one of
// three endings:
//
//   - Found: a worker reported a key. Every live worker is told to abort.
//   - Exhausted: every unit was issued and every worker was terminated.
//   - Aborted: the caller cancelled the run or a worker became unreachable.
//
// # Architecture
//
//	┌──────────────────────────────────────────┐
//	│               COORDINATOR                │
//	├──────────────────────────────────────────┤
//	│  Server (HTTP)                           │
//	│    /register ──► Registry                │
//	│    /work ──────► inbox ──┐               │
//	│    /found ─────► inbox ──┤               │
//	│                          ▼               │
//	│  Run loop (single goroutine)             │
//	│    Planner cursor, active count, phase   │
//	│                          │               │
//	│                          ▼ found         │
//	│  HTTPBroadcaster ──► worker /control     │
//	│                                          │
//	│  HealthMonitor ──► Fail(unreachable)     │
//	└──────────────────────────────────────────┘
//
// # Concurrency
//
// The cursor and the active worker count are owned by the goroutine running
// Run. RequestWork and ReportFound send a message carrying its own reply
// channel into an unbuffered inbox and wait for the answer, so every request
// is served in arrival order and no lock guards the search state. A snapshot
// of that state is published through an atomic pointer after every change,
// which is what Status and the /status endpoint read.
//
// The Registry is separate, read-mostly membership state shared by HTTP
// handlers, the broadcaster and the health monitor. It uses an RWMutex.
//
// # Lifecycle
//
//	Distributing ──(planner exhausted)──► Draining ──(active == 0)──► Completed
//	      │                                   │
//	      └────────────(key found)────────────┴─────────────────────► Completed
//
// Once Completed, late RequestWork calls are answered without touching the
// loop: Abort after a found key, Terminate after exhaustion. Late found
// reports are logged and dropped, so the first accepted key always wins.
//
// # Failure Handling
//
// Units are not reassigned. The coordinator process connects the
// HealthMonitor's unhealthy callback to Fail with an UnreachableError, so a
// dead worker ends the run as Aborted instead of stalling it. A failed abort broadcast is returned next to the Found outcome
// so callers can report the key and still exit with an error.
package coordinator
