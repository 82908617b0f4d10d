// Package worker implements the scan loop run by every search worker.
//
// A worker repeatedly asks its Link for work, scans each unit in increasing
// key order against a KeyOracle and reports the first match. Cancellation of
// the context passed to Run is the abort signal: it is polled every
// CheckInterval keys, so a worker may test a few extra keys after another
// worker has already won.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/keysearch/internal/cluster"
	"github.com/dreamware/keysearch/internal/keyspace"
	"github.com/dreamware/keysearch/internal/oracle"
)

// DefaultCheckInterval is how many keys are tested between cancellation checks.
const DefaultCheckInterval = 1024

// Link is the worker's view of the coordinator. Both calls block until the
// coordinator answers.
type Link interface {
	RequestWork(ctx context.Context, workerID string) (cluster.Assignment, error)
	ReportFound(ctx context.Context, workerID string, key uint64) error
}

// State is a position in the worker state machine:
//
//	Idle → Requesting → Scanning → Idle | Aborted
//	Requesting → Terminated | Aborted
type State int32

const (
	Idle State = iota
	Requesting
	Scanning
	Terminated
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Scanning:
		return "scanning"
	case Terminated:
		return "terminated"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Terminated || s == Aborted
}

// Config holds per-worker settings.
type Config struct {
	ID            string
	CheckInterval uint64
	Logger        *logrus.Logger
}

// Stats counts the work a worker has done.
type Stats struct {
	KeysTried    uint64 `json:"keys_tried"`
	UnitsScanned uint64 `json:"units_scanned"`
	OracleErrors uint64 `json:"oracle_errors"`
}

// Result is what Run returns once the worker reaches a terminal state.
type Result struct {
	State State
	// Found is set when this worker matched and reported Key.
	Found bool
	Key   uint64
	Stats Stats
}

// Worker scans units handed out over a Link. A Worker is single use: call
// Run once.
type Worker struct {
	id         string
	check      uint64
	oracle     oracle.KeyOracle
	ciphertext []byte
	link       Link
	log        *logrus.Entry

	state        atomic.Int32
	keysTried    atomic.Uint64
	unitsScanned atomic.Uint64
	oracleErrors atomic.Uint64
}

// New creates a worker. The ciphertext is treated as read-only and is never
// modified.
func New(cfg Config, o oracle.KeyOracle, ciphertext []byte, link Link) *Worker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		id:         cfg.ID,
		check:      cfg.CheckInterval,
		oracle:     o,
		ciphertext: ciphertext,
		link:       link,
		log:        logger.WithFields(logrus.Fields{"component": "worker", "worker": cfg.ID}),
	}
}

func (w *Worker) ID() string { return w.id }

// State returns the current state; safe to call from any goroutine.
func (w *Worker) State() State { return State(w.state.Load()) }

// Stats returns a snapshot of the counters.
func (w *Worker) Stats() Stats {
	return Stats{
		KeysTried:    w.keysTried.Load(),
		UnitsScanned: w.unitsScanned.Load(),
		OracleErrors: w.oracleErrors.Load(),
	}
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run drives the request/scan loop until the coordinator terminates the
// worker, the run is aborted, or this worker finds the key.
//
// Terminated and Aborted are normal endings and come with a nil error. A
// transport failure is returned as an error because the run can no longer
// guarantee coverage.
func (w *Worker) Run(ctx context.Context) (Result, error) {
	for {
		if ctx.Err() != nil {
			return w.finish(Aborted, false, 0), nil
		}

		w.setState(Requesting)
		a, err := w.link.RequestWork(ctx, w.id)
		if err != nil {
			if ctx.Err() != nil {
				return w.finish(Aborted, false, 0), nil
			}
			w.setState(Aborted)
			return w.finish(Aborted, false, 0), fmt.Errorf("worker %s: %w", w.id, err)
		}

		switch a.Kind {
		case cluster.AssignTerminate:
			w.log.Debug("no more work")
			return w.finish(Terminated, false, 0), nil
		case cluster.AssignAbort:
			w.log.Debug("run already completed")
			return w.finish(Aborted, false, 0), nil
		case cluster.AssignUnit:
		default:
			w.setState(Aborted)
			return w.finish(Aborted, false, 0), fmt.Errorf("worker %s: unknown assignment %q", w.id, a.Kind)
		}

		w.setState(Scanning)
		key, found, err := w.scan(ctx, a.Unit)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			w.log.WithField("unit", a.Unit.String()).Debug("scan aborted")
			return w.finish(Aborted, false, 0), nil
		}
		if found {
			w.log.WithField("key", key).Info("key found")
			if err := w.link.ReportFound(ctx, w.id, key); err != nil && ctx.Err() == nil {
				return w.finish(Aborted, true, key), fmt.Errorf("worker %s: %w", w.id, err)
			}
			return w.finish(Aborted, true, key), nil
		}
		w.unitsScanned.Add(1)
		w.setState(Idle)
	}
}

// scan tests every key in u in increasing order and stops at the first match.
// It returns ctx.Err() when cancelled part way through.
func (w *Worker) scan(ctx context.Context, u keyspace.WorkUnit) (uint64, bool, error) {
	var n uint64
	for k := u.Lower; ; k++ {
		if n%w.check == 0 && ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		n++

		ok, err := w.oracle.TryKey(k, w.ciphertext)
		w.keysTried.Add(1)
		if err != nil {
			w.oracleErrors.Add(1)
			w.log.WithFields(logrus.Fields{"key": k, "error": err}).Warn("oracle failed, treating key as no match")
		} else if ok {
			return k, true, nil
		}

		if k == u.Upper {
			return 0, false, nil
		}
	}
}

func (w *Worker) finish(s State, found bool, key uint64) Result {
	w.setState(s)
	return Result{State: s, Found: found, Key: key, Stats: w.Stats()}
}
