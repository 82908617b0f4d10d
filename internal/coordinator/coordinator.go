// Package coordinator implements the search coordinator for keysearch.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/keysearch/internal/cluster"
	"github.com/dreamware/keysearch/internal/keyspace"
)

var (
	// ErrAlreadyRunning is returned when Run is called a second time.
	ErrAlreadyRunning = errors.New("coordinator already running")
	// ErrNoWorkers is returned when the configured worker count is below one.
	ErrNoWorkers = errors.New("at least one worker is required")
)

// Phase is the coordinator's lifecycle state:
//
//	Distributing → Draining → Completed
//	Distributing → Completed (found)
type Phase int32

const (
	Distributing Phase = iota
	Draining
	Completed
)

func (p Phase) String() string {
	switch p {
	case Distributing:
		return "distributing"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// OutcomeKind is the terminal result of a run.
type OutcomeKind string

const (
	// Found means a worker reported a matching key.
	Found OutcomeKind = "found"
	// Exhausted means every key was issued and every worker terminated
	// without a match.
	Exhausted OutcomeKind = "exhausted"
	// Aborted means the run was stopped by cancellation or a transport failure.
	Aborted OutcomeKind = "aborted"
)

// Outcome describes how a run ended.
type Outcome struct {
	Kind        OutcomeKind   `json:"kind"`
	Key         uint64        `json:"key,omitempty"`
	Finder      string        `json:"finder,omitempty"`
	UnitsIssued uint64        `json:"units_issued"`
	Elapsed     time.Duration `json:"elapsed"`
}

func (o Outcome) String() string {
	switch o.Kind {
	case Found:
		return fmt.Sprintf("key found: %d (reported by %s)", o.Key, o.Finder)
	case Exhausted:
		return "key not found in range"
	default:
		return "search aborted"
	}
}

// Broadcaster delivers the abort notification to every live worker.
type Broadcaster interface {
	Abort(ctx context.Context, key uint64) error
}

// BroadcastFunc adapts a function to Broadcaster.
type BroadcastFunc func(ctx context.Context, key uint64) error

func (f BroadcastFunc) Abort(ctx context.Context, key uint64) error { return f(ctx, key) }

// Config holds the run parameters supplied at startup.
type Config struct {
	MaxKey    uint64
	ChunkSize uint64
	Workers   int
	Strategy  keyspace.Strategy
	// AbortTimeout bounds the abort broadcast. Defaults to 5s.
	AbortTimeout time.Duration
	Logger       *logrus.Logger
	// OnIssue, when set, is called from the coordinator loop for every unit
	// handed out.
	OnIssue func(workerID string, u keyspace.WorkUnit)
}

// Status is a point-in-time snapshot of the coordinator state, safe to read
// from any goroutine.
type Status struct {
	Phase         string   `json:"phase"`
	// Cursor is the first key not yet issued. Exhausted is set once every
	// key has been issued, which is the only signal when MaxKey is the
	// largest uint64.
	Cursor        uint64   `json:"cursor"`
	Exhausted     bool     `json:"exhausted"`
	ActiveWorkers int      `json:"active_workers"`
	UnitsIssued   uint64   `json:"units_issued"`
	Outcome       *Outcome `json:"outcome,omitempty"`
}

type msgKind int

const (
	msgRequest msgKind = iota
	msgFound
)

type message struct {
	kind   msgKind
	worker string
	key    uint64
	reply  chan cluster.Assignment
}

// Coordinator owns the search cursor and the active worker count. Both are
// touched only by the goroutine executing Run; workers reach them through
// RequestWork and ReportFound, which pass messages into that loop.
type Coordinator struct {
	cfg         Config
	planner     keyspace.Planner
	broadcaster Broadcaster
	log         *logrus.Entry

	// loop-owned state
	active     int
	seen       map[string]bool
	terminated map[string]bool
	phase      Phase

	inbox    chan message
	failures chan error
	done     chan struct{}
	running  atomic.Bool
	final    atomic.Pointer[Outcome]
	status   atomic.Pointer[Status]
}

// New validates cfg and returns a coordinator ready to Run. b may be nil
// when no worker needs an out-of-band abort.
func New(cfg Config, b Broadcaster) (*Coordinator, error) {
	if cfg.Workers < 1 {
		return nil, ErrNoWorkers
	}
	planner, err := keyspace.NewPlanner(cfg.Strategy, cfg.MaxKey, cfg.ChunkSize, cfg.Workers)
	if err != nil {
		return nil, err
	}
	if cfg.AbortTimeout <= 0 {
		cfg.AbortTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Coordinator{
		cfg:         cfg,
		planner:     planner,
		broadcaster: b,
		log:         logger.WithField("component", "coordinator"),
		active:      cfg.Workers,
		seen:        make(map[string]bool, cfg.Workers),
		terminated:  make(map[string]bool, cfg.Workers),
		phase:       Distributing,
		inbox:       make(chan message),
		failures:    make(chan error, 1),
		done:        make(chan struct{}),
	}
	c.publish()
	return c, nil
}

// RequestWork asks for the next unit on behalf of workerID and blocks until
// the coordinator loop answers. Once the run has completed it answers
// without consulting the loop: abort after a found key, terminate otherwise.
func (c *Coordinator) RequestWork(ctx context.Context, workerID string) (cluster.Assignment, error) {
	reply := make(chan cluster.Assignment, 1)
	select {
	case c.inbox <- message{kind: msgRequest, worker: workerID, reply: reply}:
	case <-c.done:
		return c.lateAssignment(), nil
	case <-ctx.Done():
		return cluster.Assignment{}, ctx.Err()
	}

	select {
	case a := <-reply:
		return a, nil
	case <-ctx.Done():
		return cluster.Assignment{}, ctx.Err()
	}
}

// ReportFound delivers a found key. Reports arriving after the run completed
// are ignored.
func (c *Coordinator) ReportFound(ctx context.Context, workerID string, key uint64) error {
	ack := make(chan cluster.Assignment, 1)
	select {
	case c.inbox <- message{kind: msgFound, worker: workerID, key: key, reply: ack}:
	case <-c.done:
		c.log.WithFields(logrus.Fields{"worker": workerID, "key": key}).Info("ignoring found report after completion")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail stops the run with err. Only the first failure is kept.
func (c *Coordinator) Fail(err error) {
	select {
	case c.failures <- err:
	default:
	}
}

// Done is closed when the run reaches Completed.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Outcome returns the final outcome, or false while the run is in progress.
func (c *Coordinator) Outcome() (Outcome, bool) {
	o := c.final.Load()
	if o == nil {
		return Outcome{}, false
	}
	return *o, true
}

// Status returns the latest published snapshot.
func (c *Coordinator) Status() Status { return *c.status.Load() }

// Run processes requests one at a time until the key is found, every worker
// has been terminated, ctx is cancelled or Fail is called.
//
// On a found key the abort broadcast is sent before Run returns; a broadcast
// failure is returned alongside the Found outcome.
func (c *Coordinator) Run(ctx context.Context) (Outcome, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Outcome{}, ErrAlreadyRunning
	}
	start := time.Now()
	c.log.WithFields(logrus.Fields{
		"max_key":  c.cfg.MaxKey,
		"chunk":    c.cfg.ChunkSize,
		"workers":  c.cfg.Workers,
		"strategy": string(c.cfg.Strategy),
	}).Info("distributing key space")

	for {
		select {
		case <-ctx.Done():
			c.log.Warn("run cancelled")
			return c.complete(Outcome{Kind: Aborted}, start), ctx.Err()

		case err := <-c.failures:
			c.log.WithError(err).Error("run failed")
			return c.complete(Outcome{Kind: Aborted}, start), err

		case m := <-c.inbox:
			switch m.kind {
			case msgRequest:
				m.reply <- c.assign(m.worker)
				if c.active == 0 {
					out := c.complete(Outcome{Kind: Exhausted}, start)
					c.log.WithField("units", out.UnitsIssued).Info("key space exhausted")
					return out, nil
				}

			case msgFound:
				m.reply <- cluster.Assignment{}
				out := c.complete(Outcome{Kind: Found, Key: m.key, Finder: m.worker}, start)
				c.log.WithFields(logrus.Fields{"key": m.key, "worker": m.worker}).Info("key found, aborting workers")
				return out, c.abortAll(m.key)
			}
		}
	}
}

// assign answers one RequestWork. Runs only on the loop goroutine.
func (c *Coordinator) assign(worker string) cluster.Assignment {
	if c.terminated[worker] {
		return cluster.TerminateAssignment()
	}
	if !c.seen[worker] {
		if len(c.seen) >= c.cfg.Workers {
			c.log.WithField("worker", worker).Warn("more workers than configured, refusing")
			return cluster.TerminateAssignment()
		}
		c.seen[worker] = true
	}

	if u, ok := c.planner.Next(worker); ok {
		c.log.WithFields(logrus.Fields{"worker": worker, "unit": u.String()}).Debug("issued unit")
		if c.cfg.OnIssue != nil {
			c.cfg.OnIssue(worker, u)
		}
		c.publish()
		return cluster.UnitAssignment(u)
	}

	if c.phase == Distributing && c.planner.Exhausted() {
		c.phase = Draining
		c.log.Info("all units issued, draining workers")
	}
	c.terminated[worker] = true
	c.active--
	c.publish()
	return cluster.TerminateAssignment()
}

func (c *Coordinator) abortAll(key uint64) error {
	if c.broadcaster == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AbortTimeout)
	defer cancel()
	if err := c.broadcaster.Abort(ctx, key); err != nil {
		c.log.WithError(err).Error("abort broadcast failed")
		return err
	}
	return nil
}

func (c *Coordinator) complete(o Outcome, start time.Time) Outcome {
	o.UnitsIssued = c.planner.Issued()
	o.Elapsed = time.Since(start)
	c.phase = Completed
	c.final.Store(&o)
	c.publish()
	close(c.done)
	return o
}

func (c *Coordinator) lateAssignment() cluster.Assignment {
	if o := c.final.Load(); o != nil && o.Kind == Exhausted {
		return cluster.TerminateAssignment()
	}
	return cluster.AbortAssignment()
}

func (c *Coordinator) publish() {
	s := &Status{
		Phase:         c.phase.String(),
		Cursor:        c.planner.Position(),
		Exhausted:     c.planner.Exhausted(),
		ActiveWorkers: c.active,
		UnitsIssued:   c.planner.Issued(),
		Outcome:       c.final.Load(),
	}
	c.status.Store(s)
}
