// Package search runs a complete key search inside one process: a
// coordinator and N worker goroutines connected without any network
// transport.
//
// The coordinator is the workers' link, so RequestWork and ReportFound are
// plain method calls into its loop. Each worker gets its own cancellable
// context and the abort broadcast is a loop over those cancel functions.
package search

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/keysearch/internal/coordinator"
	"github.com/dreamware/keysearch/internal/keyspace"
	"github.com/dreamware/keysearch/internal/ledger"
	"github.com/dreamware/keysearch/internal/oracle"
	"github.com/dreamware/keysearch/internal/worker"
)

// Config holds the parameters of an in-process run.
type Config struct {
	MaxKey        uint64
	ChunkSize     uint64
	Workers       int
	Strategy      keyspace.Strategy
	CheckInterval uint64
	Logger        *logrus.Logger
	// OnIssue is passed through to the coordinator.
	OnIssue func(workerID string, u keyspace.WorkUnit)
}

// Report is the result of a run.
type Report struct {
	Outcome coordinator.Outcome
	// Workers holds each worker's final result, indexed by worker number.
	Workers []worker.Result
	// Ledger holds every issued unit.
	Ledger *ledger.Memory
}

// KeysTried sums the keys tested by all workers.
func (r Report) KeysTried() uint64 {
	var n uint64
	for _, w := range r.Workers {
		n += w.Stats.KeysTried
	}
	return n
}

// WorkerID names the i-th in-process worker.
func WorkerID(i int) string { return fmt.Sprintf("worker-%d", i) }

// Run searches [0, cfg.MaxKey] for a key accepted by o and blocks until the
// run reaches an outcome and every worker has returned.
//
// Cancelling ctx aborts the run; the returned error is then ctx.Err().
func Run(ctx context.Context, cfg Config, o oracle.KeyOracle, ciphertext []byte) (Report, error) {
	if cfg.Workers < 1 {
		return Report{}, coordinator.ErrNoWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctxs := make([]context.Context, cfg.Workers)
	cancels := make([]context.CancelFunc, cfg.Workers)
	for i := range ctxs {
		ctxs[i], cancels[i] = context.WithCancel(ctx)
	}
	stopAll := func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
	defer stopAll()

	issued := ledger.NewMemory()
	coord, err := coordinator.New(coordinator.Config{
		MaxKey:    cfg.MaxKey,
		ChunkSize: cfg.ChunkSize,
		Workers:   cfg.Workers,
		Strategy:  cfg.Strategy,
		Logger:    logger,
		OnIssue: func(id string, u keyspace.WorkUnit) {
			issued.Record(id, u)
			if cfg.OnIssue != nil {
				cfg.OnIssue(id, u)
			}
		},
	}, coordinator.BroadcastFunc(func(context.Context, uint64) error {
		stopAll()
		return nil
	}))
	if err != nil {
		return Report{}, err
	}

	results := make([]worker.Result, cfg.Workers)
	var g errgroup.Group
	for i := 0; i < cfg.Workers; i++ {
		i := i
		w := worker.New(worker.Config{
			ID:            WorkerID(i),
			CheckInterval: cfg.CheckInterval,
			Logger:        logger,
		}, o, ciphertext, coord)
		g.Go(func() error {
			res, err := w.Run(ctxs[i])
			results[i] = res
			if err != nil {
				coord.Fail(err)
			}
			return err
		})
	}

	out, runErr := coord.Run(ctx)
	// Workers of an aborted run may still be blocked in the coordinator.
	stopAll()
	werr := g.Wait()

	report := Report{Outcome: out, Workers: results, Ledger: issued}
	if runErr != nil {
		return report, runErr
	}
	return report, werr
}
