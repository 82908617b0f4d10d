package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/keysearch/internal/cluster"
)

// UnreachableError reports the workers a broadcast or health probe could not
// reach.
type UnreachableError struct {
	Op      string
	Workers []string
	Err     error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s: %d worker(s) unreachable: %s", e.Op, len(e.Workers), strings.Join(e.Workers, ", "))
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// HTTPBroadcaster pushes control messages to the /control endpoint of
// registered workers.
type HTTPBroadcaster struct {
	registry *Registry
	log      *logrus.Entry
	timeout  time.Duration
}

// NewHTTPBroadcaster returns a broadcaster over the registry's workers. Each
// send is bounded by timeout in addition to the caller's context.
func NewHTTPBroadcaster(r *Registry, timeout time.Duration, logger *logrus.Logger) *HTTPBroadcaster {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &HTTPBroadcaster{registry: r, timeout: timeout, log: logger.WithField("component", "broadcast")}
}

// Start hands every registered worker its copy of the ciphertext. Workers that
// accepted are marked started.
func (b *HTTPBroadcaster) Start(ctx context.Context, ciphertext []byte) error {
	msg := cluster.StartMessage(ciphertext)
	targets := b.registry.All()
	err := b.send(ctx, "start", targets, msg, func(id string) {
		b.registry.SetStatus(id, WorkerStarted)
	})
	b.log.WithFields(logrus.Fields{"workers": len(targets), "bytes": len(ciphertext)}).Info("ciphertext distributed")
	return err
}

// Abort tells every live worker the run is over. It satisfies Broadcaster.
func (b *HTTPBroadcaster) Abort(ctx context.Context, key uint64) error {
	targets := b.registry.Live()
	err := b.send(ctx, "abort", targets, cluster.AbortMessage(key), func(id string) {
		b.registry.SetStatus(id, WorkerAborted)
	})
	b.log.WithField("workers", len(targets)).Info("abort broadcast sent")
	return err
}

// send posts msg to all targets in parallel and collects the failures.
func (b *HTTPBroadcaster) send(ctx context.Context, op string, targets []cluster.WorkerInfo, msg cluster.ControlMessage, ok func(id string)) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
		errs   []error
	)
	for _, w := range targets {
		wg.Add(1)
		go func(w cluster.WorkerInfo) {
			defer wg.Done()
			err := cluster.PostJSON(ctx, strings.TrimRight(w.Addr, "/")+"/control", msg, nil)
			if err != nil && b.departed(w.ID) {
				// Stopped on its own while the message was in flight.
				return
			}
			if err != nil {
				b.log.WithField("worker", w.ID).WithError(err).Warnf("%s delivery failed", op)
				mu.Lock()
				failed = append(failed, w.ID)
				errs = append(errs, fmt.Errorf("%s: %w", w.ID, err))
				mu.Unlock()
				return
			}
			ok(w.ID)
		}(w)
	}
	wg.Wait()

	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return &UnreachableError{Op: op, Workers: failed, Err: errors.Join(errs...)}
}

// departed reports whether the worker reached a final status after the
// target list was taken.
func (b *HTTPBroadcaster) departed(id string) bool {
	rec, ok := b.registry.Get(id)
	return ok && !rec.live()
}
