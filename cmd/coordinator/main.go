// Package main implements the keysearch coordinator process.
//
// The coordinator waits for the configured number of workers to register,
// hands each of them the ciphertext, then serves work units until a worker
// reports the key or the key space is exhausted.
//
// Configuration (environment, optionally on top of KEYSEARCH_CONFIG yaml):
//   - COORDINATOR_ADDR: listen address (default ":8080")
//   - KEYSEARCH_INPUT: ciphertext file (required)
//   - KEYSEARCH_KNOWN_KEY: self-test key; KEYSEARCH_INPUT is then plaintext
//     and is encrypted with this key before the search
//   - KEYSEARCH_WORKERS, KEYSEARCH_MAX_KEY, KEYSEARCH_CHUNK_SIZE,
//     KEYSEARCH_STRATEGY, KEYSEARCH_MARKER, KEYSEARCH_LOG_LEVEL
//
// Example usage:
//
//	KEYSEARCH_INPUT=message.txt KEYSEARCH_KNOWN_KEY=18014398509481983 \
//	KEYSEARCH_WORKERS=4 COORDINATOR_ADDR=:8080 ./coordinator
//
// Exit codes:
//   - 0: key found (or key space exhausted) and every worker reached
//   - 1: configuration error, registration timeout or run failure
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/keysearch/internal/config"
	"github.com/dreamware/keysearch/internal/coordinator"
	"github.com/dreamware/keysearch/internal/ledger"
	"github.com/dreamware/keysearch/internal/logging"
	"github.com/dreamware/keysearch/internal/search"
)

// errRegisterTimeout is returned when fewer workers than configured register
// within the registration window.
var errRegisterTimeout = errors.New("timed out waiting for workers to register")

func main() {
	cfg, err := config.Load(os.Getenv("KEYSEARCH_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Coordinator.Addr)
	if err != nil {
		log.WithError(err).Fatal("listen")
	}
	if err := run(ctx, cfg, ln, log, os.Stdout); err != nil {
		log.WithError(err).Error("coordinator failed")
		stop()
		os.Exit(1)
	}
}

// run serves the coordinator API on ln and drives one search to completion.
func run(ctx context.Context, cfg config.Config, ln net.Listener, log *logrus.Logger, out io.Writer) error {
	in, err := search.LoadInput(cfg.Coordinator.Input, cfg.Coordinator.KnownKey)
	if err != nil {
		return err
	}
	if cfg.Coordinator.KnownKey != nil {
		log.WithField("key", *cfg.Coordinator.KnownKey).Info("self-test: input encrypted with known key")
	}

	issued := ledger.NewMemory()
	registry := coordinator.NewRegistry(cfg.Search.Workers)
	broadcaster := coordinator.NewHTTPBroadcaster(registry, 4*time.Second, log)
	coord, err := coordinator.New(coordinator.Config{
		MaxKey:    cfg.Search.MaxKey,
		ChunkSize: cfg.Search.ChunkSize,
		Workers:   cfg.Search.Workers,
		Strategy:  cfg.Search.PlannerStrategy(),
		Logger:    log,
		OnIssue:   issued.Record,
	}, broadcaster)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Handler:           coordinator.NewServer(coord, registry, log).WithLedger(issued).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", ln.Addr().String()).Info("coordinator listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			coord.Fail(fmt.Errorf("serve: %w", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	if err := awaitWorkers(ctx, registry, cfg.Coordinator.RegisterTimeout, log); err != nil {
		return err
	}
	if err := broadcaster.Start(ctx, in.Ciphertext); err != nil {
		return fmt.Errorf("distribute ciphertext: %w", err)
	}

	monitor := coordinator.NewHealthMonitor(cfg.Coordinator.HealthInterval, cfg.Coordinator.HealthFailures, log)
	monitor.SetOnUnhealthy(func(id string) {
		registry.SetStatus(id, coordinator.WorkerUnreachable)
		coord.Fail(&coordinator.UnreachableError{Op: "health", Workers: []string{id}})
	})
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	go monitor.Start(monitorCtx, registry.Live)
	defer func() {
		stopMonitor()
		monitor.Stop()
	}()

	outcome, runErr := coord.Run(ctx)
	search.PrintOutcome(out, outcome, in)
	if runErr == nil && outcome.Kind == coordinator.Exhausted {
		if err := ledger.Audit(issued, cfg.Search.MaxKey); err != nil {
			return fmt.Errorf("coverage audit: %w", err)
		}
		fmt.Fprintln(out, "coverage: ok")
	}
	return runErr
}

func awaitWorkers(ctx context.Context, registry *coordinator.Registry, timeout time.Duration, log *logrus.Logger) error {
	log.WithField("expected", registry.Expected()).Info("waiting for workers")
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-registry.Full():
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %d of %d after %s", errRegisterTimeout, registry.Len(), registry.Expected(), timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
