// Package main implements the keysearch worker process.
//
// A worker registers with the coordinator, waits for the ciphertext on its
// /control endpoint, then repeatedly pulls work units and tests every key in
// them until it is terminated, aborted or finds the key.
//
// Configuration:
//   - WORKER_ID: unique worker identifier (required)
//   - WORKER_LISTEN: listen address (default ":8081")
//   - WORKER_ADDR: public URL for the coordinator (default "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: coordinator URL (default "http://127.0.0.1:8080")
//   - KEYSEARCH_MARKER, KEYSEARCH_CHECK_INTERVAL, KEYSEARCH_LOG_LEVEL
//
// Example usage:
//
//	WORKER_ID=w1 WORKER_LISTEN=:8081 WORKER_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 ./worker
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
	"github.com/dreamware/keysearch/internal/logging"
	"github.com/dreamware/keysearch/internal/oracle"
	"github.com/dreamware/keysearch/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("KEYSEARCH_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)
	if cfg.Worker.ID == "" {
		log.Fatal("WORKER_ID is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Worker.Listen)
	if err != nil {
		log.WithError(err).Fatal("listen")
	}
	if err := run(ctx, cfg, ln, log, os.Stdout); err != nil {
		log.WithError(err).Error("worker failed")
		stop()
		os.Exit(1)
	}
}

// run serves the control endpoint on ln and drives one search.
func run(ctx context.Context, cfg config.Config, ln net.Listener, log *logrus.Logger, out io.Writer) error {
	agent := worker.NewAgent(worker.AgentConfig{
		ID:            cfg.Worker.ID,
		Addr:          cfg.Worker.Addr,
		Coordinator:   cfg.Worker.Coordinator,
		CheckInterval: cfg.Search.CheckInterval,
		Logger:        log,
	}, oracle.NewDES(cfg.Search.Marker))

	srv := &http.Server{
		Handler:           agent.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"listen": ln.Addr().String(), "public": cfg.Worker.Addr}).Info("worker listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err := <-serveErr:
			log.WithError(err).Error("control server stopped")
			cancel()
		case <-runCtx.Done():
		}
	}()

	res, err := agent.Run(runCtx)
	fmt.Fprintf(out, "worker %s: %s, %d keys tried in %d units",
		cfg.Worker.ID, res.State, res.Stats.KeysTried, res.Stats.UnitsScanned)
	if res.Found {
		fmt.Fprintf(out, ", found key %d", res.Key)
	}
	fmt.Fprintln(out)
	return err
}
