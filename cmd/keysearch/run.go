package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/keysearch/internal/config"
	"github.com/dreamware/keysearch/internal/coordinator"
	"github.com/dreamware/keysearch/internal/ledger"
	"github.com/dreamware/keysearch/internal/logging"
	"github.com/dreamware/keysearch/internal/oracle"
	"github.com/dreamware/keysearch/internal/search"
)

// runFlags mirrors the search settings that may be given on the command
// line. Only flags the user set override the loaded configuration.
type runFlags struct {
	configPath    string
	input         string
	key           uint64
	maxKey        uint64
	chunk         uint64
	workers       int
	strategy      string
	marker        string
	checkInterval uint64
	logLevel      string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search for the key with in-process workers",
		Long: `Run a coordinator and worker goroutines in this process.

The input is ciphertext unless --key is given, in which case it is plaintext
that is first encrypted with that key (self-test).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			var known *uint64
			if cmd.Flags().Changed("key") {
				known = &f.key
			}
			return runSearch(cmd, cfg, f.input, known)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fl.StringVar(&f.input, "in", "", "input file (required)")
	fl.Uint64Var(&f.key, "key", 0, "known key: treat --in as plaintext and encrypt it first")
	fl.Uint64Var(&f.maxKey, "max-key", config.DefaultMaxKey, "largest key to test (inclusive)")
	fl.Uint64Var(&f.chunk, "chunk", config.DefaultChunkSize, "keys per work unit")
	fl.IntVar(&f.workers, "workers", 0, "worker goroutines (default: logical CPUs)")
	fl.StringVar(&f.strategy, "strategy", "dynamic", "work distribution: dynamic or static")
	fl.StringVar(&f.marker, "marker", oracle.DefaultMarker, "substring that identifies the plaintext")
	fl.Uint64Var(&f.checkInterval, "check-interval", config.DefaultCheckInterval, "keys between abort checks")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

// resolve layers defaults, the config file, the environment and finally
// explicitly set flags.
func (f *runFlags) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	fl := cmd.Flags()
	if fl.Changed("max-key") {
		cfg.Search.MaxKey = f.maxKey
	}
	if fl.Changed("chunk") {
		cfg.Search.ChunkSize = f.chunk
	}
	if fl.Changed("workers") {
		cfg.Search.Workers = f.workers
	}
	if fl.Changed("strategy") {
		cfg.Search.Strategy = f.strategy
	}
	if fl.Changed("marker") {
		cfg.Search.Marker = f.marker
	}
	if fl.Changed("check-interval") {
		cfg.Search.CheckInterval = f.checkInterval
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}

func runSearch(cmd *cobra.Command, cfg config.Config, path string, known *uint64) error {
	in, err := search.LoadInput(path, known)
	if err != nil {
		return err
	}
	log := logging.NewWithOutput(cfg.LogLevel, cmd.ErrOrStderr())

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, runErr := search.Run(ctx, search.Config{
		MaxKey:        cfg.Search.MaxKey,
		ChunkSize:     cfg.Search.ChunkSize,
		Workers:       cfg.Search.Workers,
		Strategy:      cfg.Search.PlannerStrategy(),
		CheckInterval: cfg.Search.CheckInterval,
		Logger:        log,
	}, oracle.NewDES(cfg.Search.Marker), in.Ciphertext)

	out := cmd.OutOrStdout()
	search.PrintOutcome(out, rep.Outcome, in)
	fmt.Fprintf(out, "keys tried: %d by %d workers\n", rep.KeysTried(), len(rep.Workers))
	if runErr == nil && rep.Outcome.Kind == coordinator.Exhausted {
		if err := ledger.Audit(rep.Ledger, cfg.Search.MaxKey); err != nil {
			return fmt.Errorf("coverage audit: %w", err)
		}
		fmt.Fprintln(out, "coverage: ok")
	}
	return runErr
}
