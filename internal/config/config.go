// Package config loads keysearch settings from an optional YAML file and the
// environment. Environment variables win over the file, and the file wins
// over the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/keysearch/internal/keyspace"
	"github.com/dreamware/keysearch/internal/oracle"
)

// Defaults for a full 56-bit DES search.
const (
	DefaultMaxKey          uint64 = 1 << 56
	DefaultChunkSize       uint64 = 1_000_000
	DefaultCheckInterval   uint64 = 1024
	DefaultCoordinatorAddr        = ":8080"
	DefaultCoordinatorURL         = "http://127.0.0.1:8080"
	DefaultWorkerListen           = ":8081"
	DefaultWorkerAddr             = "http://127.0.0.1:8081"
)

// Search describes the key space and how it is divided.
type Search struct {
	MaxKey        uint64 `yaml:"max_key"`
	ChunkSize     uint64 `yaml:"chunk_size"`
	Workers       int    `yaml:"workers"`
	Strategy      string `yaml:"strategy"`
	Marker        string `yaml:"marker"`
	CheckInterval uint64 `yaml:"check_interval"`
}

// Coordinator holds settings for the coordinator process.
type Coordinator struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`
	// Input is the ciphertext file, or the plaintext file when KnownKey is set.
	Input string `yaml:"input"`
	// KnownKey turns the run into a self-test: Input is encrypted with this
	// key before the search starts.
	KnownKey *uint64 `yaml:"known_key"`

	RegisterTimeout time.Duration `yaml:"register_timeout"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	HealthFailures  int           `yaml:"health_failures"`
}

// Worker holds settings for a worker process.
type Worker struct {
	ID     string `yaml:"id"`
	Listen string `yaml:"listen"`
	// Addr is the URL the coordinator uses to reach this worker.
	Addr string `yaml:"addr"`
	// Coordinator is the coordinator's base URL.
	Coordinator string `yaml:"coordinator"`
}

type Config struct {
	Search      Search      `yaml:"search"`
	Coordinator Coordinator `yaml:"coordinator"`
	Worker      Worker      `yaml:"worker"`
	LogLevel    string      `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Search: Search{
			MaxKey:        DefaultMaxKey,
			ChunkSize:     DefaultChunkSize,
			Workers:       DefaultWorkers(),
			Strategy:      string(keyspace.StrategyDynamic),
			Marker:        oracle.DefaultMarker,
			CheckInterval: DefaultCheckInterval,
		},
		Coordinator: Coordinator{
			Addr:            DefaultCoordinatorAddr,
			RegisterTimeout: 2 * time.Minute,
			HealthInterval:  2 * time.Second,
			HealthFailures:  3,
		},
		Worker: Worker{
			Listen:      DefaultWorkerListen,
			Addr:        DefaultWorkerAddr,
			Coordinator: DefaultCoordinatorURL,
		},
		LogLevel: "info",
	}
}

// DefaultWorkers is the number of logical CPUs, as reported by gopsutil.
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	u64 := func(key string, dst *uint64) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.ParseUint(strings.ReplaceAll(v, "_", ""), 0, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	u64("KEYSEARCH_MAX_KEY", &c.Search.MaxKey)
	u64("KEYSEARCH_CHUNK_SIZE", &c.Search.ChunkSize)
	u64("KEYSEARCH_CHECK_INTERVAL", &c.Search.CheckInterval)
	if v, ok := lookup("KEYSEARCH_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("KEYSEARCH_WORKERS: %w", err))
		} else {
			c.Search.Workers = n
		}
	}
	str("KEYSEARCH_STRATEGY", &c.Search.Strategy)
	str("KEYSEARCH_MARKER", &c.Search.Marker)
	str("KEYSEARCH_LOG_LEVEL", &c.LogLevel)
	str("KEYSEARCH_INPUT", &c.Coordinator.Input)
	// An empty value leaves self-test mode off, like every other variable.
	if v, ok := lookup("KEYSEARCH_KNOWN_KEY"); ok && v != "" {
		n := len(errs)
		var k uint64
		u64("KEYSEARCH_KNOWN_KEY", &k)
		if len(errs) == n {
			c.Coordinator.KnownKey = &k
		}
	}

	// Same variable as the coordinator's listen address, read as a URL by
	// workers.
	if v, ok := lookup("COORDINATOR_ADDR"); ok && v != "" {
		c.Coordinator.Addr = v
		c.Worker.Coordinator = v
	}
	str("WORKER_ID", &c.Worker.ID)
	str("WORKER_LISTEN", &c.Worker.Listen)
	str("WORKER_ADDR", &c.Worker.Addr)

	return errors.Join(errs...)
}

// Validate checks the search parameters shared by every process.
func (c Config) Validate() error {
	s := c.Search
	switch keyspace.Strategy(s.Strategy) {
	case keyspace.StrategyDynamic:
		if s.ChunkSize == 0 {
			return keyspace.ErrInvalidChunkSize
		}
	case keyspace.StrategyStatic:
	default:
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.CheckInterval == 0 {
		return errors.New("check_interval must be positive")
	}
	if s.Marker == "" {
		return errors.New("marker must not be empty")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Coordinator.HealthFailures < 1 {
		return errors.New("health_failures must be at least 1")
	}
	return nil
}

// PlannerStrategy returns Strategy as a keyspace.Strategy.
func (s Search) PlannerStrategy() keyspace.Strategy { return keyspace.Strategy(s.Strategy) }
