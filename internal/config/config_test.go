package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keysearch/internal/keyspace"
	"github.com/dreamware/keysearch/internal/oracle"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint64(1)<<56, cfg.Search.MaxKey)
	assert.Equal(t, uint64(1_000_000), cfg.Search.ChunkSize)
	assert.Equal(t, keyspace.StrategyDynamic, cfg.Search.PlannerStrategy())
	assert.Equal(t, oracle.DefaultMarker, cfg.Search.Marker)
	assert.Equal(t, uint64(1024), cfg.Search.CheckInterval)
	assert.GreaterOrEqual(t, cfg.Search.Workers, 1)
	assert.Nil(t, cfg.Coordinator.KnownKey)
	require.NoError(t, cfg.Validate())
}

func TestDefaultWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultWorkers(), 1)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keysearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search:
  max_key: 99
  chunk_size: 10
  workers: 3
  strategy: static
coordinator:
  input: secret.bin
  known_key: 47
  health_interval: 500ms
worker:
  id: w1
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cfg.Search.MaxKey)
	assert.Equal(t, uint64(10), cfg.Search.ChunkSize)
	assert.Equal(t, 3, cfg.Search.Workers)
	assert.Equal(t, keyspace.StrategyStatic, cfg.Search.PlannerStrategy())
	assert.Equal(t, "secret.bin", cfg.Coordinator.Input)
	require.NotNil(t, cfg.Coordinator.KnownKey)
	assert.Equal(t, uint64(47), *cfg.Coordinator.KnownKey)
	assert.Equal(t, 500*time.Millisecond, cfg.Coordinator.HealthInterval)
	assert.Equal(t, "w1", cfg.Worker.ID)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Unset fields keep their defaults.
	assert.Equal(t, oracle.DefaultMarker, cfg.Search.Marker)
	assert.Equal(t, DefaultWorkerListen, cfg.Worker.Listen)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("search: [unterminated"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("search:\n  chunk_size: 0\n"), 0o600))
	_, err = Load(invalid)
	assert.ErrorIs(t, err, keyspace.ErrInvalidChunkSize)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"KEYSEARCH_MAX_KEY":        "0xFFFF",
		"KEYSEARCH_CHUNK_SIZE":     "1_000",
		"KEYSEARCH_WORKERS":        "6",
		"KEYSEARCH_STRATEGY":       "static",
		"KEYSEARCH_MARKER":         "hello",
		"KEYSEARCH_CHECK_INTERVAL": "16",
		"KEYSEARCH_LOG_LEVEL":      "warn",
		"KEYSEARCH_INPUT":          "plain.txt",
		"KEYSEARCH_KNOWN_KEY":      "123456",
		"COORDINATOR_ADDR":         "http://coord:9000",
		"WORKER_ID":                "w7",
		"WORKER_LISTEN":            ":9107",
		"WORKER_ADDR":              "http://w7:9107",
	}))
	require.NoError(t, err)

	assert.Equal(t, uint64(0xFFFF), cfg.Search.MaxKey)
	assert.Equal(t, uint64(1000), cfg.Search.ChunkSize)
	assert.Equal(t, 6, cfg.Search.Workers)
	assert.Equal(t, "static", cfg.Search.Strategy)
	assert.Equal(t, "hello", cfg.Search.Marker)
	assert.Equal(t, uint64(16), cfg.Search.CheckInterval)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "plain.txt", cfg.Coordinator.Input)
	require.NotNil(t, cfg.Coordinator.KnownKey)
	assert.Equal(t, uint64(123456), *cfg.Coordinator.KnownKey)
	assert.Equal(t, "http://coord:9000", cfg.Coordinator.Addr)
	assert.Equal(t, "http://coord:9000", cfg.Worker.Coordinator)
	assert.Equal(t, "w7", cfg.Worker.ID)
	assert.Equal(t, ":9107", cfg.Worker.Listen)
	assert.Equal(t, "http://w7:9107", cfg.Worker.Addr)
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"KEYSEARCH_MAX_KEY": "lots",
		"KEYSEARCH_WORKERS": "many",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEYSEARCH_MAX_KEY")
	assert.Contains(t, err.Error(), "KEYSEARCH_WORKERS")
	assert.Equal(t, DefaultMaxKey, cfg.Search.MaxKey, "bad values leave the field alone")
}

func TestApplyEnvKnownKey(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    *uint64
		wantErr bool
	}{
		{name: "unset", env: map[string]string{}},
		{name: "empty", env: map[string]string{"KEYSEARCH_KNOWN_KEY": ""}},
		{name: "zero", env: map[string]string{"KEYSEARCH_KNOWN_KEY": "0"}, want: new(uint64)},
		{name: "garbage", env: map[string]string{"KEYSEARCH_KNOWN_KEY": "key"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(env(tt.env))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, cfg.Coordinator.KnownKey)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"static ignores chunk", func(c *Config) { c.Search.Strategy = "static"; c.Search.ChunkSize = 0 }, true},
		{"zero chunk", func(c *Config) { c.Search.ChunkSize = 0 }, false},
		{"unknown strategy", func(c *Config) { c.Search.Strategy = "random" }, false},
		{"no workers", func(c *Config) { c.Search.Workers = 0 }, false},
		{"zero check interval", func(c *Config) { c.Search.CheckInterval = 0 }, false},
		{"empty marker", func(c *Config) { c.Search.Marker = "" }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"no health failures", func(c *Config) { c.Coordinator.HealthFailures = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
