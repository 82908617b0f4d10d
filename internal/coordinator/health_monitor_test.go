package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keysearch/internal/cluster"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// flakyProbe fails for every address in down.
type flakyProbe struct {
	mu    sync.Mutex
	down  map[string]bool
	calls int
}

func newFlakyProbe() *flakyProbe { return &flakyProbe{down: map[string]bool{}} }

func (p *flakyProbe) check(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.down[addr] {
		return errors.New("connection refused")
	}
	return nil
}

func (p *flakyProbe) set(addr string, down bool) {
	p.mu.Lock()
	p.down[addr] = down
	p.mu.Unlock()
}

func (p *flakyProbe) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func twoWorkers() []cluster.WorkerInfo {
	return []cluster.WorkerInfo{
		{ID: "w1", Addr: "http://localhost:9001"},
		{ID: "w2", Addr: "http://localhost:9002"},
	}
}

func TestNewHealthMonitor(t *testing.T) {
	m := NewHealthMonitor(5*time.Second, 0, quietLogger())
	defer m.Stop()

	assert.Equal(t, 5*time.Second, m.interval)
	assert.Equal(t, 3, m.maxFailures, "non-positive threshold falls back to 3")
	assert.Empty(t, m.workers)
	assert.NotNil(t, m.httpClient)
}

func TestHealthMonitorChecksEveryWorker(t *testing.T) {
	m := NewHealthMonitor(20*time.Millisecond, 3, quietLogger())
	defer m.Stop()
	probe := newFlakyProbe()
	m.SetCheckFunction(probe.check)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx, twoWorkers)

	require.Eventually(t, func() bool { return probe.count() >= 6 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, m.IsHealthy("w1"))
	assert.True(t, m.IsHealthy("w2"))
	assert.Len(t, m.AllWorkerHealth(), 2)
}

func TestHealthMonitorUnhealthyFiresOnce(t *testing.T) {
	m := NewHealthMonitor(10*time.Millisecond, 2, quietLogger())
	defer m.Stop()
	probe := newFlakyProbe()
	probe.set("http://localhost:9001", true)
	m.SetCheckFunction(probe.check)

	var mu sync.Mutex
	var fired []string
	m.SetOnUnhealthy(func(id string) {
		mu.Lock()
		fired = append(fired, id)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx, twoWorkers)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Keep failing for several more ticks; the callback must not repeat.
	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"w1"}, fired)
	mu.Unlock()

	assert.False(t, m.IsHealthy("w1"))
	assert.True(t, m.IsHealthy("w2"))
	h := m.WorkerHealth("w1")
	require.NotNil(t, h)
	assert.Equal(t, HealthUnhealthy, h.Status)
	assert.GreaterOrEqual(t, h.ConsecutiveFails, 2)
}

func TestHealthMonitorRecovery(t *testing.T) {
	m := NewHealthMonitor(10*time.Millisecond, 1, quietLogger())
	defer m.Stop()
	probe := newFlakyProbe()
	probe.set("http://localhost:9001", true)
	m.SetCheckFunction(probe.check)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx, twoWorkers)

	require.Eventually(t, func() bool {
		h := m.WorkerHealth("w1")
		return h != nil && h.Status == HealthUnhealthy
	}, 2*time.Second, 5*time.Millisecond)

	probe.set("http://localhost:9001", false)
	require.Eventually(t, func() bool { return m.IsHealthy("w1") }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, m.WorkerHealth("w1").ConsecutiveFails)
}

func TestHealthMonitorForgetsDepartedWorkers(t *testing.T) {
	m := NewHealthMonitor(10*time.Millisecond, 3, quietLogger())
	defer m.Stop()
	m.SetCheckFunction(newFlakyProbe().check)

	var mu sync.Mutex
	live := twoWorkers()
	provider := func() []cluster.WorkerInfo {
		mu.Lock()
		defer mu.Unlock()
		return append([]cluster.WorkerInfo(nil), live...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx, provider)

	require.Eventually(t, func() bool { return len(m.AllWorkerHealth()) == 2 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	live = live[:1]
	mu.Unlock()

	require.Eventually(t, func() bool { return len(m.AllWorkerHealth()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, m.WorkerHealth("w2"))
}

func TestHealthMonitorStop(t *testing.T) {
	m := NewHealthMonitor(10*time.Millisecond, 3, quietLogger())
	m.SetCheckFunction(newFlakyProbe().check)

	returned := make(chan struct{})
	go func() {
		m.Start(context.Background(), twoWorkers)
		close(returned)
	}()

	require.Eventually(t, func() bool { return len(m.AllWorkerHealth()) == 2 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestDefaultHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	m := NewHealthMonitor(time.Second, 3, quietLogger())
	defer m.Stop()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"full url", healthy.URL, false},
		{"trailing slash", healthy.URL + "/", false},
		{"explicit path", healthy.URL + "/health", false},
		{"host and port", healthy.Listener.Addr().String(), false},
		{"bad status", broken.URL, true},
		{"unreachable", "http://127.0.0.1:1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.defaultHealthCheck(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultHealthCheckTimeout(t *testing.T) {
	release := make(chan struct{})
	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer stalled.Close()
	defer close(release)

	m := NewHealthMonitor(time.Second, 3, quietLogger())
	defer m.Stop()
	m.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	err := m.defaultHealthCheck(stalled.URL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "check gives up after the configured timeout")
}
