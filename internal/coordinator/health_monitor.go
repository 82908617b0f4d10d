package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/keysearch/internal/cluster"
)

// Health states reported by the monitor.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// WorkerHealth tracks the liveness of a single worker process.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type WorkerHealth struct {
	LastCheck        time.Time // Timestamp of the last health check attempt
	LastHealthy      time.Time // Timestamp of the last successful health check
	WorkerID         string
	Status           string // HealthUnknown, HealthHealthy or HealthUnhealthy
	ConsecutiveFails int
}

// HealthMonitor polls the /health endpoint of every live worker.
//
// The run has no work reassignment: a unit handed to a worker that dies is
// never scanned again, so the search can no longer prove exhaustion. The
// onUnhealthy callback is how that condition reaches the coordinator, which
// fails the run instead of waiting forever for the dead worker's request.
//
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	workers     map[string]*WorkerHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(workerID string)
	log         *logrus.Entry
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that checks each worker every interval
// and declares it unhealthy after maxFailures consecutive failures. A
// maxFailures below one defaults to 3.
//
// Example:
//
//	monitor := NewHealthMonitor(2*time.Second, 3, log)
//	monitor.SetOnUnhealthy(func(id string) { coord.Fail(...) })
//	go monitor.Start(ctx, registry.Live)
func NewHealthMonitor(interval time.Duration, maxFailures int, logger *logrus.Logger) *HealthMonitor {
	if maxFailures < 1 {
		maxFailures = 3
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: maxFailures,
		workers:     make(map[string]*WorkerHealth),
		httpClient:  &http.Client{},
		log:         logger.WithField("component", "health"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked once per healthy→unhealthy
// transition. The callback runs on its own goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(workerID string)) {
	h.mu.Lock()
	h.onUnhealthy = callback
	h.mu.Unlock()
}

// SetTimeout bounds each default health check. Non-positive values are
// ignored.
func (h *HealthMonitor) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
}

// SetCheckFunction overrides the HTTP probe, mainly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.mu.Lock()
	h.checkFunc = checkFunc
	h.mu.Unlock()
}

// Start checks the workers returned by provider immediately and then on
// every tick. It blocks until ctx is cancelled or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []cluster.WorkerInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	h.mu.Lock()
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}
	h.mu.Unlock()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.WithField("interval", h.interval).Info("health monitor started")
	h.checkAll(provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(provider())
		case <-ctx.Done():
			h.log.Debug("health monitor stopping: context cancelled")
			return
		case <-h.ctx.Done():
			h.log.Debug("health monitor stopping: stopped")
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAll probes every worker in the list and forgets workers that left it,
// which happens when a worker terminates cleanly.
func (h *HealthMonitor) checkAll(workers []cluster.WorkerInfo) {
	current := make(map[string]bool, len(workers))
	for _, w := range workers {
		current[w.ID] = true
		h.check(w)
	}

	h.mu.Lock()
	for id := range h.workers {
		if !current[id] {
			delete(h.workers, id)
			h.log.WithField("worker", id).Debug("stopped monitoring worker")
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(w cluster.WorkerInfo) {
	h.mu.Lock()
	health, ok := h.workers[w.ID]
	if !ok {
		now := time.Now()
		health = &WorkerHealth{WorkerID: w.ID, Status: HealthUnknown, LastCheck: now, LastHealthy: now}
		h.workers[w.ID] = health
	}
	probe := h.checkFunc
	h.mu.Unlock()

	err := probe(w.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()
	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.log.WithFields(logrus.Fields{
			"worker":  w.ID,
			"attempt": health.ConsecutiveFails,
			"max":     h.maxFailures,
		}).WithError(err).Warn("health check failed")

		if health.ConsecutiveFails >= h.maxFailures && health.Status != HealthUnhealthy {
			health.Status = HealthUnhealthy
			h.log.WithField("worker", w.ID).Error("worker unhealthy")
			if h.onUnhealthy != nil {
				go h.onUnhealthy(w.ID)
			}
		}
		return
	}

	if health.Status == HealthUnhealthy {
		h.log.WithField("worker", w.ID).Info("worker recovered")
	}
	health.Status = HealthHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// defaultHealthCheck GETs addr/health and expects 200 OK. addr may be a full
// URL or host:port.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	h.mu.RLock()
	timeout := h.timeout
	h.mu.RUnlock()
	ctx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// WorkerHealth returns a copy of the worker's health record, or nil if the
// worker is not monitored.
func (h *HealthMonitor) WorkerHealth(id string) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.workers[id]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// AllWorkerHealth returns copies of every health record keyed by worker id.
func (h *HealthMonitor) AllWorkerHealth() map[string]WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]WorkerHealth, len(h.workers))
	for id, health := range h.workers {
		out[id] = *health
	}
	return out
}

// IsHealthy reports whether the worker's last checks succeeded.
func (h *HealthMonitor) IsHealthy(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.workers[id]
	return ok && health.Status == HealthHealthy
}
