package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/keysearch/internal/cluster"
	"github.com/dreamware/keysearch/internal/oracle"
)

// AgentConfig configures a worker process.
type AgentConfig struct {
	ID string
	// Addr is the public URL of this process's control endpoint.
	Addr string
	// Coordinator is the coordinator's base URL.
	Coordinator   string
	CheckInterval uint64

	RegisterAttempts int
	RegisterDelay    time.Duration
	Logger           *logrus.Logger
}

// Agent is the runtime of a worker process: it registers with the
// coordinator, receives the ciphertext and abort notices on /control and
// drives a Worker over the HTTP link.
//
// Lifecycle:
//
//	register ──► wait for start ──► Worker.Run ──► done
//	                  │                  ▲
//	                  └── abort ─────────┘ (cancels the run context)
type Agent struct {
	cfg    AgentConfig
	oracle oracle.KeyOracle
	client *cluster.Client
	log    *logrus.Entry

	start     chan []byte
	startOnce sync.Once
	aborted   chan struct{}
	abortOnce sync.Once
	current   atomic.Pointer[Worker]

	mu        sync.Mutex
	cancelRun context.CancelFunc
}

// NewAgent creates an agent that will search with o.
func NewAgent(cfg AgentConfig, o oracle.KeyOracle) *Agent {
	if cfg.RegisterAttempts < 1 {
		cfg.RegisterAttempts = 10
	}
	if cfg.RegisterDelay <= 0 {
		cfg.RegisterDelay = 400 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	log := cfg.Logger.WithFields(logrus.Fields{"component": "agent", "worker": cfg.ID})
	return &Agent{
		cfg:     cfg,
		oracle:  o,
		client:  cluster.NewClient(cfg.Coordinator, log),
		log:     log,
		start:   make(chan []byte, 1),
		aborted: make(chan struct{}),
	}
}

// Handler serves /health, /control and /info.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/control", a.handleControl)
	mux.HandleFunc("/info", a.handleInfo)
	return mux
}

// handleControl accepts coordinator broadcasts.
//
// Endpoint: POST /control
//
// Response:
//   - 204 No Content: message accepted
//   - 400 Bad Request: unreadable or invalid message
//   - 409 Conflict: a second start message
func (a *Agent) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(r.Body); err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	var msg cluster.ControlMessage
	if err := json.Unmarshal(raw.Bytes(), &msg); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := msg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch msg.Type {
	case cluster.ControlStart:
		accepted := false
		a.startOnce.Do(func() {
			a.start <- msg.Ciphertext
			accepted = true
		})
		if !accepted {
			http.Error(w, "already started", http.StatusConflict)
			return
		}
		a.log.WithField("bytes", msg.Length).Info("ciphertext received")
	case cluster.ControlAbort:
		a.abort(msg.Key)
	}
	w.WriteHeader(http.StatusNoContent)
}

// abort cancels the scan before returning, so the coordinator's broadcast
// completes only once this worker has stopped testing keys.
func (a *Agent) abort(key uint64) {
	a.abortOnce.Do(func() {
		a.log.WithField("key", key).Info("abort received")
		a.mu.Lock()
		close(a.aborted)
		if a.cancelRun != nil {
			a.cancelRun()
		}
		a.mu.Unlock()
	})
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Stats Stats  `json:"stats"`
}

func (a *Agent) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	info := InfoResponse{ID: a.cfg.ID, State: Idle.String()}
	if wk := a.current.Load(); wk != nil {
		info.State = wk.State().String()
		info.Stats = wk.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

// Run registers, waits for the ciphertext and scans until the coordinator
// ends the run. The Handler must already be serving at cfg.Addr.
func (a *Agent) Run(ctx context.Context) (Result, error) {
	info := cluster.WorkerInfo{ID: a.cfg.ID, Addr: a.cfg.Addr}
	if err := a.client.Register(ctx, info, a.cfg.RegisterAttempts, a.cfg.RegisterDelay); err != nil {
		return Result{State: Aborted}, err
	}

	var ciphertext []byte
	select {
	case ciphertext = <-a.start:
	case <-a.aborted:
		return Result{State: Aborted}, nil
	case <-ctx.Done():
		return Result{State: Aborted}, ctx.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.cancelRun = cancel
	if isClosed(a.aborted) {
		cancel()
	}
	a.mu.Unlock()

	wk := New(Config{ID: a.cfg.ID, CheckInterval: a.cfg.CheckInterval, Logger: a.cfg.Logger}, a.oracle, ciphertext, a.client)
	a.current.Store(wk)

	res, err := wk.Run(runCtx)
	if err != nil {
		return res, err
	}
	// A cancelled parent is an interruption, not an abort broadcast.
	if ctx.Err() != nil && !isClosed(a.aborted) {
		return res, ctx.Err()
	}
	return res, nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
