package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/keysearch/internal/cluster"
	"github.com/dreamware/keysearch/internal/ledger"
)

// Server exposes the coordinator and its registry over HTTP.
//
// Endpoints:
//   - POST /register  worker announces its id and control address
//   - POST /work      worker asks for the next assignment
//   - POST /found     worker reports a matching key
//   - GET  /status    coordinator snapshot plus worker records
//   - GET  /workers   worker records only
//   - GET  /units     issued units, when a ledger is attached
//   - GET  /health    liveness
type Server struct {
	coord    *Coordinator
	registry *Registry
	ledger   *ledger.Memory
	log      *logrus.Entry
}

// NewServer wires HTTP handlers to coord and registry.
func NewServer(coord *Coordinator, registry *Registry, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{coord: coord, registry: registry, log: logger.WithField("component", "server")}
}

// WithLedger exposes l on GET /units. l is normally also fed by the
// coordinator's OnIssue hook.
func (s *Server) WithLedger(l *ledger.Memory) *Server {
	s.ledger = l
	return s
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/work", s.handleWork)
	mux.HandleFunc("/found", s.handleFound)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/workers", s.handleWorkers)
	mux.HandleFunc("/units", s.handleUnits)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	created, err := s.registry.Register(req.Worker)
	switch {
	case errors.Is(err, ErrRegistryFull):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.WithFields(logrus.Fields{
		"worker":     req.Worker.ID,
		"addr":       req.Worker.Addr,
		"new":        created,
		"registered": s.registry.Len(),
		"expected":   s.registry.Expected(),
	}).Info("worker registered")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.WorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if !s.registry.Known(req.WorkerID) {
		http.Error(w, "unknown worker", http.StatusForbidden)
		return
	}

	a, err := s.coord.RequestWork(r.Context(), req.WorkerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.registry.RecordAssignment(req.WorkerID, a)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a)
}

func (s *Server) handleFound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.FoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if !s.registry.Known(req.WorkerID) {
		http.Error(w, "unknown worker", http.StatusForbidden)
		return
	}

	// The reporter stops on its own; keep it out of the abort broadcast.
	s.registry.SetStatus(req.WorkerID, WorkerAborted)
	if err := s.coord.ReportFound(r.Context(), req.WorkerID, req.Key); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status
	Workers []WorkerRecord `json:"workers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatusResponse{Status: s.coord.Status(), Workers: s.registry.List()})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Workers []WorkerRecord `json:"workers"`
	}{Workers: s.registry.List()})
}

// UnitsResponse is the body of GET /units.
type UnitsResponse struct {
	Stats   ledger.Stats   `json:"stats"`
	Entries []ledger.Entry `json:"entries"`
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ledger == nil {
		http.Error(w, "no ledger attached", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(UnitsResponse{Stats: s.ledger.Stats(), Entries: s.ledger.Entries()})
}
