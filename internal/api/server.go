// Package api exposes the execution engine over HTTP. Thin adapter layer:
// it decodes requests, delegates to the engine or the job orchestrator,
// and renders uniform JSON envelopes. No QA semantics live here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"qaprobe/internal/engine"
	"qaprobe/internal/jobs"
	"qaprobe/internal/logging"
	"qaprobe/internal/store"
)

const maxBodyBytes = 10 << 20

// Server wires the HTTP routes.
type Server struct {
	runner  jobs.Runner
	orch    *jobs.Orchestrator
	history *store.History // nil disables the history route
	log     *zap.Logger
}

// NewServer creates the HTTP adapter. history may be nil.
func NewServer(runner jobs.Runner, orch *jobs.Orchestrator, history *store.History, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{runner: runner, orch: orch, history: history, log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/checklist/execute", s.handleExecute)
	mux.HandleFunc("POST /api/checklist/execute/async", s.handleExecuteAsync)
	mux.HandleFunc("GET /api/checklist/execute/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/history/recent", s.handleRecent)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type errorEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorEnvelope{OK: false, Error: msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, req *engine.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// handleExecute runs the checklist synchronously and returns the full
// result. Callers with large checklists should use the async route.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.runner.Execute(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrNoRows) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("sync execution failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logging.Get(logging.CategoryAPI).Info("sync run %s: %d row(s)", res.RunID, len(res.Rows))
	s.writeJSON(w, http.StatusOK, res)
}

type asyncAccepted struct {
	OK    bool   `json:"ok"`
	JobID string `json:"jobId"`
}

func (s *Server) handleExecuteAsync(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.orch.Submit(req)
	if err != nil {
		if errors.Is(err, engine.ErrNoRows) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("job submit failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, asyncAccepted{OK: true, JobID: id})
}

type statusEnvelope struct {
	OK bool `json:"ok"`
	jobs.Snapshot
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.orch.Poll(id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown job id")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statusEnvelope{OK: true, Snapshot: snap})
}

type recentEnvelope struct {
	OK   bool              `json:"ok"`
	Runs []store.RunRecord `json:"runs"`
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	runs, err := s.history.Recent(r.Context(), 20)
	if err != nil {
		s.log.Error("history query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, recentEnvelope{OK: true, Runs: runs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
