// Package workerapi is the callback surface worker processes report to.
// The launcher injects the listen address into every worker's
// environment as AGENTMQ_CALLBACK_ADDR; workers POST heartbeats while
// healthy and an exit notice when they stop.
package workerapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/antlion/agentmq/internal/logging"
	"github.com/antlion/agentmq/internal/pool"
)

// HeartbeatRequest is posted by a worker on its heartbeat interval. The
// first heartbeat promotes the worker from STARTING to RUNNING.
type HeartbeatRequest struct {
	WorkerID string `json:"workerID"`
}

// ExitRequest is posted by a worker that is about to stop.
type ExitRequest struct {
	WorkerID string `json:"workerID"`
	Message  string `json:"message,omitempty"`
}

// Response is the generic reply for callback posts.
type Response struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type Server struct {
	pm  *pool.Manager
	log *logging.Logger
	mux *http.ServeMux
}

func NewServer(pm *pool.Manager, log *logging.Logger) *Server {
	s := &Server{
		pm:  pm,
		log: log.Component("workerapi"),
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("POST /exit", s.handleExit)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{OK: false, Message: err.Error()})
		return
	}
	if req.WorkerID == "" {
		writeJSON(w, http.StatusBadRequest, Response{OK: false, Message: "workerID required"})
		return
	}

	if err := s.pm.Heartbeat(req.WorkerID); err != nil {
		// A worker the manager already removed keeps posting until it
		// notices the stop signal. Tell it to go away.
		writeJSON(w, http.StatusNotFound, Response{OK: false, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, Response{OK: true})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	var req ExitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{OK: false, Message: err.Error()})
		return
	}
	if req.WorkerID == "" {
		writeJSON(w, http.StatusBadRequest, Response{OK: false, Message: "workerID required"})
		return
	}

	s.log.Info("worker exit reported", "workerID", req.WorkerID, "message", req.Message)

	if err := s.pm.WorkerExited(req.WorkerID); err != nil {
		writeJSON(w, http.StatusNotFound, Response{OK: false, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, Response{OK: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe runs the callback server until it fails.
func ListenAndServe(addr string, s *Server) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.log.Info("worker callback server listening", "addr", addr)
	return srv.ListenAndServe()
}
