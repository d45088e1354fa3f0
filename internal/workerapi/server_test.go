package workerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antlion/agentmq/internal/config"
	"github.com/antlion/agentmq/internal/launcher"
	"github.com/antlion/agentmq/internal/logging"
	"github.com/antlion/agentmq/internal/pool"
	"github.com/antlion/agentmq/internal/registry"
)

func setupTestServer(t *testing.T) (*Server, *pool.Manager, *launcher.MockRunner) {
	t.Helper()
	log := logging.New(io.Discard, "ERROR")
	runner := launcher.NewMockRunner()
	pm := pool.NewManager(runner, "127.0.0.1:0", log, nil, nil)

	pm.EnsurePool(registry.AgentTypeSpec{
		AgentType: "chatbot",
		Queue:     "chatbot_q",
		Command:   "worker",
		Scaling: config.ScalingConfig{
			MinWorkers: 0, MaxWorkers: 5, ScaleUpThreshold: 10,
			StepUp: 1, StepDown: 1, Cooldown: config.Duration(time.Second),
		},
		Timeouts: config.TimeoutConfig{
			StartupDeadline:               config.Duration(5 * time.Second),
			DrainDeadline:                 config.Duration(5 * time.Second),
			HeartbeatInterval:             config.Duration(10 * time.Millisecond),
			HeartbeatGraceMultiplier:      1000,
			MaxConsecutiveStartupFailures: 3,
		},
	})

	return NewServer(pm, log), pm, runner
}

func spawnOne(t *testing.T, pm *pool.Manager, runner *launcher.MockRunner) string {
	t.Helper()
	if err := pm.Reconcile(context.Background(), "chatbot", 1); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	for id := range runner.Procs {
		return id
	}
	t.Fatal("no worker spawned")
	return ""
}

func post(t *testing.T, srv *Server, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHeartbeatPromotesWorker(t *testing.T) {
	srv, pm, runner := setupTestServer(t)
	id := spawnOne(t, pm, runner)

	w := post(t, srv, "/heartbeat", HeartbeatRequest{WorkerID: id})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp Response
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.OK {
		t.Error("expected ok response")
	}

	st := pm.Statuses()["chatbot"]
	if len(st.Workers) != 1 || st.Workers[0].State != pool.StateRunning {
		t.Errorf("expected RUNNING after heartbeat, got %+v", st.Workers)
	}
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := post(t, srv, "/heartbeat", HeartbeatRequest{WorkerID: "ghost"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown worker, got %d", w.Code)
	}
}

func TestHeartbeatMissingWorkerID(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := post(t, srv, "/heartbeat", HeartbeatRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHeartbeatMalformedBody(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	req := httptest.NewRequest("POST", "/heartbeat", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestExitRemovesDrainingWorker(t *testing.T) {
	srv, pm, runner := setupTestServer(t)
	id := spawnOne(t, pm, runner)

	post(t, srv, "/heartbeat", HeartbeatRequest{WorkerID: id})
	pm.Reconcile(context.Background(), "chatbot", 0)

	w := post(t, srv, "/exit", ExitRequest{WorkerID: id, Message: "drained"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	_, live, _ := pm.Counts("chatbot")
	if live != 0 {
		t.Errorf("expected 0 live after exit, got %d", live)
	}
}

func TestExitUnknownWorker(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := post(t, srv, "/exit", ExitRequest{WorkerID: "ghost"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
