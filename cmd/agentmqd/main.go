package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antlion/agentmq/internal/api"
	"github.com/antlion/agentmq/internal/broker"
	"github.com/antlion/agentmq/internal/config"
	"github.com/antlion/agentmq/internal/launcher"
	"github.com/antlion/agentmq/internal/logging"
	"github.com/antlion/agentmq/internal/metrics"
	"github.com/antlion/agentmq/internal/monitor"
	"github.com/antlion/agentmq/internal/orchestrator"
	"github.com/antlion/agentmq/internal/pool"
	"github.com/antlion/agentmq/internal/registry"
	"github.com/antlion/agentmq/internal/status"
	"github.com/antlion/agentmq/internal/workerapi"
	"github.com/antlion/agentmq/internal/ws"
)

var version = "dev"

func main() {
	configPath := flag.String("config", config.ConfigPath(), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(os.Stderr, "INFO").Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}

	log := logging.New(os.Stderr, cfg.Control.LogLevel)
	log.Startup("agentmqd", version)

	m := metrics.New()

	brokerClient := broker.NewAMQPClient(cfg.Broker.URL)
	defer brokerClient.Close()

	mon := monitor.New(brokerClient, cfg.Control.PollInterval.Std(), log, m)

	reg := registry.New(nil)
	runner := launcher.NewExecRunner()
	pm := pool.NewManager(runner, cfg.Control.CallbackAddr, log, m, nil)
	reg.SetActiveCounter(pm.ActiveCount)

	reporter := status.NewReporter(reg, pm, mon)
	pm.SetEvents(reporter)
	mon.SetDegradedHook(reporter.QueueDegraded)

	orch := orchestrator.New(reg, pm, mon, reporter,
		cfg.Control.PollInterval.Std(), cfg.Control.ShutdownTimeout.Std(), log, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed agent types from config.
	for _, at := range cfg.AgentTypes {
		if err := orch.AddType(ctx, registry.FromConfig(at)); err != nil {
			log.Error("failed to add agent type", "agentType", at.AgentType, "error", err.Error())
			os.Exit(1)
		}
	}

	runDone := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(runDone)
	}()

	// Worker callback server (workers post heartbeats and exits here).
	callbackServer := workerapi.NewServer(pm, log)
	go func() {
		if err := workerapi.ListenAndServe(cfg.Control.CallbackAddr, callbackServer); err != nil {
			log.Error("worker callback server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	// WebSocket hub
	hub := ws.NewHub(reporter, log)
	go hub.Run()

	// API server (agentmqctl calls this)
	apiMux := http.NewServeMux()
	setupAPIRoutes(apiMux, orch, reporter, reg, brokerClient, log)
	apiMux.HandleFunc("GET /ws", hub.ServeWS)

	go func() {
		log.Info("api server listening", "addr", cfg.Control.APIAddr)
		srv := &http.Server{
			Addr:         cfg.Control.APIAddr,
			Handler:      apiMux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // WebSocket streams stay open
		}
		if err := srv.ListenAndServe(); err != nil {
			log.Error("api server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	// Metrics server
	go func() {
		log.Info("metrics server listening", "addr", cfg.Control.MetricsAddr)
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", m.Handler())
		if err := http.ListenAndServe(cfg.Control.MetricsAddr, metricsMux); err != nil {
			log.Error("metrics server failed", "error", err.Error())
		}
	}()

	// Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	log.Info("shutting down")
	hub.Stop()
	orch.Stop()
	<-runDone
	cancel()
}

func setupAPIRoutes(mux *http.ServeMux, orch *orchestrator.Orchestrator, reporter *status.Reporter,
	reg *registry.Registry, brokerClient broker.Client, log *logging.Logger) {

	// GET /status
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.StatusResponse{Types: reporter.Snapshot()})
	})

	// POST /commands
	mux.HandleFunc("POST /commands", func(w http.ResponseWriter, r *http.Request) {
		var req api.CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
			return
		}

		err := orch.SubmitCommand(r.Context(), orchestrator.Command{
			Kind:      orchestrator.CommandKind(req.Kind),
			AgentType: req.AgentType,
			Target:    req.Target,
		})
		if err != nil {
			writeJSON(w, statusFor(err), api.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
	})

	// POST /types
	mux.HandleFunc("POST /types", func(w http.ResponseWriter, r *http.Request) {
		var req api.RegisterTypeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
			return
		}

		spec, err := req.ToSpec()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
			return
		}

		if err := orch.AddType(r.Context(), spec); err != nil {
			writeJSON(w, statusFor(err), api.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
	})

	// DELETE /types/{name}
	mux.HandleFunc("DELETE /types/{name}", func(w http.ResponseWriter, r *http.Request) {
		if err := orch.RemoveType(r.PathValue("name")); err != nil {
			writeJSON(w, statusFor(err), api.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
	})

	// POST /types/{name}/clear-unhealthy
	mux.HandleFunc("POST /types/{name}/clear-unhealthy", func(w http.ResponseWriter, r *http.Request) {
		if err := orch.ClearUnhealthy(r.PathValue("name")); err != nil {
			writeJSON(w, statusFor(err), api.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
	})

	// POST /publish
	mux.HandleFunc("POST /publish", func(w http.ResponseWriter, r *http.Request) {
		var req api.PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
			return
		}

		queue := req.Queue
		if queue == "" && req.AgentType != "" {
			spec, err := reg.Lookup(req.AgentType)
			if err != nil {
				writeJSON(w, statusFor(err), api.ErrorResponse{Error: err.Error()})
				return
			}
			queue = spec.Queue
		}
		if queue == "" {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "queue or agentType required"})
			return
		}
		if len(req.Payload) == 0 {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "payload required"})
			return
		}

		if err := brokerClient.Publish(r.Context(), queue, req.Payload); err != nil {
			writeJSON(w, statusFor(err), api.ErrorResponse{Error: err.Error()})
			return
		}
		log.Info("task published", "queue", queue, "bytes", len(req.Payload))
		writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
	})

	// GET /health
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownAgentType):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateAgentType),
		errors.Is(err, registry.ErrQueueConflict),
		errors.Is(err, registry.ErrAgentPoolActive):
		return http.StatusConflict
	case errors.Is(err, broker.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
