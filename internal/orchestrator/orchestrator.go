// Package orchestrator runs the control loop: per tick it folds queue
// observations through the scaling policy, applies pending operator
// commands, and reconciles every active agent type's pool. Agent types
// evaluate independently; commands for one type apply in arrival order.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antlion/agentmq/internal/logging"
	"github.com/antlion/agentmq/internal/metrics"
	"github.com/antlion/agentmq/internal/monitor"
	"github.com/antlion/agentmq/internal/policy"
	"github.com/antlion/agentmq/internal/pool"
	"github.com/antlion/agentmq/internal/registry"
	"github.com/antlion/agentmq/internal/status"
)

// CommandKind is an operator instruction.
type CommandKind string

const (
	CommandStart   CommandKind = "START"
	CommandStop    CommandKind = "STOP"
	CommandScaleTo CommandKind = "SCALE_TO"
)

// Command is one inbound instruction for an agent type.
type Command struct {
	Kind      CommandKind `json:"kind"`
	AgentType string      `json:"agentType"`
	Target    int         `json:"target,omitempty"` // SCALE_TO only
	IssuedAt  time.Time   `json:"issuedAt"`
}

type typeState struct {
	active      bool
	desired     int
	lastScaleAt time.Time
	pending     []Command // FIFO, applied before policy each evaluation
	inFlight    bool      // an evaluation is running for this type
	rerun       bool      // evaluation requested while one was in flight
}

type Orchestrator struct {
	reg      *registry.Registry
	pm       *pool.Manager
	mon      *monitor.Monitor
	reporter *status.Reporter
	log      *logging.Logger
	metrics  *metrics.Metrics

	pollInterval    time.Duration
	shutdownTimeout time.Duration

	mu    sync.Mutex
	types map[string]*typeState

	stopCh chan struct{}
}

func New(reg *registry.Registry, pm *pool.Manager, mon *monitor.Monitor, reporter *status.Reporter,
	pollInterval, shutdownTimeout time.Duration, log *logging.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		reg:             reg,
		pm:              pm,
		mon:             mon,
		reporter:        reporter,
		log:             log.Component("orchestrator"),
		metrics:         m,
		pollInterval:    pollInterval,
		shutdownTimeout: shutdownTimeout,
		types:           make(map[string]*typeState),
		stopCh:          make(chan struct{}),
	}
}

// AddType registers an agent type with the control loop: its queue gets
// watched and its pool created. Types with minWorkers > 0 activate
// immediately.
func (o *Orchestrator) AddType(ctx context.Context, spec registry.AgentTypeSpec) error {
	if err := o.reg.Register(spec); err != nil {
		return err
	}
	// Re-read: Register normalizes defaults.
	spec, err := o.reg.Lookup(spec.AgentType)
	if err != nil {
		return err
	}

	o.pm.EnsurePool(spec)
	o.mon.Watch(ctx, spec.Queue)

	o.mu.Lock()
	st := &typeState{}
	if spec.Scaling.MinWorkers > 0 {
		st.active = true
		st.desired = spec.Scaling.MinWorkers
	}
	o.types[spec.AgentType] = st
	active := st.active
	o.mu.Unlock()

	o.log.Info("agent type added", "agentType", spec.AgentType, "queue", spec.Queue,
		"minWorkers", spec.Scaling.MinWorkers, "maxWorkers", spec.Scaling.MaxWorkers)

	if active {
		go o.evaluateType(ctx, spec.AgentType)
	}
	return nil
}

// RemoveType unregisters an agent type. Fails while workers are live.
func (o *Orchestrator) RemoveType(agentType string) error {
	spec, err := o.reg.Lookup(agentType)
	if err != nil {
		return err
	}
	if err := o.reg.Unregister(agentType); err != nil {
		return err
	}
	if err := o.pm.RemovePool(agentType); err != nil {
		return err
	}
	o.mon.Unwatch(spec.Queue)

	o.mu.Lock()
	delete(o.types, agentType)
	o.mu.Unlock()

	o.log.Info("agent type removed", "agentType", agentType)
	return nil
}

// SubmitCommand queues an instruction for an agent type and kicks an
// immediate evaluation. Commands for one type apply in arrival order.
func (o *Orchestrator) SubmitCommand(ctx context.Context, cmd Command) error {
	if _, err := o.reg.Lookup(cmd.AgentType); err != nil {
		return err
	}
	switch cmd.Kind {
	case CommandStart, CommandStop, CommandScaleTo:
	default:
		return fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}

	o.mu.Lock()
	st, ok := o.types[cmd.AgentType]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", registry.ErrUnknownAgentType, cmd.AgentType)
	}
	st.pending = append(st.pending, cmd)
	o.mu.Unlock()

	o.log.Info("command accepted", "agentType", cmd.AgentType, "kind", string(cmd.Kind), "target", cmd.Target)

	go o.evaluateType(ctx, cmd.AgentType)
	return nil
}

// ClearUnhealthy resumes spawning for an escalated agent type.
func (o *Orchestrator) ClearUnhealthy(agentType string) error {
	if _, err := o.reg.Lookup(agentType); err != nil {
		return err
	}
	return o.pm.ClearUnhealthy(agentType)
}

// Run drives periodic evaluation until ctx is canceled, then drains all
// pools bounded by the shutdown timeout.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		case <-o.stopCh:
			o.shutdown()
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// Stop terminates Run.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
}

func (o *Orchestrator) tick(ctx context.Context) {
	o.mu.Lock()
	names := make([]string, 0, len(o.types))
	for name := range o.types {
		names = append(names, name)
	}
	o.mu.Unlock()

	// Types evaluate concurrently; per-type state is serialized by the
	// inFlight guard and the pool's own lock.
	for _, name := range names {
		go o.evaluateType(ctx, name)
	}
}

// evaluateType applies pending commands, runs the policy, and reconciles
// one agent type. At most one evaluation per type runs at a time; a
// skipped evaluation's commands stay queued for the next one.
func (o *Orchestrator) evaluateType(ctx context.Context, agentType string) {
	spec, err := o.reg.Lookup(agentType)
	if err != nil {
		return // removed since scheduling
	}

	o.mu.Lock()
	st, ok := o.types[agentType]
	if !ok {
		o.mu.Unlock()
		return
	}
	if st.inFlight {
		// A queued evaluation applies after the running one completes,
		// using the then-current state.
		st.rerun = true
		o.mu.Unlock()
		return
	}
	st.inFlight = true

	pending := st.pending
	st.pending = nil
	for _, cmd := range pending {
		o.applyCommandLocked(st, spec, cmd)
	}

	active := st.active
	desired := st.desired
	lastScaleAt := st.lastScaleAt
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		again := false
		if st2, ok := o.types[agentType]; ok {
			st2.inFlight = false
			again = st2.rerun
			st2.rerun = false
		}
		o.mu.Unlock()
		if again {
			go o.evaluateType(ctx, agentType)
		}
	}()

	if active {
		desired = o.applyPolicy(agentType, spec, desired, lastScaleAt)
	} else {
		desired = 0
	}

	if err := o.pm.Reconcile(ctx, agentType, desired); err != nil {
		o.log.Error("reconcile failed", "agentType", agentType, "error", err.Error())
	}
}

func (o *Orchestrator) applyCommandLocked(st *typeState, spec registry.AgentTypeSpec, cmd Command) {
	switch cmd.Kind {
	case CommandStart:
		st.active = true
		if st.desired < spec.Scaling.MinWorkers {
			st.desired = spec.Scaling.MinWorkers
		}

	case CommandStop:
		// STOP overrides any policy recommendation until the next START.
		st.active = false
		st.desired = 0

	case CommandScaleTo:
		target := cmd.Target
		if target < 0 {
			target = 0
		}
		if target > spec.Scaling.MaxWorkers {
			target = spec.Scaling.MaxWorkers
		}
		st.desired = target
		st.active = target > 0 || st.active
		st.lastScaleAt = time.Now()
	}
}

// applyPolicy folds the latest queue observation through the scaling
// policy and records any change of target.
func (o *Orchestrator) applyPolicy(agentType string, spec registry.AgentTypeSpec, desired int, lastScaleAt time.Time) int {
	qs, ok := o.mon.Latest(spec.Queue)
	if !ok || !qs.HasData || qs.Degraded {
		// No trustworthy observation: hold the current target. Other
		// types keep reconciling regardless.
		return desired
	}

	_, live, _ := o.pm.Counts(agentType)
	now := time.Now()

	decision := policy.Evaluate(policy.Input{
		Depth:       qs.Snapshot.Depth,
		Running:     live,
		Desired:     desired,
		Policy:      spec.Scaling,
		LastScaleAt: lastScaleAt,
		IdleFor:     qs.IdleFor(now),
		Now:         now,
	})

	if decision.Desired != desired {
		o.log.Info("scaling decision", "agentType", agentType, "direction", string(decision.Direction),
			"from", desired, "to", decision.Desired, "depth", qs.Snapshot.Depth,
			"backlogPerWorker", decision.BacklogPerWorker)
		if o.metrics != nil {
			o.metrics.ScaleEvents.WithLabelValues(agentType, string(decision.Direction)).Inc()
		}
		if o.reporter != nil {
			o.reporter.ScalingDecision(agentType, string(decision.Direction), decision.Desired)
		}

		o.mu.Lock()
		if st, ok := o.types[agentType]; ok {
			st.desired = decision.Desired
			st.lastScaleAt = now
		}
		o.mu.Unlock()
	}

	return decision.Desired
}

func (o *Orchestrator) shutdown() {
	o.log.Info("shutting down, draining pools", "timeout", o.shutdownTimeout.String())

	o.mu.Lock()
	for _, st := range o.types {
		st.active = false
		st.desired = 0
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.shutdownTimeout)
	defer cancel()
	o.pm.Shutdown(ctx)
	o.mon.Stop()
}
