// Package pool owns the live worker set for every agent type. All
// WorkerHandle mutations happen here, serialized per agent type; pools
// for different agent types reconcile independently.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antlion/agentmq/internal/launcher"
	"github.com/antlion/agentmq/internal/logging"
	"github.com/antlion/agentmq/internal/metrics"
	"github.com/antlion/agentmq/internal/registry"
)

type worker struct {
	handle         WorkerHandle
	proc           launcher.Proc
	drainStartedAt time.Time
}

type typePool struct {
	mu           sync.Mutex
	spec         registry.AgentTypeSpec
	desired      int
	workers      []*worker // spawn order; oldest first
	startupFails int
	unhealthy    bool
	lastError    string
}

type workerRef struct {
	tp *typePool
	w  *worker
}

type Manager struct {
	runner       launcher.Runner
	log          *logging.Logger
	metrics      *metrics.Metrics
	events       Events
	callbackAddr string

	mu    sync.Mutex
	pools map[string]*typePool

	idxMu sync.Mutex
	index map[string]workerRef // worker ID -> pool/worker
}

func NewManager(runner launcher.Runner, callbackAddr string, log *logging.Logger, m *metrics.Metrics, events Events) *Manager {
	return &Manager{
		runner:       runner,
		log:          log.Component("pool"),
		metrics:      m,
		events:       events,
		callbackAddr: callbackAddr,
		pools:        make(map[string]*typePool),
		index:        make(map[string]workerRef),
	}
}

// SetEvents installs the transition sink. Call before the first
// Reconcile; the sink is typically constructed after the manager.
func (m *Manager) SetEvents(events Events) {
	m.events = events
}

// EnsurePool creates an empty pool for a registered agent type. Idempotent.
func (m *Manager) EnsurePool(spec registry.AgentTypeSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[spec.AgentType]; !ok {
		m.pools[spec.AgentType] = &typePool{spec: spec}
	}
}

// RemovePool forgets an agent type's pool. Fails while workers are live.
func (m *Manager) RemovePool(agentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tp, ok := m.pools[agentType]
	if !ok {
		return nil
	}
	tp.mu.Lock()
	live := tp.liveCountLocked()
	tp.mu.Unlock()
	if live > 0 {
		return fmt.Errorf("pool %s still has %d live workers", agentType, live)
	}
	delete(m.pools, agentType)
	return nil
}

func (m *Manager) pool(agentType string) (*typePool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tp, ok := m.pools[agentType]
	return tp, ok
}

// ActiveCount reports live workers for an agent type. Used by the
// registry to refuse unregistering a type that still has workers.
func (m *Manager) ActiveCount(agentType string) int {
	tp, ok := m.pool(agentType)
	if !ok {
		return 0
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.liveCountLocked()
}

// Counts returns the desired and live counts for an agent type.
func (m *Manager) Counts(agentType string) (desired, live int, ok bool) {
	tp, found := m.pool(agentType)
	if !found {
		return 0, 0, false
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.desired, tp.liveCountLocked(), true
}

// Reconcile drives the live worker count for an agent type toward
// desired. Idempotent: reconciling to the current count is a no-op.
// Calls for the same agent type serialize on the pool lock; a queued
// call applies the desired count it carries, which is the then-current
// target.
func (m *Manager) Reconcile(ctx context.Context, agentType string, desired int) error {
	tp, ok := m.pool(agentType)
	if !ok {
		return fmt.Errorf("no pool for agent type %s", agentType)
	}
	if desired < 0 {
		desired = 0
	}

	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.desired = desired
	live := tp.liveCountLocked()

	switch {
	case live < desired:
		if tp.unhealthy {
			// Spawning is suspended until the unhealthy flag is cleared.
			return nil
		}
		m.spawnLocked(ctx, tp, desired-live)

	case live > desired:
		m.drainLocked(tp, live-desired)
	}

	m.updateGaugesLocked(tp)
	return nil
}

func (m *Manager) spawnLocked(ctx context.Context, tp *typePool, n int) {
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}

		id := uuid.NewString()
		spec := launcher.LaunchSpec{
			WorkerID:     id,
			AgentType:    tp.spec.AgentType,
			Queue:        tp.spec.Queue,
			Command:      tp.spec.Command,
			Args:         tp.spec.Args,
			Env:          tp.spec.Env,
			Dir:          tp.spec.Dir,
			CallbackAddr: m.callbackAddr,
		}

		proc, err := m.runner.Spawn(ctx, spec)
		if err != nil {
			tp.startupFails++
			tp.lastError = err.Error()
			m.log.Error("spawn failed", "agentType", tp.spec.AgentType, "error", err.Error(),
				"consecutiveFailures", tp.startupFails)
			if m.metrics != nil {
				m.metrics.WorkerFailures.WithLabelValues(tp.spec.AgentType, "spawn").Inc()
			}
			m.escalateLocked(tp)
			if tp.unhealthy {
				return
			}
			continue
		}

		w := &worker{
			handle: WorkerHandle{
				ID:        id,
				AgentType: tp.spec.AgentType,
				State:     StateStarting,
				StartedAt: time.Now(),
			},
			proc: proc,
		}
		tp.workers = append(tp.workers, w)

		m.idxMu.Lock()
		m.index[id] = workerRef{tp: tp, w: w}
		m.idxMu.Unlock()

		m.log.Info("worker starting", "agentType", tp.spec.AgentType, "workerID", id)
		if m.events != nil {
			m.events.WorkerTransition(tp.spec.AgentType, id, "", StateStarting, "spawned")
		}
		go m.watch(tp, w)
	}
}

// drainLocked signals the oldest live workers to stop gracefully,
// RUNNING before STARTING, oldest first within each group.
func (m *Manager) drainLocked(tp *typePool, n int) {
	var candidates []*worker
	for _, w := range tp.workers {
		if w.handle.State == StateRunning {
			candidates = append(candidates, w)
		}
	}
	for _, w := range tp.workers {
		if w.handle.State == StateStarting {
			candidates = append(candidates, w)
		}
	}

	for i := 0; i < n && i < len(candidates); i++ {
		w := candidates[i]
		if err := w.proc.Signal(); err != nil {
			m.log.Warn("stop signal failed, force-killing", "workerID", w.handle.ID, "error", err.Error())
			w.proc.Kill()
		}
		w.drainStartedAt = time.Now()
		m.transitionLocked(tp, w, StateDraining, "scale-down")
	}
}

// Heartbeat records a liveness report from a worker. The first heartbeat
// completes startup: STARTING -> RUNNING.
func (m *Manager) Heartbeat(workerID string) error {
	m.idxMu.Lock()
	ref, ok := m.index[workerID]
	m.idxMu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker %s", workerID)
	}

	tp, w := ref.tp, ref.w
	tp.mu.Lock()
	defer tp.mu.Unlock()

	w.handle.LastHeartbeat = time.Now()
	if w.handle.State == StateStarting {
		tp.startupFails = 0
		tp.lastError = ""
		m.transitionLocked(tp, w, StateRunning, "first heartbeat")
	}
	return nil
}

// WorkerExited records a voluntary exit report from a worker. Draining
// workers finish cleanly; anything else exiting on its own is a failure.
func (m *Manager) WorkerExited(workerID string) error {
	m.idxMu.Lock()
	ref, ok := m.index[workerID]
	m.idxMu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker %s", workerID)
	}

	tp, w := ref.tp, ref.w
	tp.mu.Lock()
	defer tp.mu.Unlock()

	switch w.handle.State {
	case StateDraining:
		m.transitionLocked(tp, w, StateStopped, "drained")
	case StateStopped, StateFailed:
		// already terminal
	default:
		m.failLocked(tp, w, "unexpected exit")
	}
	m.removeLocked(tp, w)
	return nil
}

// watch follows one worker process: startup deadline, heartbeat
// liveness, drain deadline, and process exit.
func (m *Manager) watch(tp *typePool, w *worker) {
	timeouts := tp.spec.Timeouts
	startup := time.NewTimer(timeouts.StartupDeadline.Std())
	defer startup.Stop()
	liveness := time.NewTicker(timeouts.HeartbeatInterval.Std())
	defer liveness.Stop()

	grace := timeouts.HeartbeatInterval.Std() * time.Duration(timeouts.HeartbeatGraceMultiplier)

	for {
		select {
		case <-w.proc.Done():
			m.handleExit(tp, w)
			return

		case <-startup.C:
			tp.mu.Lock()
			if w.handle.State == StateStarting {
				tp.startupFails++
				tp.lastError = fmt.Sprintf("worker %s missed startup deadline", w.handle.ID)
				m.failLocked(tp, w, "startup deadline exceeded")
				m.removeLocked(tp, w)
				w.proc.Kill()
				m.escalateLocked(tp)
				tp.mu.Unlock()
				return
			}
			tp.mu.Unlock()

		case <-liveness.C:
			tp.mu.Lock()
			state := w.handle.State
			if !state.Live() {
				tp.mu.Unlock()
				return
			}

			if state == StateDraining && time.Since(w.drainStartedAt) > timeouts.DrainDeadline.Std() {
				// Exceeding the drain deadline implies an in-flight message
				// may be redelivered; acceptable under at-least-once.
				m.log.Warn("drain deadline exceeded, force-killing",
					"agentType", tp.spec.AgentType, "workerID", w.handle.ID)
				m.failLocked(tp, w, "drain deadline exceeded")
				m.removeLocked(tp, w)
				w.proc.Kill()
				tp.mu.Unlock()
				return
			}

			if state != StateStarting && !w.handle.LastHeartbeat.IsZero() &&
				time.Since(w.handle.LastHeartbeat) > grace {
				m.failLocked(tp, w, "missed heartbeat")
				m.removeLocked(tp, w)
				w.proc.Kill()
				tp.mu.Unlock()
				return
			}
			tp.mu.Unlock()
		}
	}
}

func (m *Manager) handleExit(tp *typePool, w *worker) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	switch w.handle.State {
	case StateDraining:
		m.transitionLocked(tp, w, StateStopped, "drained")
	case StateStopped, StateFailed:
		// terminal before exit was observed (force-kill path)
	case StateStarting:
		tp.startupFails++
		if err := w.proc.Err(); err != nil {
			tp.lastError = err.Error()
		}
		m.failLocked(tp, w, "exited before first heartbeat")
		m.escalateLocked(tp)
	default:
		if err := w.proc.Err(); err != nil {
			tp.lastError = err.Error()
		}
		m.failLocked(tp, w, "abnormal exit")
	}
	m.removeLocked(tp, w)
}

// escalateLocked suspends spawning after too many consecutive startup
// failures. Cleared manually via ClearUnhealthy.
func (m *Manager) escalateLocked(tp *typePool) {
	if tp.unhealthy || tp.startupFails < tp.spec.Timeouts.MaxConsecutiveStartupFailures {
		return
	}
	tp.unhealthy = true
	m.log.Error("agent type unhealthy, suspending spawns",
		"agentType", tp.spec.AgentType, "consecutiveFailures", tp.startupFails)
	if m.events != nil {
		m.events.TypeUnhealthy(tp.spec.AgentType, tp.startupFails)
	}
}

// ClearUnhealthy re-enables spawning for an agent type.
func (m *Manager) ClearUnhealthy(agentType string) error {
	tp, ok := m.pool(agentType)
	if !ok {
		return fmt.Errorf("no pool for agent type %s", agentType)
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.unhealthy = false
	tp.startupFails = 0
	tp.lastError = ""
	m.log.Info("unhealthy flag cleared", "agentType", agentType)
	return nil
}

// Statuses returns a point-in-time summary of every pool.
func (m *Manager) Statuses() map[string]TypeStatus {
	m.mu.Lock()
	pools := make(map[string]*typePool, len(m.pools))
	for name, tp := range m.pools {
		pools[name] = tp
	}
	m.mu.Unlock()

	result := make(map[string]TypeStatus, len(pools))
	for name, tp := range pools {
		tp.mu.Lock()
		st := TypeStatus{
			AgentType: name,
			Desired:   tp.desired,
			Running:   tp.liveCountLocked(),
			Unhealthy: tp.unhealthy,
			LastError: tp.lastError,
			Workers:   make([]WorkerHandle, 0, len(tp.workers)),
		}
		for _, w := range tp.workers {
			st.Workers = append(st.Workers, w.handle)
		}
		tp.mu.Unlock()
		result[name] = st
	}
	return result
}

// Shutdown drains every pool to zero, bounded by ctx. Workers still
// alive when ctx expires are force-terminated.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	agentTypes := make([]string, 0, len(m.pools))
	for name := range m.pools {
		agentTypes = append(agentTypes, name)
	}
	m.mu.Unlock()

	for _, name := range agentTypes {
		if err := m.Reconcile(ctx, name, 0); err != nil {
			m.log.Warn("shutdown reconcile failed", "agentType", name, "error", err.Error())
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.forceKillAll()
			return
		case <-ticker.C:
			if m.totalLive() == 0 {
				return
			}
		}
	}
}

func (m *Manager) totalLive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, tp := range m.pools {
		tp.mu.Lock()
		total += tp.liveCountLocked()
		tp.mu.Unlock()
	}
	return total
}

func (m *Manager) forceKillAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tp := range m.pools {
		tp.mu.Lock()
		for _, w := range tp.workers {
			if w.handle.State.Live() {
				m.log.Warn("force-killing worker at shutdown",
					"agentType", tp.spec.AgentType, "workerID", w.handle.ID)
				w.proc.Kill()
				m.failLocked(tp, w, "shutdown timeout")
			}
			m.idxMu.Lock()
			delete(m.index, w.handle.ID)
			m.idxMu.Unlock()
		}
		tp.workers = nil
		tp.mu.Unlock()
	}
}

// --- helpers; callers hold tp.mu ---

func (tp *typePool) liveCountLocked() int {
	n := 0
	for _, w := range tp.workers {
		if w.handle.State.Live() {
			n++
		}
	}
	return n
}

func (m *Manager) transitionLocked(tp *typePool, w *worker, to WorkerState, reason string) {
	from := w.handle.State
	if from == to {
		return
	}
	w.handle.State = to
	m.log.Info("worker transition", "agentType", tp.spec.AgentType, "workerID", w.handle.ID,
		"from", string(from), "to", string(to), "reason", reason)
	if m.events != nil {
		m.events.WorkerTransition(tp.spec.AgentType, w.handle.ID, from, to, reason)
	}
	m.updateGaugesLocked(tp)
}

func (m *Manager) failLocked(tp *typePool, w *worker, reason string) {
	if m.metrics != nil {
		m.metrics.WorkerFailures.WithLabelValues(tp.spec.AgentType, reason).Inc()
	}
	m.transitionLocked(tp, w, StateFailed, reason)
}

func (m *Manager) removeLocked(tp *typePool, w *worker) {
	for i, cur := range tp.workers {
		if cur == w {
			tp.workers = append(tp.workers[:i], tp.workers[i+1:]...)
			break
		}
	}
	m.idxMu.Lock()
	delete(m.index, w.handle.ID)
	m.idxMu.Unlock()
	m.updateGaugesLocked(tp)
}

func (m *Manager) updateGaugesLocked(tp *typePool) {
	if m.metrics == nil {
		return
	}
	m.metrics.WorkersDesired.WithLabelValues(tp.spec.AgentType).Set(float64(tp.desired))
	m.metrics.WorkersRunning.WithLabelValues(tp.spec.AgentType).Set(float64(tp.liveCountLocked()))
}
