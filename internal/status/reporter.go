// Package status aggregates orchestrator state for external callers and
// fans out state-change events. Snapshots are served from memory and
// never block on the broker.
package status

import (
	"sync"
	"time"

	"github.com/antlion/agentmq/internal/monitor"
	"github.com/antlion/agentmq/internal/pool"
	"github.com/antlion/agentmq/internal/registry"
)

// Health of one agent type as reported in snapshots.
const (
	HealthOK        = "ok"
	HealthDegraded  = "degraded"  // queue observation failing
	HealthUnhealthy = "unhealthy" // spawning suspended
	HealthStopped   = "stopped"   // desired 0, nothing live
)

// EventType labels reporter events.
type EventType string

const (
	EventWorker    EventType = "worker.transition"
	EventScaling   EventType = "scaling.decision"
	EventUnhealthy EventType = "type.unhealthy"
	EventQueue     EventType = "queue.degraded"
)

// Event is one state change. Events are not replayed: a subscriber that
// reconnects should call Snapshot to resynchronize.
type Event struct {
	Type      EventType `json:"type"`
	AgentType string    `json:"agentType,omitempty"`
	Queue     string    `json:"queue,omitempty"`
	WorkerID  string    `json:"workerID,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Desired   int       `json:"desired,omitempty"`
	At        time.Time `json:"at"`
}

// TypeStatus is the per-agent-type entry in a snapshot.
type TypeStatus struct {
	AgentType  string              `json:"agentType"`
	Queue      string              `json:"queue"`
	Desired    int                 `json:"desired"`
	Running    int                 `json:"running"`
	Health     string              `json:"health"`
	LastError  string              `json:"lastError,omitempty"`
	QueueDepth int                 `json:"queueDepth"`
	Consumers  int                 `json:"consumers"`
	Workers    []pool.WorkerHandle `json:"workers,omitempty"`
}

type Reporter struct {
	reg *registry.Registry
	pm  *pool.Manager
	mon *monitor.Monitor

	mu   sync.Mutex
	subs map[chan Event]bool
}

func NewReporter(reg *registry.Registry, pm *pool.Manager, mon *monitor.Monitor) *Reporter {
	return &Reporter{
		reg:  reg,
		pm:   pm,
		mon:  mon,
		subs: make(map[chan Event]bool),
	}
}

// Snapshot returns current in-memory state for every registered type.
func (r *Reporter) Snapshot() map[string]TypeStatus {
	statuses := r.pm.Statuses()
	result := make(map[string]TypeStatus, len(statuses))

	for _, spec := range r.reg.List() {
		ts := TypeStatus{
			AgentType: spec.AgentType,
			Queue:     spec.Queue,
			Health:    HealthOK,
		}

		if ps, ok := statuses[spec.AgentType]; ok {
			ts.Desired = ps.Desired
			ts.Running = ps.Running
			ts.LastError = ps.LastError
			ts.Workers = ps.Workers
			if ps.Unhealthy {
				ts.Health = HealthUnhealthy
			} else if ps.Desired == 0 && ps.Running == 0 {
				ts.Health = HealthStopped
			}
		} else {
			ts.Health = HealthStopped
		}

		if qs, ok := r.mon.Latest(spec.Queue); ok {
			ts.QueueDepth = qs.Snapshot.Depth
			ts.Consumers = qs.Snapshot.ConsumerCount
			if qs.Degraded && ts.Health == HealthOK {
				ts.Health = HealthDegraded
			}
		}

		result[spec.AgentType] = ts
	}
	return result
}

// Subscribe returns a buffered event channel. Slow subscribers drop
// events rather than stall the emitters.
func (r *Reporter) Subscribe() chan Event {
	ch := make(chan Event, 64)
	r.mu.Lock()
	r.subs[ch] = true
	r.mu.Unlock()
	return ch
}

func (r *Reporter) Unsubscribe(ch chan Event) {
	r.mu.Lock()
	if r.subs[ch] {
		delete(r.subs, ch)
		close(ch)
	}
	r.mu.Unlock()
}

func (r *Reporter) publish(e Event) {
	e.At = time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow
		}
	}
}

// WorkerTransition implements pool.Events.
func (r *Reporter) WorkerTransition(agentType, workerID string, from, to pool.WorkerState, reason string) {
	r.publish(Event{
		Type:      EventWorker,
		AgentType: agentType,
		WorkerID:  workerID,
		From:      string(from),
		To:        string(to),
		Reason:    reason,
	})
}

// TypeUnhealthy implements pool.Events.
func (r *Reporter) TypeUnhealthy(agentType string, consecutiveFailures int) {
	r.publish(Event{
		Type:      EventUnhealthy,
		AgentType: agentType,
		Reason:    "consecutive startup failures",
	})
}

// ScalingDecision records an applied scaling action.
func (r *Reporter) ScalingDecision(agentType, direction string, desired int) {
	r.publish(Event{
		Type:      EventScaling,
		AgentType: agentType,
		Reason:    direction,
		Desired:   desired,
	})
}

// QueueDegraded records a queue observation failure.
func (r *Reporter) QueueDegraded(queue, lastError string) {
	r.publish(Event{
		Type:   EventQueue,
		Queue:  queue,
		Reason: lastError,
	})
}

var _ pool.Events = (*Reporter)(nil)
