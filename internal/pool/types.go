package pool

import "time"

// WorkerState is the lifecycle state of one worker process.
type WorkerState string

const (
	StateStarting WorkerState = "STARTING"
	StateRunning  WorkerState = "RUNNING"
	StateDraining WorkerState = "DRAINING"
	StateStopped  WorkerState = "STOPPED"
	StateFailed   WorkerState = "FAILED"
)

// Live reports whether the state counts toward the active worker count.
func (s WorkerState) Live() bool {
	switch s {
	case StateStarting, StateRunning, StateDraining:
		return true
	}
	return false
}

// WorkerHandle is the externally visible state of one worker. Only the
// pool manager mutates the underlying record; callers get copies.
type WorkerHandle struct {
	ID            string      `json:"id"`
	AgentType     string      `json:"agentType"`
	State         WorkerState `json:"state"`
	StartedAt     time.Time   `json:"startedAt"`
	LastHeartbeat time.Time   `json:"lastHeartbeat,omitempty"`
}

// TypeStatus summarizes one agent type's pool.
type TypeStatus struct {
	AgentType string         `json:"agentType"`
	Desired   int            `json:"desired"`
	Running   int            `json:"running"` // live workers (STARTING/RUNNING/DRAINING)
	Unhealthy bool           `json:"unhealthy"`
	LastError string         `json:"lastError,omitempty"`
	Workers   []WorkerHandle `json:"workers,omitempty"`
}

// Events receives pool state changes. The status reporter implements it;
// a nil sink is allowed in tests.
type Events interface {
	WorkerTransition(agentType, workerID string, from, to WorkerState, reason string)
	TypeUnhealthy(agentType string, consecutiveFailures int)
}
