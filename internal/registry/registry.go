// Package registry maps agent type identifiers to their queue binding,
// launch descriptor and scaling policy. It is the single source of truth
// for queue-to-type binding: no two active specs may share a queue.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/antlion/agentmq/internal/config"
)

var (
	ErrUnknownAgentType   = errors.New("unknown agent type")
	ErrDuplicateAgentType = errors.New("agent type already registered")
	ErrQueueConflict      = errors.New("queue already bound to another agent type")
	ErrAgentPoolActive    = errors.New("agent pool has active workers")
)

// AgentTypeSpec identifies one kind of worker. Immutable after
// registration; the registry hands out copies.
type AgentTypeSpec struct {
	AgentType string                `json:"agentType"`
	Queue     string                `json:"queue"`
	Command   string                `json:"command"`
	Args      []string              `json:"args,omitempty"`
	Env       []string              `json:"env,omitempty"`
	Dir       string                `json:"dir,omitempty"`
	Scaling   config.ScalingConfig  `json:"scaling"`
	Timeouts  config.TimeoutConfig  `json:"timeouts"`
}

// ActiveCounter reports the number of live workers for an agent type.
// The pool manager provides it so a type cannot be removed while workers
// exist.
type ActiveCounter func(agentType string) int

type Registry struct {
	mu          sync.RWMutex
	specs       map[string]AgentTypeSpec
	queues      map[string]string // queue -> agent type
	activeCount ActiveCounter
}

func New(activeCount ActiveCounter) *Registry {
	return &Registry{
		specs:       make(map[string]AgentTypeSpec),
		queues:      make(map[string]string),
		activeCount: activeCount,
	}
}

// SetActiveCounter installs the pool-side worker counter. Wired after
// construction because the pool manager needs the registry first.
func (r *Registry) SetActiveCounter(fn ActiveCounter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeCount = fn
}

// Register adds a spec. On any failure the registry is unchanged.
func (r *Registry) Register(spec AgentTypeSpec) error {
	if spec.AgentType == "" {
		return fmt.Errorf("agent type is required")
	}
	if spec.Queue == "" {
		return fmt.Errorf("queue is required")
	}
	if err := spec.Scaling.Validate(); err != nil {
		return err
	}
	spec.Timeouts.ApplyDefaults()
	spec.Scaling.ApplyDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.AgentType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgentType, spec.AgentType)
	}
	if owner, bound := r.queues[spec.Queue]; bound {
		return fmt.Errorf("%w: queue %s is bound to %s", ErrQueueConflict, spec.Queue, owner)
	}

	r.specs[spec.AgentType] = spec
	r.queues[spec.Queue] = spec.AgentType
	return nil
}

// Lookup returns the spec for an agent type.
func (r *Registry) Lookup(agentType string) (AgentTypeSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[agentType]
	if !ok {
		return AgentTypeSpec{}, fmt.Errorf("%w: %s", ErrUnknownAgentType, agentType)
	}
	return spec, nil
}

// Unregister removes a spec. Fails while the type still has live workers.
func (r *Registry) Unregister(agentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec, ok := r.specs[agentType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgentType, agentType)
	}
	if r.activeCount != nil {
		if n := r.activeCount(agentType); n > 0 {
			return fmt.Errorf("%w: %s has %d workers", ErrAgentPoolActive, agentType, n)
		}
	}

	delete(r.specs, agentType)
	delete(r.queues, spec.Queue)
	return nil
}

// List returns all registered specs.
func (r *Registry) List() []AgentTypeSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]AgentTypeSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		result = append(result, spec)
	}
	return result
}

// Queues returns the queue names of all registered types.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]string, 0, len(r.queues))
	for q := range r.queues {
		result = append(result, q)
	}
	return result
}

// FromConfig builds a spec from a config entry.
func FromConfig(at config.AgentTypeConfig) AgentTypeSpec {
	return AgentTypeSpec{
		AgentType: at.AgentType,
		Queue:     at.Queue,
		Command:   at.Command,
		Args:      at.Args,
		Env:       at.Env,
		Dir:       at.Dir,
		Scaling:   at.Scaling,
		Timeouts:  at.Timeouts,
	}
}
