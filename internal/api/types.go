// Package api defines the JSON contract between agentmqctl and the
// daemon, plus the HTTP client the CLI uses.
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/antlion/agentmq/internal/config"
	"github.com/antlion/agentmq/internal/registry"
	"github.com/antlion/agentmq/internal/status"
)

// CommandRequest submits a control command for an agent type.
type CommandRequest struct {
	Kind      string `json:"kind"` // START, STOP, SCALE_TO
	AgentType string `json:"agentType"`
	Target    int    `json:"target,omitempty"` // SCALE_TO only
}

// ScalingSpec mirrors the scaling policy for JSON transport. Durations
// travel as strings ("30s") so the CLI and config read the same way.
type ScalingSpec struct {
	MinWorkers       int     `json:"minWorkers"`
	MaxWorkers       int     `json:"maxWorkers"`
	ScaleUpThreshold float64 `json:"scaleUpThreshold"`
	StepUp           int     `json:"stepUp,omitempty"`
	StepDown         int     `json:"stepDown,omitempty"`
	Cooldown         string  `json:"cooldown,omitempty"`
}

// TimeoutSpec mirrors the per-type timeouts for JSON transport.
type TimeoutSpec struct {
	StartupDeadline               string `json:"startupDeadline,omitempty"`
	DrainDeadline                 string `json:"drainDeadline,omitempty"`
	HeartbeatInterval             string `json:"heartbeatInterval,omitempty"`
	HeartbeatGraceMultiplier      int    `json:"heartbeatGraceMultiplier,omitempty"`
	MaxConsecutiveStartupFailures int    `json:"maxConsecutiveStartupFailures,omitempty"`
}

// RegisterTypeRequest registers an agent type at runtime.
type RegisterTypeRequest struct {
	AgentType string      `json:"agentType"`
	Queue     string      `json:"queue"`
	Command   string      `json:"command"`
	Args      []string    `json:"args,omitempty"`
	Env       []string    `json:"env,omitempty"`
	Dir       string      `json:"dir,omitempty"`
	Scaling   ScalingSpec `json:"scaling"`
	Timeouts  TimeoutSpec `json:"timeouts,omitempty"`
}

// ToSpec converts the request into a registry spec, parsing durations.
func (r RegisterTypeRequest) ToSpec() (registry.AgentTypeSpec, error) {
	spec := registry.AgentTypeSpec{
		AgentType: r.AgentType,
		Queue:     r.Queue,
		Command:   r.Command,
		Args:      r.Args,
		Env:       r.Env,
		Dir:       r.Dir,
		Scaling: config.ScalingConfig{
			MinWorkers:       r.Scaling.MinWorkers,
			MaxWorkers:       r.Scaling.MaxWorkers,
			ScaleUpThreshold: r.Scaling.ScaleUpThreshold,
			StepUp:           r.Scaling.StepUp,
			StepDown:         r.Scaling.StepDown,
		},
		Timeouts: config.TimeoutConfig{
			HeartbeatGraceMultiplier:      r.Timeouts.HeartbeatGraceMultiplier,
			MaxConsecutiveStartupFailures: r.Timeouts.MaxConsecutiveStartupFailures,
		},
	}

	durations := []struct {
		raw  string
		dst  *config.Duration
		name string
	}{
		{r.Scaling.Cooldown, &spec.Scaling.Cooldown, "cooldown"},
		{r.Timeouts.StartupDeadline, &spec.Timeouts.StartupDeadline, "startupDeadline"},
		{r.Timeouts.DrainDeadline, &spec.Timeouts.DrainDeadline, "drainDeadline"},
		{r.Timeouts.HeartbeatInterval, &spec.Timeouts.HeartbeatInterval, "heartbeatInterval"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return spec, fmt.Errorf("parsing %s: %w", d.name, err)
		}
		*d.dst = config.Duration(parsed)
	}

	return spec, nil
}

// PublishRequest enqueues a task. Either queue or agentType selects the
// destination; agentType resolves through the registry.
type PublishRequest struct {
	Queue     string          `json:"queue,omitempty"`
	AgentType string          `json:"agentType,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// StatusResponse is the full control-plane snapshot.
type StatusResponse struct {
	Types map[string]status.TypeStatus `json:"types"`
}

// OKResponse is the generic success reply.
type OKResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
