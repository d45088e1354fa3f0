// Package policy computes desired worker counts from queue backlog. It is
// a pure function of its inputs: it never spawns or kills anything, it
// only recommends a target for the pool manager to reconcile toward.
package policy

import (
	"time"

	"github.com/antlion/agentmq/internal/config"
)

// Direction labels a scaling decision.
type Direction string

const (
	Hold      Direction = "hold"
	ScaleUp   Direction = "scale-up"
	ScaleDown Direction = "scale-down"
)

// Input is everything one evaluation needs.
type Input struct {
	Depth   int // ready + unacked messages
	Running int // workers in STARTING/RUNNING/DRAINING
	Desired int // current target

	Policy config.ScalingConfig

	LastScaleAt time.Time // zero value means never scaled
	IdleFor     time.Duration // how long the queue has been at depth 0
	Now         time.Time
}

// Decision is the recommended target.
type Decision struct {
	Desired          int
	Direction        Direction
	BacklogPerWorker float64
}

// Evaluate recommends a desired count clamped to [min, max]. Scale-up
// takes priority over scale-down; both respect the cooldown interval
// since the last scaling action, and scale-down additionally requires the
// queue to have been empty for at least the cooldown interval.
func Evaluate(in Input) Decision {
	p := in.Policy
	cooldownOver := in.LastScaleAt.IsZero() ||
		in.Now.Sub(in.LastScaleAt) >= p.Cooldown.Std()

	backlog := float64(in.Depth) / float64(max(in.Running, 1))

	desired := clamp(in.Desired, p.MinWorkers, p.MaxWorkers)

	switch {
	case backlog > p.ScaleUpThreshold && cooldownOver:
		return Decision{
			Desired:          clamp(desired+p.StepUp, p.MinWorkers, p.MaxWorkers),
			Direction:        ScaleUp,
			BacklogPerWorker: backlog,
		}

	case in.Depth == 0 && desired > p.MinWorkers && cooldownOver &&
		in.IdleFor >= p.Cooldown.Std():
		return Decision{
			Desired:          clamp(desired-p.StepDown, p.MinWorkers, p.MaxWorkers),
			Direction:        ScaleDown,
			BacklogPerWorker: 0,
		}

	default:
		return Decision{
			Desired:          desired,
			Direction:        Hold,
			BacklogPerWorker: backlog,
		}
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
