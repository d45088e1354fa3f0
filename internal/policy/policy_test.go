package policy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/antlion/agentmq/internal/config"
)

func testPolicy() config.ScalingConfig {
	return config.ScalingConfig{
		MinWorkers:       1,
		MaxWorkers:       5,
		ScaleUpThreshold: 10,
		StepUp:           1,
		StepDown:         1,
		Cooldown:         config.Duration(30 * time.Second),
	}
}

func TestScaleUpOneStep(t *testing.T) {
	// depth=25, current=1 -> one step to 2, not a jump to max.
	d := Evaluate(Input{
		Depth:   25,
		Running: 1,
		Desired: 1,
		Policy:  testPolicy(),
		Now:     time.Now(),
	})

	if d.Direction != ScaleUp {
		t.Fatalf("expected scale-up, got %s", d.Direction)
	}
	if d.Desired != 2 {
		t.Errorf("expected desired 2, got %d", d.Desired)
	}
}

func TestScaleUpClampedToMax(t *testing.T) {
	d := Evaluate(Input{
		Depth:   1000,
		Running: 5,
		Desired: 5,
		Policy:  testPolicy(),
		Now:     time.Now(),
	})
	if d.Desired != 5 {
		t.Errorf("expected clamp at max 5, got %d", d.Desired)
	}
}

func TestScaleUpRespectsCooldown(t *testing.T) {
	now := time.Now()
	d := Evaluate(Input{
		Depth:       100,
		Running:     2,
		Desired:     2,
		Policy:      testPolicy(),
		LastScaleAt: now.Add(-5 * time.Second),
		Now:         now,
	})
	if d.Direction != Hold {
		t.Errorf("expected hold during cooldown, got %s", d.Direction)
	}
	if d.Desired != 2 {
		t.Errorf("expected desired unchanged, got %d", d.Desired)
	}
}

func TestScaleDownAfterIdle(t *testing.T) {
	now := time.Now()
	d := Evaluate(Input{
		Depth:       0,
		Running:     3,
		Desired:     3,
		Policy:      testPolicy(),
		LastScaleAt: now.Add(-2 * time.Minute),
		IdleFor:     time.Minute,
		Now:         now,
	})
	if d.Direction != ScaleDown {
		t.Fatalf("expected scale-down, got %s", d.Direction)
	}
	if d.Desired != 2 {
		t.Errorf("expected desired 2, got %d", d.Desired)
	}
}

func TestScaleDownNeedsIdleDuration(t *testing.T) {
	now := time.Now()
	d := Evaluate(Input{
		Depth:       0,
		Running:     3,
		Desired:     3,
		Policy:      testPolicy(),
		LastScaleAt: now.Add(-2 * time.Minute),
		IdleFor:     5 * time.Second, // not empty long enough
		Now:         now,
	})
	if d.Direction != Hold {
		t.Errorf("expected hold, got %s", d.Direction)
	}
}

func TestScaleDownStopsAtMin(t *testing.T) {
	now := time.Now()
	d := Evaluate(Input{
		Depth:   0,
		Running: 1,
		Desired: 1,
		Policy:  testPolicy(),
		IdleFor: time.Hour,
		Now:     now,
	})
	if d.Direction != Hold {
		t.Errorf("expected hold at min, got %s", d.Direction)
	}
	if d.Desired != 1 {
		t.Errorf("expected desired 1, got %d", d.Desired)
	}
}

func TestZeroRunningBacklogDivisor(t *testing.T) {
	// depth / max(running, 1): no division by zero with an empty pool.
	d := Evaluate(Input{
		Depth:   15,
		Running: 0,
		Desired: 0,
		Policy: config.ScalingConfig{
			MinWorkers: 0, MaxWorkers: 5, ScaleUpThreshold: 10,
			StepUp: 1, StepDown: 1, Cooldown: config.Duration(time.Second),
		},
		Now: time.Now(),
	})
	if d.Direction != ScaleUp {
		t.Fatalf("expected scale-up from empty pool, got %s", d.Direction)
	}
	if d.Desired != 1 {
		t.Errorf("expected desired 1, got %d", d.Desired)
	}
}

func TestEvaluateRandomizedBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := time.Now()

	for i := 0; i < 5000; i++ {
		minW := rng.Intn(4)
		maxW := minW + 1 + rng.Intn(8)
		p := config.ScalingConfig{
			MinWorkers:       minW,
			MaxWorkers:       maxW,
			ScaleUpThreshold: float64(1 + rng.Intn(50)),
			StepUp:           1 + rng.Intn(3),
			StepDown:         1 + rng.Intn(3),
			Cooldown:         config.Duration(time.Duration(rng.Intn(60)) * time.Second),
		}

		in := Input{
			Depth:       rng.Intn(200),
			Running:     rng.Intn(12),
			Desired:     rng.Intn(12),
			Policy:      p,
			LastScaleAt: now.Add(-time.Duration(rng.Intn(120)) * time.Second),
			IdleFor:     time.Duration(rng.Intn(120)) * time.Second,
			Now:         now,
		}

		d := Evaluate(in)

		if d.Desired < p.MinWorkers || d.Desired > p.MaxWorkers {
			t.Fatalf("desired %d outside [%d,%d] for input %+v", d.Desired, p.MinWorkers, p.MaxWorkers, in)
		}

		// Scale-up priority: whenever the backlog condition holds and the
		// cooldown is over, the decision is never scale-down.
		backlog := float64(in.Depth) / float64(max(in.Running, 1))
		cooldownOver := now.Sub(in.LastScaleAt) >= p.Cooldown.Std()
		if backlog > p.ScaleUpThreshold && cooldownOver && d.Direction == ScaleDown {
			t.Fatalf("scale-down won over scale-up for input %+v", in)
		}
	}
}

func TestEvaluateIsPure(t *testing.T) {
	in := Input{
		Depth:   25,
		Running: 2,
		Desired: 2,
		Policy:  testPolicy(),
		Now:     time.Now(),
	}
	first := Evaluate(in)
	second := Evaluate(in)
	if first != second {
		t.Errorf("same input produced different decisions: %+v vs %+v", first, second)
	}
}
