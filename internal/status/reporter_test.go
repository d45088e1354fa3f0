package status

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/antlion/agentmq/internal/broker"
	"github.com/antlion/agentmq/internal/config"
	"github.com/antlion/agentmq/internal/launcher"
	"github.com/antlion/agentmq/internal/logging"
	"github.com/antlion/agentmq/internal/monitor"
	"github.com/antlion/agentmq/internal/pool"
	"github.com/antlion/agentmq/internal/registry"
)

func setupReporter(t *testing.T) (*Reporter, *pool.Manager, *registry.Registry, *broker.MockClient) {
	t.Helper()
	log := logging.New(io.Discard, "ERROR")

	client := broker.NewMockClient()
	mon := monitor.New(client, 10*time.Millisecond, log, nil)
	t.Cleanup(mon.Stop)

	reg := registry.New(nil)
	runner := launcher.NewMockRunner()

	pm := pool.NewManager(runner, "127.0.0.1:0", log, nil, nil)
	reg.SetActiveCounter(pm.ActiveCount)

	r := NewReporter(reg, pm, mon)
	return r, pm, reg, client
}

func testSpec(agentType string) registry.AgentTypeSpec {
	return registry.AgentTypeSpec{
		AgentType: agentType,
		Queue:     agentType + "_q",
		Command:   "worker",
		Scaling: config.ScalingConfig{
			MinWorkers: 0, MaxWorkers: 5, ScaleUpThreshold: 10,
			StepUp: 1, StepDown: 1, Cooldown: config.Duration(time.Second),
		},
	}
}

func TestSnapshotNeverBlocks(t *testing.T) {
	r, pm, reg, _ := setupReporter(t)

	if err := reg.Register(testSpec("chatbot")); err != nil {
		t.Fatal(err)
	}
	pm.EnsurePool(mustLookup(t, reg, "chatbot"))

	// No monitor data, no workers: snapshot still answers.
	snap := r.Snapshot()
	ts, ok := snap["chatbot"]
	if !ok {
		t.Fatal("expected chatbot in snapshot")
	}
	if ts.Health != HealthStopped {
		t.Errorf("expected stopped health, got %s", ts.Health)
	}
}

func TestSnapshotReflectsPool(t *testing.T) {
	r, pm, reg, _ := setupReporter(t)

	if err := reg.Register(testSpec("chatbot")); err != nil {
		t.Fatal(err)
	}
	spec := mustLookup(t, reg, "chatbot")
	pm.EnsurePool(spec)
	pm.Reconcile(context.Background(), "chatbot", 2)

	snap := r.Snapshot()
	ts := snap["chatbot"]
	if ts.Desired != 2 || ts.Running != 2 {
		t.Errorf("expected 2/2, got %d/%d", ts.Desired, ts.Running)
	}
	if ts.Health != HealthOK {
		t.Errorf("expected ok, got %s", ts.Health)
	}
	if len(ts.Workers) != 2 {
		t.Errorf("expected 2 workers, got %d", len(ts.Workers))
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	r, _, _, _ := setupReporter(t)

	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	r.WorkerTransition("chatbot", "w-1", pool.StateStarting, pool.StateRunning, "first heartbeat")

	select {
	case e := <-ch:
		if e.Type != EventWorker {
			t.Errorf("expected worker event, got %s", e.Type)
		}
		if e.From != "STARTING" || e.To != "RUNNING" {
			t.Errorf("unexpected transition %s -> %s", e.From, e.To)
		}
		if e.At.IsZero() {
			t.Error("expected event timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	r, _, _, _ := setupReporter(t)

	ch := r.Subscribe()
	r.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("expected closed channel after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	r.ScalingDecision("chatbot", "scale-up", 3)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	r, _, _, _ := setupReporter(t)

	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	// Overflow the buffer; publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			r.ScalingDecision("chatbot", "scale-up", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func mustLookup(t *testing.T, reg *registry.Registry, agentType string) registry.AgentTypeSpec {
	t.Helper()
	spec, err := reg.Lookup(agentType)
	if err != nil {
		t.Fatal(err)
	}
	return spec
}
