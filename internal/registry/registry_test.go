package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/antlion/agentmq/internal/config"
)

func testSpec(agentType, queue string) AgentTypeSpec {
	return AgentTypeSpec{
		AgentType: agentType,
		Queue:     queue,
		Command:   "/usr/local/bin/worker",
		Scaling: config.ScalingConfig{
			MinWorkers:       0,
			MaxWorkers:       5,
			ScaleUpThreshold: 10,
			StepUp:           1,
			StepDown:         1,
			Cooldown:         config.Duration(time.Second),
		},
		Timeouts: config.DefaultTimeouts(),
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New(nil)

	if err := r.Register(testSpec("chatbot", "chatbot")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	spec, err := r.Lookup("chatbot")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if spec.Queue != "chatbot" {
		t.Errorf("expected queue chatbot, got %s", spec.Queue)
	}

	_, err = r.Lookup("nope")
	if !errors.Is(err, ErrUnknownAgentType) {
		t.Errorf("expected ErrUnknownAgentType, got %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New(nil)

	if err := r.Register(testSpec("chatbot", "chatbot")); err != nil {
		t.Fatal(err)
	}
	err := r.Register(testSpec("chatbot", "other_q"))
	if !errors.Is(err, ErrDuplicateAgentType) {
		t.Errorf("expected ErrDuplicateAgentType, got %v", err)
	}
}

func TestRegisterQueueConflict(t *testing.T) {
	r := New(nil)

	if err := r.Register(testSpec("billing", "billing_q")); err != nil {
		t.Fatal(err)
	}

	err := r.Register(testSpec("billing2", "billing_q"))
	if !errors.Is(err, ErrQueueConflict) {
		t.Fatalf("expected ErrQueueConflict, got %v", err)
	}

	// No partial registration after the failed call.
	if _, err := r.Lookup("billing2"); !errors.Is(err, ErrUnknownAgentType) {
		t.Error("failed registration must not leave partial state")
	}
	if len(r.List()) != 1 {
		t.Errorf("expected 1 spec, got %d", len(r.List()))
	}
	if len(r.Queues()) != 1 {
		t.Errorf("expected 1 queue binding, got %d", len(r.Queues()))
	}
}

func TestUnregisterWhileActive(t *testing.T) {
	active := 2
	r := New(func(agentType string) int { return active })

	if err := r.Register(testSpec("chatbot", "chatbot")); err != nil {
		t.Fatal(err)
	}

	err := r.Unregister("chatbot")
	if !errors.Is(err, ErrAgentPoolActive) {
		t.Fatalf("expected ErrAgentPoolActive, got %v", err)
	}

	// Workers drained: unregistration succeeds and frees the queue.
	active = 0
	if err := r.Unregister("chatbot"); err != nil {
		t.Fatalf("Unregister after drain failed: %v", err)
	}
	if err := r.Register(testSpec("chatbot2", "chatbot")); err != nil {
		t.Errorf("queue should be free after unregister: %v", err)
	}
}

func TestUnregisterUnknown(t *testing.T) {
	r := New(nil)
	if err := r.Unregister("ghost"); !errors.Is(err, ErrUnknownAgentType) {
		t.Errorf("expected ErrUnknownAgentType, got %v", err)
	}
}

func TestRegisterInvalidScaling(t *testing.T) {
	r := New(nil)
	spec := testSpec("chatbot", "chatbot")
	spec.Scaling.MinWorkers = 10
	spec.Scaling.MaxWorkers = 2
	if err := r.Register(spec); err == nil {
		t.Error("expected error for invalid scaling policy")
	}
}
