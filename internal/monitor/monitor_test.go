package monitor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/antlion/agentmq/internal/broker"
	"github.com/antlion/agentmq/internal/logging"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func testLogger() *logging.Logger {
	return logging.New(io.Discard, "ERROR")
}

func TestWatchProducesSnapshots(t *testing.T) {
	client := broker.NewMockClient()
	client.SetDepth("chatbot", 7, 2)

	m := New(client, 10*time.Millisecond, testLogger(), nil)
	defer m.Stop()

	m.Watch(context.Background(), "chatbot")

	waitFor(t, time.Second, func() bool {
		st, ok := m.Latest("chatbot")
		return ok && st.HasData
	})

	st, _ := m.Latest("chatbot")
	if st.Snapshot.Depth != 7 {
		t.Errorf("expected depth 7, got %d", st.Snapshot.Depth)
	}
	if st.Snapshot.ConsumerCount != 2 {
		t.Errorf("expected 2 consumers, got %d", st.Snapshot.ConsumerCount)
	}
	if st.Degraded {
		t.Error("healthy queue reported degraded")
	}
}

func TestDegradedAfterRepeatedFailures(t *testing.T) {
	client := broker.NewMockClient()
	client.DepthErr = broker.ErrBrokerUnavailable

	m := New(client, time.Millisecond, testLogger(), nil)
	defer m.Stop()

	m.Watch(context.Background(), "chatbot")

	waitFor(t, time.Second, func() bool {
		st, ok := m.Latest("chatbot")
		return ok && st.Degraded
	})

	st, _ := m.Latest("chatbot")
	if st.LastError == "" {
		t.Error("expected last error to be recorded")
	}
	if st.HasData {
		t.Error("no successful poll, HasData should be false")
	}
}

func TestRecoveryClearsDegraded(t *testing.T) {
	client := broker.NewMockClient()
	client.DepthErr = broker.ErrBrokerUnavailable

	m := New(client, time.Millisecond, testLogger(), nil)
	defer m.Stop()

	m.Watch(context.Background(), "chatbot")
	waitFor(t, time.Second, func() bool {
		st, _ := m.Latest("chatbot")
		return st.Degraded
	})

	client.DepthErr = nil
	client.SetDepth("chatbot", 3, 1)

	waitFor(t, 2*time.Second, func() bool {
		st, _ := m.Latest("chatbot")
		return !st.Degraded && st.HasData
	})

	st, _ := m.Latest("chatbot")
	if st.LastError != "" {
		t.Errorf("expected cleared error, got %q", st.LastError)
	}
}

func TestIdleForTracksEmptyQueue(t *testing.T) {
	client := broker.NewMockClient()
	client.SetDepth("chatbot", 0, 1)

	m := New(client, 5*time.Millisecond, testLogger(), nil)
	defer m.Stop()

	m.Watch(context.Background(), "chatbot")
	waitFor(t, time.Second, func() bool {
		st, _ := m.Latest("chatbot")
		return st.HasData
	})

	time.Sleep(30 * time.Millisecond)
	st, _ := m.Latest("chatbot")
	if st.IdleFor(time.Now()) <= 0 {
		t.Error("expected positive idle duration for empty queue")
	}

	// Depth returning resets the idle clock.
	client.SetDepth("chatbot", 5, 1)
	waitFor(t, time.Second, func() bool {
		st, _ := m.Latest("chatbot")
		return st.Snapshot.Depth == 5
	})
	st, _ = m.Latest("chatbot")
	if st.IdleFor(time.Now()) != 0 {
		t.Error("expected zero idle duration for non-empty queue")
	}
}

func TestUnwatch(t *testing.T) {
	client := broker.NewMockClient()
	m := New(client, time.Millisecond, testLogger(), nil)
	defer m.Stop()

	m.Watch(context.Background(), "chatbot")
	m.Unwatch("chatbot")

	if _, ok := m.Latest("chatbot"); ok {
		t.Error("expected no status after Unwatch")
	}
}
