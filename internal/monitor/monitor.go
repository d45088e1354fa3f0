// Package monitor observes broker queue depth. Each watched queue gets
// its own polling goroutine so a stalled broker connection for one queue
// never blocks observation of the others.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/antlion/agentmq/internal/broker"
	"github.com/antlion/agentmq/internal/logging"
	"github.com/antlion/agentmq/internal/metrics"
)

// degradedAfter is how many consecutive poll failures mark a queue
// DEGRADED in status output.
const degradedAfter = 3

// backoffCap bounds the retry interval at this multiple of the poll
// interval.
const backoffCap = 8

// Status is the monitor's view of one queue.
type Status struct {
	Snapshot  broker.QueueSnapshot
	HasData   bool // false until the first successful poll
	Degraded  bool
	LastError string
	ZeroSince time.Time // when depth was first observed at 0; zero value if non-empty
}

// IdleFor reports how long the queue has been empty as of now.
func (s Status) IdleFor(now time.Time) time.Duration {
	if !s.HasData || s.Snapshot.Depth != 0 || s.ZeroSince.IsZero() {
		return 0
	}
	return now.Sub(s.ZeroSince)
}

type queueState struct {
	status Status
	fails  int
	cancel context.CancelFunc
}

type Monitor struct {
	client   broker.Client
	interval time.Duration
	log      *logging.Logger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	queues map[string]*queueState

	onDegraded func(queue, lastError string)
}

func New(client broker.Client, interval time.Duration, log *logging.Logger, m *metrics.Metrics) *Monitor {
	return &Monitor{
		client:   client,
		interval: interval,
		log:      log.Component("monitor"),
		metrics:  m,
		queues:   make(map[string]*queueState),
	}
}

// SetDegradedHook installs a callback fired when a queue crosses into
// DEGRADED. Call before the first Watch.
func (m *Monitor) SetDegradedHook(fn func(queue, lastError string)) {
	m.onDegraded = fn
}

// Watch starts polling a queue. Watching an already-watched queue is a
// no-op.
func (m *Monitor) Watch(ctx context.Context, queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queue]; ok {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	m.queues[queue] = &queueState{cancel: cancel}
	go m.pollLoop(pollCtx, queue)
}

// Unwatch stops polling a queue and forgets its state.
func (m *Monitor) Unwatch(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs, ok := m.queues[queue]; ok {
		qs.cancel()
		delete(m.queues, queue)
	}
}

// Latest returns the last known status for a queue.
func (m *Monitor) Latest(queue string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs, ok := m.queues[queue]
	if !ok {
		return Status{}, false
	}
	return qs.status, true
}

// Stop cancels all pollers.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for queue, qs := range m.queues {
		qs.cancel()
		delete(m.queues, queue)
	}
}

func (m *Monitor) pollLoop(ctx context.Context, queue string) {
	// First poll immediately so status is available before the first tick.
	m.poll(ctx, queue)

	for {
		wait := m.nextInterval(queue)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.poll(ctx, queue)
		}
	}
}

// nextInterval doubles the poll interval per consecutive failure, capped.
func (m *Monitor) nextInterval(queue string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	qs, ok := m.queues[queue]
	if !ok || qs.fails == 0 {
		return m.interval
	}
	backoff := m.interval
	for i := 0; i < qs.fails && backoff < m.interval*backoffCap; i++ {
		backoff *= 2
	}
	if backoff > m.interval*backoffCap {
		backoff = m.interval * backoffCap
	}
	return backoff
}

func (m *Monitor) poll(ctx context.Context, queue string) {
	depth, consumers, err := m.client.QueueDepth(ctx, queue)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	qs, ok := m.queues[queue]
	if !ok {
		return // unwatched while polling
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		qs.fails++
		qs.status.LastError = err.Error()
		if qs.fails >= degradedAfter && !qs.status.Degraded {
			qs.status.Degraded = true
			m.log.Warn("queue degraded", "queue", queue, "consecutiveFailures", qs.fails, "error", err.Error())
			if m.onDegraded != nil {
				m.onDegraded(queue, err.Error())
			}
		}
		if m.metrics != nil {
			m.metrics.BrokerPollErrors.WithLabelValues(queue).Inc()
		}
		return
	}

	if qs.status.Degraded {
		m.log.Info("queue recovered", "queue", queue)
	}
	qs.fails = 0
	qs.status.Degraded = false
	qs.status.LastError = ""
	qs.status.HasData = true

	prev := qs.status.Snapshot
	qs.status.Snapshot = broker.QueueSnapshot{
		Queue:         queue,
		Depth:         depth,
		ConsumerCount: consumers,
		ObservedAt:    now,
	}

	switch {
	case depth == 0 && (prev.Depth != 0 || qs.status.ZeroSince.IsZero()):
		qs.status.ZeroSince = now
	case depth != 0:
		qs.status.ZeroSince = time.Time{}
	}

	if m.metrics != nil {
		m.metrics.QueueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}
