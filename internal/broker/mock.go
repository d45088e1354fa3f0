package broker

import (
	"context"
	"sync"
)

// MockClient implements Client for testing.
type MockClient struct {
	mu        sync.Mutex
	Depths    map[string]int
	Consumers map[string]int
	Published map[string][][]byte

	DepthFn    func(ctx context.Context, queue string) (int, int, error)
	PublishErr error
	DepthErr   error
}

func NewMockClient() *MockClient {
	return &MockClient{
		Depths:    make(map[string]int),
		Consumers: make(map[string]int),
		Published: make(map[string][][]byte),
	}
}

func (m *MockClient) SetDepth(queue string, depth, consumers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Depths[queue] = depth
	m.Consumers[queue] = consumers
}

func (m *MockClient) QueueDepth(ctx context.Context, queue string) (int, int, error) {
	if m.DepthFn != nil {
		return m.DepthFn(ctx, queue)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DepthErr != nil {
		return 0, 0, m.DepthErr
	}
	return m.Depths[queue], m.Consumers[queue], nil
}

func (m *MockClient) Publish(ctx context.Context, queue string, body []byte) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published[queue] = append(m.Published[queue], body)
	m.Depths[queue]++
	return nil
}

func (m *MockClient) Close() error { return nil }
