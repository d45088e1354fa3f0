package launcher

import (
	"context"
	"sync"
)

// MockRunner implements Runner for testing. Spawned MockProcs stay alive
// until SignalExit or Kill.
type MockRunner struct {
	mu       sync.Mutex
	Procs    map[string]*MockProc // keyed by WorkerID
	Specs    []LaunchSpec
	SpawnErr error
	SpawnFn  func(ctx context.Context, spec LaunchSpec) (Proc, error)
}

func NewMockRunner() *MockRunner {
	return &MockRunner{Procs: make(map[string]*MockProc)}
}

func (r *MockRunner) Spawn(ctx context.Context, spec LaunchSpec) (Proc, error) {
	if r.SpawnFn != nil {
		return r.SpawnFn(ctx, spec)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SpawnErr != nil {
		return nil, r.SpawnErr
	}
	p := NewMockProc()
	r.Procs[spec.WorkerID] = p
	r.Specs = append(r.Specs, spec)
	return p, nil
}

// ProcList returns a copy of the live proc handles keyed by worker ID.
// Safe to call while spawns are in flight.
func (r *MockRunner) ProcList() map[string]*MockProc {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*MockProc, len(r.Procs))
	for id, p := range r.Procs {
		out[id] = p
	}
	return out
}

// SpawnCount returns how many workers were spawned.
func (r *MockRunner) SpawnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Specs)
}

// MockProc is a fake worker process handle.
type MockProc struct {
	mu        sync.Mutex
	done      chan struct{}
	err       error
	signaled  bool
	killed    bool
	SignalErr error
}

func NewMockProc() *MockProc {
	return &MockProc{done: make(chan struct{})}
}

func (p *MockProc) Signal() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SignalErr != nil {
		return p.SignalErr
	}
	p.signaled = true
	return nil
}

func (p *MockProc) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	p.exitLocked(nil)
	return nil
}

// SignalExit simulates the process exiting on its own.
func (p *MockProc) SignalExit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitLocked(err)
}

func (p *MockProc) exitLocked(err error) {
	select {
	case <-p.done:
	default:
		p.err = err
		close(p.done)
	}
}

func (p *MockProc) Done() <-chan struct{} { return p.done }

func (p *MockProc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *MockProc) Signaled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaled
}

func (p *MockProc) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

var _ Runner = (*MockRunner)(nil)
var _ Proc = (*MockProc)(nil)
