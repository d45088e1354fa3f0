package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// ExecRunner spawns workers as child processes.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Spawn(ctx context.Context, spec LaunchSpec) (Proc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Command == "" {
		return nil, fmt.Errorf("launch spec for %q has no command", spec.AgentType)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(),
		"AGENTMQ_WORKER_ID="+spec.WorkerID,
		"AGENTMQ_AGENT_TYPE="+spec.AgentType,
		"AGENTMQ_QUEUE="+spec.Queue,
		"AGENTMQ_CALLBACK_ADDR="+spec.CallbackAddr,
	)
	cmd.Env = append(cmd.Env, spec.Env...)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker %s: %w", spec.WorkerID, err)
	}

	p := &execProc{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type execProc struct {
	cmd  *exec.Cmd
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (p *execProc) Signal() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProc) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProc) Done() <-chan struct{} {
	return p.done
}

func (p *execProc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

var _ Runner = (*ExecRunner)(nil)
