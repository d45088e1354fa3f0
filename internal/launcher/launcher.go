// Package launcher starts and stops worker processes. The pool manager
// drives it through the Runner interface; the real implementation execs
// the configured worker command, the mock stands in for tests.
package launcher

import "context"

// LaunchSpec describes how to start one worker.
type LaunchSpec struct {
	WorkerID  string
	AgentType string
	Queue     string
	Command   string
	Args      []string
	Env       []string // extra KEY=VALUE pairs from the agent type spec
	Dir       string

	// CallbackAddr is where the worker posts register/heartbeat/exit.
	CallbackAddr string
}

// Proc is a handle to a running worker process.
type Proc interface {
	// Signal asks the worker to stop gracefully (finish in-flight work,
	// ack, exit).
	Signal() error

	// Kill force-terminates the worker.
	Kill() error

	// Done is closed when the process exits; Err reports the exit error
	// afterwards, if any.
	Done() <-chan struct{}
	Err() error
}

// Runner spawns worker processes.
type Runner interface {
	Spawn(ctx context.Context, spec LaunchSpec) (Proc, error)
}
