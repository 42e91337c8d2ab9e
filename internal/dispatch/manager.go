package dispatch

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Config holds the Temporal connection settings for the durable dispatch
// path.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Manager owns the Temporal client and worker lifecycle backing the durable
// dispatch path. Grounded on the teacher's internal/temporal.Manager, scoped
// down to the single DispatchWorkflow/Run activity pair this package needs.
type Manager struct {
	client client.Client
	worker worker.Worker
	cfg    Config
}

// New dials Temporal and registers DispatchWorkflow plus the Run activity
// backed by fn. The returned Manager's worker is not yet polling; call
// Start to begin.
func New(cfg Config, fn AttemptFunc) (*Manager, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: temporal client dial: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	acts := &Activities{Fn: fn}
	w.RegisterWorkflow(DispatchWorkflow)
	w.RegisterActivity(acts.Run)

	return &Manager{client: c, worker: w, cfg: cfg}, nil
}

// Start begins the worker polling its task queue for workflow/activity
// tasks.
func (m *Manager) Start() error {
	return m.worker.Start()
}

// Stop gracefully stops the worker and closes the Temporal client.
func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
}

// Dispatch starts a DispatchWorkflow run for in and blocks until it
// completes, returning the winning attempt's body once Temporal's
// retry-managed activity succeeds (or the final error once attempts are
// exhausted).
func (m *Manager) Dispatch(ctx context.Context, in DispatchInput) (AttemptOutput, error) {
	run, err := m.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "dispatch-" + in.Attempt.RequestID,
		TaskQueue: m.cfg.TaskQueue,
	}, DispatchWorkflow, in)
	if err != nil {
		return AttemptOutput{}, fmt.Errorf("dispatch: start workflow: %w", err)
	}

	var out AttemptOutput
	if err := run.Get(ctx, &out); err != nil {
		return AttemptOutput{}, err
	}
	return out, nil
}
