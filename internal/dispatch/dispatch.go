// Package dispatch is the optional durable-dispatch path for RelayCore's
// priority queue: a single queued request's provider attempt runs as a
// Temporal workflow with an activity-level retry policy, so retries survive
// a process restart. A workflow that still fails is handed back to the
// queue's own in-process exponential-backoff retry loop. It is disabled
// unless RELAYCORE_TEMPORAL_ENABLED is set; internal/pipeline calls its
// in-process attempt directly otherwise.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/relaycore/relaycore/internal/router"
)

// AttemptInput is everything a dispatch attempt needs, independent of any
// in-memory queue state, so it can be replayed by Temporal after a restart.
type AttemptInput struct {
	RequestID  string         `json:"request_id"`
	ProviderID string         `json:"provider_id"`
	ModelID    string         `json:"model_id"`
	Request    router.Request `json:"request"`
}

// AttemptOutput is the result of one dispatch attempt.
type AttemptOutput struct {
	Body json.RawMessage `json:"body"`
}

// DispatchInput is the DispatchWorkflow's input: an attempt plus the retry
// parameters the priority queue would otherwise apply itself.
type DispatchInput struct {
	Attempt      AttemptInput `json:"attempt"`
	MaxAttempts  int32        `json:"max_attempts"`
	RetryDelayMs int32        `json:"retry_delay_ms"`
}

const activityTimeout = 60 * time.Second

// DispatchWorkflow runs the Run activity with a RetryPolicy expressing
// retryDelayMs × 2^(attempt-1) backoff under Temporal-managed durability. If
// the activity still fails, the error goes back to the priority queue, whose
// own in-process retry loop handles it like any other dispatch error.
func DispatchWorkflow(ctx workflow.Context, input DispatchInput) (AttemptOutput, error) {
	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	initialInterval := time.Duration(input.RetryDelayMs) * time.Millisecond
	if initialInterval <= 0 {
		initialInterval = 200 * time.Millisecond
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    initialInterval,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    maxAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out AttemptOutput
	err := workflow.ExecuteActivity(ctx, (*Activities).Run, input.Attempt).Get(ctx, &out)
	return out, err
}

// AttemptFunc performs a single dispatch attempt against the live provider
// adapters. internal/pipeline supplies its breaker-wrapped failover logic as
// this callback, so the Temporal activity and the in-process fallback path
// share one implementation instead of diverging.
type AttemptFunc func(ctx context.Context, in AttemptInput) (AttemptOutput, error)

// Activities wraps the caller-supplied AttemptFunc as a registerable
// Temporal activity.
type Activities struct {
	Fn AttemptFunc
}

// Run is the activity Temporal invokes and retries per the workflow's
// RetryPolicy.
func (a *Activities) Run(ctx context.Context, in AttemptInput) (AttemptOutput, error) {
	return a.Fn(ctx, in)
}
