package dispatch

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/relaycore/relaycore/internal/router"
)

// actsRef is a nil *Activities pointer used only to create bound method
// references for Temporal mock registration; the SDK extracts the method
// name via reflection and never runs the body.
var actsRef *Activities

func sampleInput() DispatchInput {
	return DispatchInput{
		Attempt: AttemptInput{
			RequestID:  "req-1",
			ProviderID: "openai",
			ModelID:    "gpt-3.5-turbo",
			Request: router.Request{
				Messages: []router.Message{{Role: "user", Content: "hi"}},
			},
		},
		MaxAttempts:  3,
		RetryDelayMs: 50,
	}
}

func TestDispatchWorkflowSucceedsFirstAttempt(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	want := AttemptOutput{Body: json.RawMessage(`{"ok":true}`)}
	env.OnActivity(actsRef.Run, mock.Anything, mock.Anything).Return(want, nil)

	env.ExecuteWorkflow(DispatchWorkflow, sampleInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var got AttemptOutput
	require.NoError(t, env.GetWorkflowResult(&got))
	require.Equal(t, want.Body, got.Body)
}

func TestDispatchWorkflowFailsAfterExhaustingAttempts(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.Run, mock.Anything, mock.Anything).
		Return(AttemptOutput{}, errors.New("provider unavailable"))

	in := sampleInput()
	in.MaxAttempts = 2
	env.ExecuteWorkflow(DispatchWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}
