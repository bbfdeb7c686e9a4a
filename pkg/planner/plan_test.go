package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
)

func newCond(t *testing.T) *ConditionEvaluator {
	t.Helper()
	cond, err := NewConditionEvaluator()
	require.NoError(t, err)
	return cond
}

func TestPlanStartCreatesRootToken(t *testing.T) {
	wf := &definition.Workflow{ID: "wf", Version: "v1", InitialNodeRef: "A", Nodes: map[string]*definition.Node{"A": {Ref: "A"}}}
	result, err := Plan(newCond(t), wf, Snapshot{}, WorkflowStart())
	require.NoError(t, err)

	require.Len(t, result.Decisions, 1)
	create := result.Decisions[0].CreateToken
	require.NotNil(t, create)
	assert.Equal(t, "A", create.Draft.NodeRef)
}

func TestPlanTaskCompletedDiscardsLateTriggerForTerminalToken(t *testing.T) {
	wf := &definition.Workflow{ID: "wf", Version: "v1", Nodes: map[string]*definition.Node{"A": {Ref: "A", TaskRef: "t"}}}
	tok := &tokenstore.Token{ID: "tok-1", NodeRef: "A", Status: tokenstore.StatusCancelled}
	snap := Snapshot{Workflow: wf, Tokens: map[string]*tokenstore.Token{"tok-1": tok}, Context: map[string]any{}}

	result, err := Plan(newCond(t), wf, snap, TaskCompleted("tok-1", map[string]any{"x": 1}))
	require.NoError(t, err)
	assert.Empty(t, result.Decisions, "a completed response for an already-cancelled token must be discarded")
}

func TestPlanTaskFailedDiscardsLateTriggerForTerminalToken(t *testing.T) {
	wf := &definition.Workflow{ID: "wf", Version: "v1", Nodes: map[string]*definition.Node{"A": {Ref: "A", TaskRef: "t"}}}
	tok := &tokenstore.Token{ID: "tok-1", NodeRef: "A", Status: tokenstore.StatusCancelled}
	snap := Snapshot{Workflow: wf, Tokens: map[string]*tokenstore.Token{"tok-1": tok}, Context: map[string]any{}}

	result, err := Plan(newCond(t), wf, snap, TaskFailed("tok-1", TaskError{Message: "boom"}))
	require.NoError(t, err)
	assert.Empty(t, result.Decisions, "a failure for an already-cancelled token must be discarded, not fail the run")
}

func TestPlanTaskFailedFailsRunForActiveToken(t *testing.T) {
	wf := &definition.Workflow{ID: "wf", Version: "v1", Nodes: map[string]*definition.Node{"A": {Ref: "A", TaskRef: "t"}}}
	tok := &tokenstore.Token{ID: "tok-1", NodeRef: "A", Status: tokenstore.StatusRunning}
	snap := Snapshot{Workflow: wf, Tokens: map[string]*tokenstore.Token{"tok-1": tok}, Context: map[string]any{}}

	result, err := Plan(newCond(t), wf, snap, TaskFailed("tok-1", TaskError{Message: "boom"}))
	require.NoError(t, err)

	var sawFail, sawStatus bool
	for _, d := range result.Decisions {
		if d.Kind == DecisionFailWorkflow {
			sawFail = true
			assert.Equal(t, "boom", d.Fail.Error.Message)
		}
		if d.Kind == DecisionSetTokenStatus && d.SetStatus.TokenID == "tok-1" {
			sawStatus = true
			assert.Equal(t, tokenstore.StatusFailed, d.SetStatus.Status)
		}
	}
	assert.True(t, sawFail, "an active token's failure must fail the run")
	assert.True(t, sawStatus)
}

// TestPlanTokenArrivedAtJunctionCompletesWithoutDispatch exercises the
// junction-node fix: a token arriving at a node with no task_ref and no
// outgoing transitions must still reach a terminal status, not sit pending
// forever (otherwise checkCompletion would never see the run as finished).
func TestPlanTokenArrivedAtJunctionCompletesWithoutDispatch(t *testing.T) {
	wf := &definition.Workflow{
		ID: "wf", Version: "v1",
		InitialNodeRef: "E",
		Nodes:          map[string]*definition.Node{"E": {Ref: "E"}}, // no TaskRef, no transitions
	}
	tok := &tokenstore.Token{ID: "tok-1", NodeRef: "E", Status: tokenstore.StatusPending}
	snap := Snapshot{Workflow: wf, Tokens: map[string]*tokenstore.Token{"tok-1": tok}, Context: map[string]any{}}

	result, err := Plan(newCond(t), wf, snap, TokenArrivedAtNode("tok-1", "E"))
	require.NoError(t, err)

	var statuses []tokenstore.Status
	for _, d := range result.Decisions {
		if d.Kind == DecisionSetTokenStatus && d.SetStatus.TokenID == "tok-1" {
			statuses = append(statuses, d.SetStatus.Status)
		}
	}
	require.Len(t, statuses, 2, "pending -> completed is not an admitted direct transition, so this must go through running")
	assert.Equal(t, tokenstore.StatusRunning, statuses[0])
	assert.Equal(t, tokenstore.StatusCompleted, statuses[1])

	var sawComplete bool
	for _, d := range result.Decisions {
		if d.Kind == DecisionCompleteWorkflow {
			sawComplete = true
		}
	}
	assert.True(t, sawComplete, "with only one token and it now terminal, the run must be detected complete")
}

func TestPlanTokenArrivedDiscardsForTerminalToken(t *testing.T) {
	wf := &definition.Workflow{ID: "wf", Version: "v1", Nodes: map[string]*definition.Node{"E": {Ref: "E"}}}
	tok := &tokenstore.Token{ID: "tok-1", NodeRef: "E", Status: tokenstore.StatusCancelled}
	snap := Snapshot{Workflow: wf, Tokens: map[string]*tokenstore.Token{"tok-1": tok}, Context: map[string]any{}}

	result, err := Plan(newCond(t), wf, snap, TokenArrivedAtNode("tok-1", "E"))
	require.NoError(t, err)
	assert.Empty(t, result.Decisions)
}

func TestPlanAfterFailureDropsFurtherDecisions(t *testing.T) {
	wf := &definition.Workflow{ID: "wf", Version: "v1", Nodes: map[string]*definition.Node{"A": {Ref: "A", TaskRef: "t"}}}
	snap := Snapshot{Workflow: wf, Failed: true}

	result, err := Plan(newCond(t), wf, snap, TaskCompleted("tok-1", map[string]any{}))
	require.NoError(t, err)
	assert.Empty(t, result.Decisions, "spec §4.3.5: downstream inconsistency after failure is dropped")
}
