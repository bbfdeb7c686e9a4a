package applier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/planner"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

func newTestStores(t *testing.T) Stores {
	t.Helper()
	log := trace.NewLog("run-1", trace.NewMemoryStorage(), nil)
	return Stores{
		Tokens:   tokenstore.New("run-1", log),
		Context:  contextstore.New("run-1", log, nil, nil, nil),
		Branches: contextstore.NewBranchTables(log),
		Log:      log,
	}
}

func TestApplyCreateTokenDecision(t *testing.T) {
	stores := newTestStores(t)
	result := planner.Result{
		Decisions: []planner.Decision{
			{Kind: planner.DecisionCreateToken, CreateToken: &planner.CreateTokenDecision{
				Draft: tokenstore.Draft{ID: "tok-1", RunID: "run-1", NodeRef: "A"},
			}},
		},
		Order: []planner.OrderEntry{{IsEvent: false, Index: 0}},
	}

	_, err := Apply("run-1", stores, result)
	require.NoError(t, err)

	got, err := stores.Tokens.Get("tok-1")
	require.NoError(t, err)
	assert.Equal(t, tokenstore.StatusPending, got.Status)
}

func TestApplyCreateTokenWithSeedCreatesBranch(t *testing.T) {
	stores := newTestStores(t)
	result := planner.Result{
		Decisions: []planner.Decision{
			{Kind: planner.DecisionCreateToken, CreateToken: &planner.CreateTokenDecision{
				Draft: tokenstore.Draft{ID: "tok-1", RunID: "run-1", NodeRef: "A"},
				Seed:  map[string]any{"item": "x"},
			}},
		},
		Order: []planner.OrderEntry{{IsEvent: false, Index: 0}},
	}

	_, err := Apply("run-1", stores, result)
	require.NoError(t, err)

	v, ok := stores.Branches.Read("tok-1", "item")
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestApplySetTokenStatusRejectsInvalidTransitionAndStopsApply(t *testing.T) {
	stores := newTestStores(t)
	stores.Tokens.Create(tokenstore.Draft{ID: "tok-1", RunID: "run-1", NodeRef: "A"})

	result := planner.Result{
		Decisions: []planner.Decision{
			{Kind: planner.DecisionSetTokenStatus, SetStatus: &planner.SetTokenStatusDecision{
				TokenID: "tok-1", Status: tokenstore.StatusCompleted, Reason: "bad",
			}},
			{Kind: planner.DecisionCreateToken, CreateToken: &planner.CreateTokenDecision{
				Draft: tokenstore.Draft{ID: "tok-2", RunID: "run-1", NodeRef: "B"},
			}},
		},
		Order: []planner.OrderEntry{{IsEvent: false, Index: 0}, {IsEvent: false, Index: 1}},
	}

	_, err := Apply("run-1", stores, result)
	require.Error(t, err)

	_, err = stores.Tokens.Get("tok-2")
	assert.ErrorIs(t, err, tokenstore.ErrNotFound, "a rejected decision must stop the whole Apply call, so later decisions never run")
}

func TestApplyWriteContextDecision(t *testing.T) {
	stores := newTestStores(t)
	require.NoError(t, stores.Context.Initialize(map[string]any{}))

	result := planner.Result{
		Decisions: []planner.Decision{
			{Kind: planner.DecisionWriteContext, WriteContext: &planner.WriteContextDecision{
				Path: "state.x", Value: 1, Mode: contextstore.Set,
			}},
		},
		Order: []planner.OrderEntry{{IsEvent: false, Index: 0}},
	}

	_, err := Apply("run-1", stores, result)
	require.NoError(t, err)
	assert.Equal(t, float64(1), stores.Context.Read("$.state.x"))
}

func TestApplyCompleteWorkflowDecisionSetsOutcome(t *testing.T) {
	stores := newTestStores(t)
	result := planner.Result{
		Decisions: []planner.Decision{
			{Kind: planner.DecisionCompleteWorkflow, Complete: &planner.CompleteWorkflowDecision{
				FinalOutput: map[string]any{"greeting": "hi"},
			}},
		},
		Order: []planner.OrderEntry{{IsEvent: false, Index: 0}},
	}

	outcome, err := Apply("run-1", stores, result)
	require.NoError(t, err)
	assert.True(t, outcome.Completed)
	assert.Equal(t, map[string]any{"greeting": "hi"}, outcome.FinalOutput)
}

func TestApplyFailWorkflowDecisionCancelsTokens(t *testing.T) {
	stores := newTestStores(t)
	stores.Tokens.Create(tokenstore.Draft{ID: "tok-1", RunID: "run-1", NodeRef: "A"})
	require.NoError(t, stores.Tokens.UpdateStatus("tok-1", tokenstore.StatusRunning, "dispatching"))

	result := planner.Result{
		Decisions: []planner.Decision{
			{Kind: planner.DecisionFailWorkflow, Fail: &planner.FailWorkflowDecision{
				Error:        planner.RunError{Kind: "TaskError", Message: "boom"},
				CancelTokens: []string{"tok-1"},
			}},
		},
		Order: []planner.OrderEntry{{IsEvent: false, Index: 0}},
	}

	outcome, err := Apply("run-1", stores, result)
	require.NoError(t, err)
	assert.True(t, outcome.Failed)
	assert.Equal(t, "boom", outcome.Error.Message)

	got, err := stores.Tokens.Get("tok-1")
	require.NoError(t, err)
	assert.Equal(t, tokenstore.StatusCancelled, got.Status)
}

func TestApplyDiscardBranchDecision(t *testing.T) {
	stores := newTestStores(t)
	stores.Branches.Create("tok-1", map[string]any{"a": 1})

	result := planner.Result{
		Decisions: []planner.Decision{
			{Kind: planner.DecisionDiscardBranch, DiscardBranch: &planner.DiscardBranchDecision{TokenID: "tok-1"}},
		},
		Order: []planner.OrderEntry{{IsEvent: false, Index: 0}},
	}

	_, err := Apply("run-1", stores, result)
	require.NoError(t, err)

	_, ok := stores.Branches.Read("tok-1", "a")
	assert.False(t, ok)
}

func TestApplyInterleavesEventsAndDecisionsInOrder(t *testing.T) {
	stores := newTestStores(t)
	result := planner.Result{
		Decisions: []planner.Decision{
			{Kind: planner.DecisionCreateToken, CreateToken: &planner.CreateTokenDecision{
				Draft: tokenstore.Draft{ID: "tok-1", RunID: "run-1", NodeRef: "A"},
			}},
		},
		Events: []planner.PlannedEvent{
			{Type: trace.TypeRoutingMatch, Payload: map[string]any{"transition_ref": "t1"}},
		},
		Order: []planner.OrderEntry{
			{IsEvent: true, Index: 0},
			{IsEvent: false, Index: 0},
		},
	}

	_, err := Apply("run-1", stores, result)
	require.NoError(t, err)

	events, err := stores.Log.ByTypePrefix("routing.")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "t1", events[0].Payload["transition_ref"])
}
