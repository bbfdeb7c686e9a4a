package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
)

func TestEvaluateTransitionNoConditionMatches(t *testing.T) {
	tr := &definition.Transition{Ref: "t1", From: "A", To: "B"}
	matched, err := evaluateTransition(newCond(t), tr, Snapshot{Context: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestEvaluateTransitionConditionFalse(t *testing.T) {
	tr := &definition.Transition{Ref: "t1", From: "A", To: "B", Condition: &definition.Condition{Expression: "state.x > 10"}}
	snap := Snapshot{Context: map[string]any{"state": map[string]any{"x": 1}, "input": map[string]any{}, "output": map[string]any{}}}

	matched, err := evaluateTransition(newCond(t), tr, snap)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestEvaluateTransitionForeachEmptyCollectionNoMatch(t *testing.T) {
	tr := &definition.Transition{
		Ref: "t1", From: "A", To: "B",
		Foreach: &definition.Foreach{Collection: "$.state.items", ItemVar: "item"},
	}
	snap := Snapshot{Context: map[string]any{"state": map[string]any{"items": []any{}}, "input": map[string]any{}, "output": map[string]any{}}}

	matched, err := evaluateTransition(newCond(t), tr, snap)
	require.NoError(t, err)
	assert.False(t, matched, "an empty foreach collection must not match")
}

func TestEvaluateTransitionForeachNonEmptyMatches(t *testing.T) {
	tr := &definition.Transition{
		Ref: "t1", From: "A", To: "B",
		Foreach: &definition.Foreach{Collection: "$.state.items", ItemVar: "item"},
	}
	snap := Snapshot{Context: map[string]any{"state": map[string]any{"items": []any{"a", "b"}}, "input": map[string]any{}, "output": map[string]any{}}}

	matched, err := evaluateTransition(newCond(t), tr, snap)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestRouteFirstMatchOutsidePriorityZeroStopsScanning(t *testing.T) {
	wf := &definition.Workflow{
		Nodes: map[string]*definition.Node{"A": {Ref: "A"}, "B": {Ref: "B"}, "C": {Ref: "C"}},
		Transitions: []*definition.Transition{
			{Ref: "to-b", From: "A", To: "B", Priority: 1},
			{Ref: "to-c", From: "A", To: "C", Priority: 2},
		},
	}
	tok := &tokenstore.Token{ID: "tok-1", RunID: "run-1", NodeRef: "A"}
	snap := Snapshot{Workflow: wf, Context: map[string]any{"input": map[string]any{}, "state": map[string]any{}, "output": map[string]any{}}}

	b := newBuilder()
	require.NoError(t, route(b, newCond(t), wf, snap, tok))

	var spawned []string
	for _, d := range b.decisions {
		if d.Kind == DecisionCreateToken {
			spawned = append(spawned, d.CreateToken.Draft.NodeRef)
		}
	}
	require.Len(t, spawned, 1, "only the first matching non-priority-0 transition should fire")
	assert.Equal(t, "B", spawned[0])
}

func TestRoutePriorityZeroGroupAllFire(t *testing.T) {
	wf := &definition.Workflow{
		Nodes: map[string]*definition.Node{"A": {Ref: "A"}, "B": {Ref: "B"}, "C": {Ref: "C"}},
		Transitions: []*definition.Transition{
			{Ref: "to-b", From: "A", To: "B", Priority: 0},
			{Ref: "to-c", From: "A", To: "C", Priority: 0},
		},
	}
	tok := &tokenstore.Token{ID: "tok-1", RunID: "run-1", NodeRef: "A"}
	snap := Snapshot{Workflow: wf, Context: map[string]any{"input": map[string]any{}, "state": map[string]any{}, "output": map[string]any{}}}

	b := newBuilder()
	require.NoError(t, route(b, newCond(t), wf, snap, tok))

	var spawned []string
	for _, d := range b.decisions {
		if d.Kind == DecisionCreateToken {
			spawned = append(spawned, d.CreateToken.Draft.NodeRef)
		}
	}
	require.Len(t, spawned, 2, "every transition in the priority-0 group must fire")
	assert.ElementsMatch(t, []string{"B", "C"}, spawned)
}

func TestRouteMatchedPriorityZeroGroupSuppressesLowerPriorityTransition(t *testing.T) {
	wf := &definition.Workflow{
		Nodes: map[string]*definition.Node{"A": {Ref: "A"}, "B": {Ref: "B"}, "C": {Ref: "C"}, "D": {Ref: "D"}},
		Transitions: []*definition.Transition{
			{Ref: "to-b", From: "A", To: "B", Priority: 0},
			{Ref: "to-c", From: "A", To: "C", Priority: 0},
			{Ref: "to-d", From: "A", To: "D", Priority: 1},
		},
	}
	tok := &tokenstore.Token{ID: "tok-1", RunID: "run-1", NodeRef: "A"}
	snap := Snapshot{Workflow: wf, Context: map[string]any{"input": map[string]any{}, "state": map[string]any{}, "output": map[string]any{}}}

	b := newBuilder()
	require.NoError(t, route(b, newCond(t), wf, snap, tok))

	var spawned []string
	for _, d := range b.decisions {
		if d.Kind == DecisionCreateToken {
			spawned = append(spawned, d.CreateToken.Draft.NodeRef)
		}
	}
	require.Len(t, spawned, 2, "the matched priority-0 group is the first match; a matching lower-priority transition must not also fire")
	assert.ElementsMatch(t, []string{"B", "C"}, spawned)
}

func TestRouteSkipsNonMatchingConditionAndTriesNext(t *testing.T) {
	wf := &definition.Workflow{
		Nodes: map[string]*definition.Node{"A": {Ref: "A"}, "B": {Ref: "B"}, "C": {Ref: "C"}},
		Transitions: []*definition.Transition{
			{Ref: "to-b", From: "A", To: "B", Priority: 1, Condition: &definition.Condition{Expression: "state.x > 10"}},
			{Ref: "to-c", From: "A", To: "C", Priority: 2},
		},
	}
	tok := &tokenstore.Token{ID: "tok-1", RunID: "run-1", NodeRef: "A"}
	snap := Snapshot{Workflow: wf, Context: map[string]any{"input": map[string]any{}, "state": map[string]any{"x": 1}, "output": map[string]any{}}}

	b := newBuilder()
	require.NoError(t, route(b, newCond(t), wf, snap, tok))

	var spawned []string
	for _, d := range b.decisions {
		if d.Kind == DecisionCreateToken {
			spawned = append(spawned, d.CreateToken.Draft.NodeRef)
		}
	}
	require.Len(t, spawned, 1)
	assert.Equal(t, "C", spawned[0], "the unconditioned higher-priority transition must fire once the first one's condition fails")
}

func TestRouteNoTransitionsProducesNoDecisions(t *testing.T) {
	wf := &definition.Workflow{Nodes: map[string]*definition.Node{"A": {Ref: "A"}}}
	tok := &tokenstore.Token{ID: "tok-1", RunID: "run-1", NodeRef: "A"}
	snap := Snapshot{Workflow: wf, Context: map[string]any{}}

	b := newBuilder()
	require.NoError(t, route(b, newCond(t), wf, snap, tok))
	assert.Empty(t, b.decisions)
}
