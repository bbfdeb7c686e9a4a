package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

func newTestDispatcherForResolve(t *testing.T) *Dispatcher {
	t.Helper()
	log := trace.NewLog("run-1", trace.NewMemoryStorage(), nil)
	ctxStore := contextstore.New("run-1", log, nil, nil, nil)
	require.NoError(t, ctxStore.Initialize(map[string]any{"name": "ada"}))
	branches := contextstore.NewBranchTables(log)
	return &Dispatcher{context: ctxStore, branches: branches}
}

func TestComposeInputReadsContextAndSkipsUndefinedSources(t *testing.T) {
	d := newTestDispatcherForResolve(t)
	node := &definition.Node{InputMapping: map[string]string{
		"name": "$.input.name",
		"nope": "$.input.missing",
	}}
	token := &tokenstore.Token{ID: "tok-1"}

	input, err := d.composeInput(node, token)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada"}, input, "a source resolving to undefined must be left out of the composed input entirely")
}

func TestComposeInputReadsBranchPrefixedSources(t *testing.T) {
	d := newTestDispatcherForResolve(t)
	d.branches.Create("tok-1", map[string]any{"item": "widget"})

	node := &definition.Node{InputMapping: map[string]string{"chosen": "$._branch.item"}}
	token := &tokenstore.Token{ID: "tok-1", SiblingGroupID: "g"}

	input, err := d.composeInput(node, token)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"chosen": "widget"}, input)
}

func TestComposeInputBranchSourceUndefinedForTokenOutsideSiblingGroup(t *testing.T) {
	d := newTestDispatcherForResolve(t)
	node := &definition.Node{InputMapping: map[string]string{"chosen": "$._branch.item"}}
	token := &tokenstore.Token{ID: "tok-1"}

	input, err := d.composeInput(node, token)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, input, "a token with no sibling group has no branch table to read from")
}

func TestGroupOutputMappingRoutesOutputToBranchForSiblingToken(t *testing.T) {
	token := &tokenstore.Token{ID: "tok-1", SiblingGroupID: "g"}
	mapping := map[string]string{
		"output.result": "$.output.value",
		"state.count":   "$.output.count",
	}

	groups, err := groupOutputMapping(mapping, token)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	var sawBranch, sawState bool
	for _, g := range groups {
		switch g.dest.Kind {
		case contextstore.DestBranch:
			sawBranch = true
			assert.Equal(t, "tok-1", g.dest.BranchOf)
		case contextstore.DestState:
			sawState = true
		}
	}
	assert.True(t, sawBranch, "an output.* dest for a sibling-group token must route to its branch table")
	assert.True(t, sawState)
}

func TestGroupOutputMappingRoutesOutputToSharedOutputForNonSiblingToken(t *testing.T) {
	token := &tokenstore.Token{ID: "tok-1"}
	mapping := map[string]string{"output.result": "$.output.value"}

	groups, err := groupOutputMapping(mapping, token)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, contextstore.DestOutput, groups[0].dest.Kind)
}

func TestGroupOutputMappingRejectsMissingNamespacePrefix(t *testing.T) {
	token := &tokenstore.Token{ID: "tok-1"}
	_, err := groupOutputMapping(map[string]string{"result": "$.output.value"}, token)
	assert.Error(t, err)
}

func TestGroupOutputMappingRejectsUnknownNamespace(t *testing.T) {
	token := &tokenstore.Token{ID: "tok-1"}
	_, err := groupOutputMapping(map[string]string{"bogus.result": "$.output.value"}, token)
	assert.Error(t, err)
}

func TestApplyOutputMappingWritesBranchTableForSiblingToken(t *testing.T) {
	d := newTestDispatcherForResolve(t)
	d.branches.Create("tok-1", map[string]any{})
	node := &definition.Node{OutputMapping: map[string]string{"output.result": "$.output.value"}}
	token := &tokenstore.Token{ID: "tok-1", SiblingGroupID: "g"}

	require.NoError(t, d.applyOutputMapping(node, token, map[string]any{"value": 42}))

	v, ok := d.branches.Read("tok-1", "result")
	require.True(t, ok)
	assert.Equal(t, float64(42), v, "branch table values round-trip through JSON like every other context write")
}

func TestApplyOutputMappingWritesSharedOutputForNonSiblingToken(t *testing.T) {
	d := newTestDispatcherForResolve(t)
	node := &definition.Node{OutputMapping: map[string]string{"output.result": "$.output.value"}}
	token := &tokenstore.Token{ID: "tok-1"}

	require.NoError(t, d.applyOutputMapping(node, token, map[string]any{"value": "done"}))
	assert.Equal(t, "done", d.context.Read("$.output.result"))
}
