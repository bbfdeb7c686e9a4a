package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/coordinator/pkg/definition"
)

func snapshotWithBranches(branches map[string]map[string]any) Snapshot {
	return Snapshot{Branches: branches}
}

func TestPerformMergeAppend(t *testing.T) {
	b := newBuilder()
	snap := snapshotWithBranches(map[string]map[string]any{
		"tok-0": {"result": "a"},
		"tok-1": {"result": "b"},
		"tok-2": {"result": "c"},
	})
	origin := map[int]string{0: "tok-0", 1: "tok-1", 2: "tok-2"}
	merge := &definition.Merge{Source: "$.result", Target: "state.results", Strategy: definition.MergeAppend}

	require.NoError(t, performMerge(b, snap, origin, merge))

	require.Len(t, b.decisions, 1)
	wc := b.decisions[0].WriteContext
	require.NotNil(t, wc)
	assert.Equal(t, "state.results", wc.Path)
	assert.Equal(t, []any{"a", "b", "c"}, wc.Value)
}

func TestPerformMergeKeyedBranch(t *testing.T) {
	b := newBuilder()
	snap := snapshotWithBranches(map[string]map[string]any{
		"tok-0": {"label": "x"},
		"tok-1": {"label": "y"},
	})
	origin := map[int]string{0: "tok-0", 1: "tok-1"}
	merge := &definition.Merge{Source: "$.label", Target: "state.map", Strategy: definition.MergeKeyedBranch}

	require.NoError(t, performMerge(b, snap, origin, merge))

	wc := b.decisions[0].WriteContext
	assert.Equal(t, map[string]any{"0": "x", "1": "y"}, wc.Value)
}

func TestPerformMergeObjectLaterBranchWins(t *testing.T) {
	b := newBuilder()
	snap := snapshotWithBranches(map[string]map[string]any{
		"tok-0": {"contribution": map[string]any{"k": "first"}},
		"tok-1": {"contribution": map[string]any{"k": "second"}},
	})
	origin := map[int]string{0: "tok-0", 1: "tok-1"}
	merge := &definition.Merge{Source: "$.contribution", Target: "state.obj", Strategy: definition.MergeObject}

	require.NoError(t, performMerge(b, snap, origin, merge))

	wc := b.decisions[0].WriteContext
	assert.Equal(t, map[string]any{"k": "second"}, wc.Value, "higher branch_index must win on key collision")
}

func TestPerformMergeLastWins(t *testing.T) {
	b := newBuilder()
	snap := snapshotWithBranches(map[string]map[string]any{
		"tok-0": {"v": 1},
		"tok-1": {"v": 2},
	})
	origin := map[int]string{0: "tok-0", 1: "tok-1"}
	merge := &definition.Merge{Source: "$.v", Target: "state.v", Strategy: definition.MergeLastWins}

	require.NoError(t, performMerge(b, snap, origin, merge))

	wc := b.decisions[0].WriteContext
	assert.Equal(t, float64(2), wc.Value, "branch table reads round-trip through JSON, so ints surface as float64")
}

func TestPerformMergeSkipsUndefinedContributions(t *testing.T) {
	b := newBuilder()
	snap := snapshotWithBranches(map[string]map[string]any{
		"tok-0": {"result": "a"},
		// tok-1 has no branch table at all (e.g. cancelled before arriving).
	})
	origin := map[int]string{0: "tok-0", 1: "tok-1"}
	merge := &definition.Merge{Source: "$.result", Target: "state.results", Strategy: definition.MergeAppend}

	require.NoError(t, performMerge(b, snap, origin, merge))

	wc := b.decisions[0].WriteContext
	assert.Equal(t, []any{"a"}, wc.Value, "an undefined contribution must be skipped, not nil-padded")
}

func TestPerformMergeObjectRejectsNonObjectContribution(t *testing.T) {
	b := newBuilder()
	snap := snapshotWithBranches(map[string]map[string]any{
		"tok-0": {"v": "not an object"},
	})
	origin := map[int]string{0: "tok-0"}
	merge := &definition.Merge{Source: "$.v", Target: "state.obj", Strategy: definition.MergeObject}

	err := performMerge(b, snap, origin, merge)
	assert.Error(t, err)
}
