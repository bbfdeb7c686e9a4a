package contextstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/coordinator/pkg/trace"
)

func newTestLog() *trace.Log {
	return trace.NewLog("run-1", trace.NewMemoryStorage(), nil)
}

func TestInitializeIsWriteOnce(t *testing.T) {
	s := New("run-1", newTestLog(), nil, nil, nil)
	require.NoError(t, s.Initialize(map[string]any{"a": 1}))

	err := s.Initialize(map[string]any{"a": 2})
	assert.Error(t, err, "a second Initialize must be rejected")

	assert.Equal(t, float64(1), s.Read("$.input.a"))
}

func TestReadUndefinedForMissingPath(t *testing.T) {
	s := New("run-1", newTestLog(), nil, nil, nil)
	require.NoError(t, s.Initialize(map[string]any{}))

	v := s.Read("$.state.nope")
	assert.True(t, IsUndefined(v))
}

func TestWriteRejectsInputNamespace(t *testing.T) {
	s := New("run-1", newTestLog(), nil, nil, nil)
	require.NoError(t, s.Initialize(map[string]any{}))

	err := s.Write("input.foo", "bar", Set)
	var invalidPath *InvalidPathError
	assert.ErrorAs(t, err, &invalidPath)
}

func TestWriteSetReplacesWholeValue(t *testing.T) {
	s := New("run-1", newTestLog(), nil, nil, nil)
	require.NoError(t, s.Initialize(map[string]any{}))

	require.NoError(t, s.Write("state.obj", map[string]any{"a": 1, "b": 2}, Set))
	require.NoError(t, s.Write("state.obj", map[string]any{"a": 9}, Set))

	v := s.Read("$.state.obj")
	assert.Equal(t, map[string]any{"a": float64(9)}, v, "Set must discard sibling keys")
}

func TestWriteMergePreservesSiblingKeys(t *testing.T) {
	s := New("run-1", newTestLog(), nil, nil, nil)
	require.NoError(t, s.Initialize(map[string]any{}))

	require.NoError(t, s.Write("state.obj", map[string]any{"a": 1, "b": 2}, Set))
	require.NoError(t, s.Write("state.obj", map[string]any{"a": 9}, Merge))

	v := s.Read("$.state.obj")
	assert.Equal(t, map[string]any{"a": float64(9), "b": float64(2)}, v)
}

func TestSnapshotIsDeepCopyNotAliased(t *testing.T) {
	s := New("run-1", newTestLog(), nil, nil, nil)
	require.NoError(t, s.Initialize(map[string]any{}))
	require.NoError(t, s.Write("state.obj", map[string]any{"a": 1}, Set))

	snap := s.Snapshot()
	state := snap["state"].(map[string]any)
	obj := state["obj"].(map[string]any)
	obj["a"] = 999 // mutate the snapshot's copy

	v := s.Read("$.state.obj")
	assert.Equal(t, map[string]any{"a": float64(1)}, v, "mutating a snapshot must not affect the live store")
}

type rejectingValidator struct{}

func (rejectingValidator) ValidateSubtree(path string, value any) error {
	return assertionFailure{}
}

type assertionFailure struct{}

func (assertionFailure) Error() string { return "schema violation" }

func TestWriteValidationFailureIsRolledBack(t *testing.T) {
	s := New("run-1", newTestLog(), nil, rejectingValidator{}, nil)
	require.NoError(t, s.Initialize(map[string]any{}))

	err := s.Write("state.foo", "bar", Set)
	var violation *SchemaViolation
	require.ErrorAs(t, err, &violation)

	v := s.Read("$.state.foo")
	assert.True(t, IsUndefined(v), "a failed validation must not leave the write applied")
}

func TestWriteForPlannerDoesNotMutateInput(t *testing.T) {
	composite := map[string]any{
		"input":  map[string]any{},
		"state":  map[string]any{"x": 1},
		"output": map[string]any{},
	}
	out, err := WriteForPlanner(composite, "state.y", 2, Set)
	require.NoError(t, err)

	assert.Equal(t, 1, composite["state"].(map[string]any)["x"], "input composite must be untouched")
	assert.Equal(t, float64(2), out["state"].(map[string]any)["y"])
}

func TestBranchTablesWriteReadDiscard(t *testing.T) {
	b := NewBranchTables(newTestLog())
	b.Create("tok-1", map[string]any{"it": "a"})

	v, ok := b.Read("tok-1", "it")
	require.True(t, ok)
	assert.Equal(t, "a", v)

	require.NoError(t, b.Write("tok-1", "output.label", "x"))
	v, ok = b.Read("tok-1", "output.label")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	b.Discard("tok-1")
	_, ok = b.Read("tok-1", "it")
	assert.False(t, ok, "a discarded branch table must no longer resolve reads")
}

func TestBranchTablesWriteUnknownTokenFails(t *testing.T) {
	b := NewBranchTables(newTestLog())
	err := b.Write("missing", "output.x", 1)
	assert.Error(t, err)
}
