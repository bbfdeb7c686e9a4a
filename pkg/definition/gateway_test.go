package definition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/coordinator/internal/cache"
)

type countingStore struct {
	workflowCalls int
	taskCalls     int
	workflow      *Workflow
	task          *Task
	err           error
}

func (s *countingStore) GetWorkflow(ctx context.Context, id, version string) (*Workflow, error) {
	s.workflowCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.workflow, nil
}

func (s *countingStore) GetTask(ctx context.Context, id, version string) (*Task, error) {
	s.taskCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.task, nil
}

func TestGatewayWorkflowCachesAfterFirstFetch(t *testing.T) {
	store := &countingStore{workflow: &Workflow{ID: "wf", Version: "v1", InitialNodeRef: "A", Nodes: map[string]*Node{}}}
	g := NewGateway(store, cache.NewMemoryCache(nil))

	w1, err := g.Workflow(context.Background(), "wf", "v1")
	require.NoError(t, err)
	w2, err := g.Workflow(context.Background(), "wf", "v1")
	require.NoError(t, err)

	assert.Equal(t, 1, store.workflowCalls, "the second fetch must be served from cache")
	assert.Equal(t, w1.ID, w2.ID)
}

func TestGatewayWorkflowRejectsFailedValidation(t *testing.T) {
	spawnZero := 0
	store := &countingStore{workflow: &Workflow{
		ID: "wf", Version: "v1",
		Transitions: []*Transition{{Ref: "t1", SpawnCount: &spawnZero}},
	}}
	g := NewGateway(store, cache.NewMemoryCache(nil))

	_, err := g.Workflow(context.Background(), "wf", "v1")
	assert.Error(t, err)
}

func TestGatewayWorkflowPropagatesStoreError(t *testing.T) {
	store := &countingStore{err: ErrNotFound}
	g := NewGateway(store, cache.NewMemoryCache(nil))

	_, err := g.Workflow(context.Background(), "missing", "v1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGatewayTaskCachesAfterFirstFetch(t *testing.T) {
	store := &countingStore{task: &Task{ID: "t", Version: "v1"}}
	g := NewGateway(store, cache.NewMemoryCache(nil))

	_, err := g.Task(context.Background(), "t", "v1")
	require.NoError(t, err)
	_, err = g.Task(context.Background(), "t", "v1")
	require.NoError(t, err)

	assert.Equal(t, 1, store.taskCalls)
}

func TestGatewayDiscardDropsCache(t *testing.T) {
	store := &countingStore{workflow: &Workflow{ID: "wf", Version: "v1", Nodes: map[string]*Node{}}}
	g := NewGateway(store, cache.NewMemoryCache(nil))

	_, err := g.Workflow(context.Background(), "wf", "v1")
	require.NoError(t, err)

	assert.NotPanics(t, g.Discard, "Discard is called once at run termination, after which the gateway is no longer used")

	_, ok, _ := g.cache.Get(context.Background(), cacheKeyFor(KindWorkflow, "wf", "v1"))
	assert.False(t, ok, "the cached entry must be gone once the run's gateway is discarded")
}

func TestCacheKeyForDistinguishesKindIDAndVersion(t *testing.T) {
	assert.Equal(t, "workflow:wf:v1", cacheKeyFor(KindWorkflow, "wf", "v1"))
	assert.NotEqual(t, cacheKeyFor(KindWorkflow, "wf", "v1"), cacheKeyFor(KindTask, "wf", "v1"))
}
