package definition

import (
	"context"
	"fmt"
)

// StaticStore is an in-memory Store keyed by (kind, id, version), for tests
// and any deployment happy to load its whole catalog into memory up front.
type StaticStore struct {
	workflows map[string]*Workflow
	tasks     map[string]*Task
}

// NewStaticStore creates an empty StaticStore; register definitions with
// AddWorkflow/AddTask before use.
func NewStaticStore() *StaticStore {
	return &StaticStore{workflows: make(map[string]*Workflow), tasks: make(map[string]*Task)}
}

// AddWorkflow registers wf under its own (ID, Version).
func (s *StaticStore) AddWorkflow(wf *Workflow) {
	s.workflows[cacheKeyFor(KindWorkflow, wf.ID, wf.Version)] = wf
}

// AddTask registers t under its own (ID, Version).
func (s *StaticStore) AddTask(t *Task) {
	s.tasks[cacheKeyFor(KindTask, t.ID, t.Version)] = t
}

func (s *StaticStore) GetWorkflow(ctx context.Context, id, version string) (*Workflow, error) {
	wf, ok := s.workflows[cacheKeyFor(KindWorkflow, id, version)]
	if !ok {
		return nil, fmt.Errorf("workflow %s@%s: %w", id, version, ErrNotFound)
	}
	return wf, nil
}

func (s *StaticStore) GetTask(ctx context.Context, id, version string) (*Task, error) {
	t, ok := s.tasks[cacheKeyFor(KindTask, id, version)]
	if !ok {
		return nil, fmt.Errorf("task %s@%s: %w", id, version, ErrNotFound)
	}
	return t, nil
}
