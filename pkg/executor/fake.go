package executor

import (
	"context"
	"sync"
)

// Fake is a deterministic, in-process Client for tests: scenarios register a
// canned Result (or a function deriving one from the Invocation) per task
// id, and Invoke plays it back synchronously. Modeled on the teacher's
// integration_test.go mock clients (mockCASClient and friends) — a small
// hand-rolled double rather than a generated mock, kept in the package so
// other packages' tests can reuse it without duplicating the plumbing.
type Fake struct {
	mu        sync.Mutex
	responses map[string]func(Invocation) Result
	calls     []Invocation
	cancelled []string
}

// NewFake creates an empty Fake; register behavior with On before use.
func NewFake() *Fake {
	return &Fake{responses: make(map[string]func(Invocation) Result)}
}

// On registers a fixed Result for every invocation of taskID.
func (f *Fake) On(taskID string, result Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[taskID] = func(Invocation) Result { return result }
}

// OnFunc registers a Result-deriving function for every invocation of taskID,
// for scenarios whose output depends on the resolved input.
func (f *Fake) OnFunc(taskID string, fn func(Invocation) Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[taskID] = fn
}

func (f *Fake) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	f.mu.Lock()
	fn, ok := f.responses[inv.TaskID]
	f.calls = append(f.calls, inv)
	f.mu.Unlock()

	if !ok {
		return Result{Err: &Error{Message: "fake: no response registered for task " + inv.TaskID, Code: "unregistered"}}, nil
	}
	return fn(inv), nil
}

func (f *Fake) Cancel(ctx context.Context, tokenID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, tokenID)
}

// Calls returns every invocation seen so far, in order.
func (f *Fake) Calls() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Invocation, len(f.calls))
	copy(out, f.calls)
	return out
}

// Cancelled returns every token id Cancel was called with, in order.
func (f *Fake) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cancelled))
	copy(out, f.cancelled)
	return out
}
