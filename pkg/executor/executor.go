// Package executor is the coordinator's client for the one RPC boundary the
// spec treats as opaque (spec §2, §4.5): given a task invocation it returns
// a success payload or a typed error. Nothing in this package understands
// task steps, LLM calls, or HTTP semantics beyond the envelope — that is the
// executor service's job, not the coordinator's.
package executor

import "context"

// Invocation is everything the executor needs to run one task for one
// token, per spec §6's "Executor (consumed, RPC)" entry.
type Invocation struct {
	TaskID        string
	TaskVersion   string
	Input         map[string]any
	TokenID       string
	RunID         string
	DeadlineMS    int64 // 0 means no deadline
	IdempotencyKey string
}

// Error is the typed failure an executor reports back, per spec §4.5's
// "Task errors" taxonomy: {message, code, retryable}.
type Error struct {
	Message   string
	Code      string
	Retryable bool
}

func (e *Error) Error() string { return e.Message }

// Result is one invocation's outcome: exactly one of Output or Err is set.
type Result struct {
	Output map[string]any
	Err    *Error
}

// Client is the coordinator's view of the executor. Invoke may suspend on
// I/O (spec §4.5: "the only suspension points are inside the dispatcher's
// call to the executor"); callers must not hold the coordinator actor's
// lock across it. Cancel is advisory only — the executor may ignore it.
type Client interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
	Cancel(ctx context.Context, tokenID string)
}
