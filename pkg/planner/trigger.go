package planner

// Trigger is the tagged union the planner reacts to, per spec §4.3:
// WorkflowStart, TaskCompleted, TaskFailed, TokenArrivedAtNode. Exactly one
// of the typed fields is meaningful per concrete constructor below.
type Trigger struct {
	kind triggerKind

	tokenID    string
	taskOutput map[string]any
	taskErr    *TaskError
	nodeRef    string
}

type triggerKind int

const (
	kindWorkflowStart triggerKind = iota
	kindTaskCompleted
	kindTaskFailed
	kindTokenArrivedAtNode
)

// TaskError carries the executor's typed failure, per spec §7.
type TaskError struct {
	Message   string
	Code      string
	Retryable bool
}

// WorkflowStart begins a run. The run's validated input is written to the
// context store directly by the coordinator (spec §4.2's initialize) before
// Plan is ever called, so the trigger itself carries nothing but the intent
// to create the root token.
func WorkflowStart() Trigger {
	return Trigger{kind: kindWorkflowStart}
}

// TaskCompleted reports a successful executor response for tokenID.
func TaskCompleted(tokenID string, output map[string]any) Trigger {
	return Trigger{kind: kindTaskCompleted, tokenID: tokenID, taskOutput: output}
}

// TaskFailed reports an executor failure for tokenID.
func TaskFailed(tokenID string, err TaskError) Trigger {
	return Trigger{kind: kindTaskFailed, tokenID: tokenID, taskErr: &err}
}

// TokenArrivedAtNode reports tokenID reaching nodeRef via a synchronizing
// transition, the event that creates an arrival token (spec §4.3.3).
func TokenArrivedAtNode(tokenID, nodeRef string) Trigger {
	return Trigger{kind: kindTokenArrivedAtNode, tokenID: tokenID, nodeRef: nodeRef}
}
