// Package trace implements the append-only, totally-ordered trace event log
// and the coarser workflow event stream described in SPEC_FULL.md §4.6, plus
// the subscriber fan-out (Hub) that serves both to external listeners.
package trace

import "time"

// Type is one of the closed set of trace event types grouped by subsystem,
// per spec §3.
type Type string

const (
	TypeContextInit             Type = "context.init"
	TypeContextValidate         Type = "context.validate"
	TypeContextRead             Type = "context.read"
	TypeContextWrite            Type = "context.write"
	TypeContextSnapshot         Type = "context.snapshot"
	TypeContextOutputMapInput   Type = "context.output_mapping.input"
	TypeContextOutputMapApply   Type = "context.output_mapping.apply"
	TypeContextOutputMapSkip    Type = "context.output_mapping.skip"
	TypeTokensCreate            Type = "tokens.create"
	TypeTokensStatusTransition  Type = "tokens.status_transition"
	TypeRoutingMatch            Type = "routing.match"
	TypeRoutingNoMatch          Type = "routing.no_match"
	TypeSynchronizationArrival  Type = "synchronization.arrival"
	TypeSynchronizationReady    Type = "synchronization.ready"
	TypeSynchronizationMerge    Type = "synchronization.merge"
	TypeDispatchTaskStart       Type = "dispatch.task_start"
	TypeDispatchTaskEnd         Type = "dispatch.task_end"
	TypeCompletionComplete      Type = "completion.complete"
	TypeCompletionFail          Type = "completion.fail"
)

// Event is one entry in a run's trace log. SequenceNumber is assigned by
// Log.Append and is strictly monotonic and contiguous from 1.
type Event struct {
	SequenceNumber int64          `json:"sequence_number"`
	Type           Type           `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	Payload        map[string]any `json:"payload"`
}

// WorkflowEventType is one of the coarse lifecycle events on the separate
// subscriber stream for listeners who don't need the inner trace.
type WorkflowEventType string

const (
	WorkflowStarted   WorkflowEventType = "workflow.started"
	WorkflowCompleted WorkflowEventType = "workflow.completed"
	WorkflowFailed    WorkflowEventType = "workflow.failed"
	TaskStarted       WorkflowEventType = "task.started"
	TaskCompleted     WorkflowEventType = "task.completed"
	TaskFailed        WorkflowEventType = "task.failed"
)

// WorkflowEvent is one entry on the coarse workflow event stream.
type WorkflowEvent struct {
	Type      WorkflowEventType `json:"type"`
	RunID     string            `json:"run_id"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]any    `json:"payload"`
}
