package planner

import "github.com/lyzr/coordinator/pkg/trace"

// builder accumulates decisions and planned events in emission order; every
// planning subroutine (routing, spawn, synchronize, merge, completion)
// takes a *builder rather than returning its own Result so a single trigger
// can touch several of them and still produce one ordered Result.
type builder struct {
	decisions      []Decision
	events         []PlannedEvent
	workflowEvents []PlannedWorkflowEvent
	order          []OrderEntry
}

func newBuilder() *builder {
	return &builder{}
}

func (b *builder) decide(d Decision) {
	b.decisions = append(b.decisions, d)
	b.order = append(b.order, OrderEntry{IsEvent: false, Index: len(b.decisions) - 1})
}

func (b *builder) emit(typ trace.Type, payload map[string]any) {
	b.events = append(b.events, PlannedEvent{Type: typ, Payload: payload})
	b.order = append(b.order, OrderEntry{IsEvent: true, Index: len(b.events) - 1})
}

func (b *builder) emitWorkflow(typ trace.WorkflowEventType, payload map[string]any) {
	b.workflowEvents = append(b.workflowEvents, PlannedWorkflowEvent{Type: typ, Payload: payload})
}

func (b *builder) result() Result {
	return Result{
		Decisions:      b.decisions,
		Events:         b.events,
		WorkflowEvents: b.workflowEvents,
		Order:          b.order,
	}
}
