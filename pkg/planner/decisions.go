package planner

import (
	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

// Decision is one command the applier carries out against the live stores,
// in the order the planner produced it (spec §4.3, §4.4). Exactly one of
// the typed fields is populated, selected by Kind.
type Decision struct {
	Kind DecisionKind

	CreateToken   *CreateTokenDecision
	SetStatus     *SetTokenStatusDecision
	WriteContext  *WriteContextDecision
	ApplyMapping  *ApplyOutputMappingDecision
	Complete      *CompleteWorkflowDecision
	Fail          *FailWorkflowDecision
	CreateBranch  *CreateBranchDecision
	DiscardBranch *DiscardBranchDecision
}

// DecisionKind discriminates Decision's populated field.
type DecisionKind int

const (
	DecisionCreateToken DecisionKind = iota
	DecisionSetTokenStatus
	DecisionWriteContext
	DecisionApplyOutputMapping
	DecisionCompleteWorkflow
	DecisionFailWorkflow
	DecisionCreateBranch
	DecisionDiscardBranch
)

// CreateTokenDecision instructs the applier to create a new token via
// tokenstore.Store.Create.
type CreateTokenDecision struct {
	Draft tokenstore.Draft
	// Seed is attached to the token's branch table at creation, used for
	// foreach item bindings (spec §4.3.2).
	Seed map[string]any
	// Lineage names every contributing token for a fan-in continuation,
	// since tokenstore.Token's single ParentTokenID cannot represent a
	// multi-parent join; the applier copies it onto the Draft so it reaches
	// both Token.Lineage and the tokens.create trace event.
	Lineage []string
}

// SetTokenStatusDecision instructs a status transition via
// tokenstore.Store.UpdateStatus.
type SetTokenStatusDecision struct {
	TokenID string
	Status  tokenstore.Status
	Reason  string
}

// WriteContextDecision instructs a context write via contextstore.Store.Write.
type WriteContextDecision struct {
	Path  string
	Value any
	Mode  contextstore.WriteMode
}

// ApplyOutputMappingDecision instructs contextstore.Store.ApplyOutputMapping.
type ApplyOutputMappingDecision struct {
	Mapping    contextstore.Mapping
	SourceRoot map[string]any
	Dest       contextstore.DestNamespace
}

// CompleteWorkflowDecision instructs the applier to record the run's final
// output and transition it to completed.
type CompleteWorkflowDecision struct {
	FinalOutput map[string]any
}

// FailWorkflowDecision instructs the applier to record the run's failure and
// cancel every still-active token.
type FailWorkflowDecision struct {
	Error        RunError
	CancelTokens []string
}

// RunError is the structured failure surfaced to run.error (spec §7).
type RunError struct {
	Kind                 string
	Message              string
	TokenID              string
	NodeRef              string
	RetryableAttemptsUsed int
}

// CreateBranchDecision instructs contextstore.BranchTables.Create.
type CreateBranchDecision struct {
	TokenID string
	Seed    map[string]any
}

// DiscardBranchDecision instructs contextstore.BranchTables.Discard.
type DiscardBranchDecision struct {
	TokenID string
}

// PlannedWorkflowEvent is a coarse lifecycle event for the subscriber
// stream named in spec §4.6, emitted alongside the inner trace.
type PlannedWorkflowEvent struct {
	Type    trace.WorkflowEventType
	Payload map[string]any
}

// PlannedEvent is a trace event the planner determined must be emitted but
// that does not correspond 1:1 to a Decision's store mutation (routing
// observations, synchronization arrivals/readiness, completion). The
// applier emits these through the same trace.Log every store mutation
// funnels through, interleaved with Decisions in the order Result lists
// them, so sequence numbers reflect the planner's intended narrative.
type PlannedEvent struct {
	Type    trace.Type
	Payload map[string]any
}

// Result is the planner's entire output for one trigger: the ordered
// decisions for the applier to carry out, and the trace-only events to
// emit alongside them. Order records interleaving: it establishes which
// decisions a given observation event precedes or follows (e.g.
// synchronization.ready must be visible before the continuation token's
// tokens.create).
type Result struct {
	Decisions []Decision
	Events    []PlannedEvent
	// WorkflowEvents are coarse lifecycle events; unlike Events they carry
	// no sequence number and are not interleaved by Order — they are
	// delivered to the workflow event stream once the whole Result commits.
	WorkflowEvents []PlannedWorkflowEvent
	// Order interleaves indices into Decisions and Events so the applier
	// can replay both in a single pass; see planner/builder.go.
	Order []OrderEntry
}

// OrderEntry names one item in Result.Order.
type OrderEntry struct {
	IsEvent bool
	Index   int
}
