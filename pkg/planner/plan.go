package planner

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

// Plan is the coordinator's single entrypoint into planning: given the
// run's workflow definition, a read-only snapshot, and one trigger, it
// returns every decision the applier must carry out and every trace/
// workflow event that accompanies them. No I/O occurs here; cond is reused
// across calls purely to keep its CEL compile cache warm.
func Plan(cond *ConditionEvaluator, wf *definition.Workflow, snap Snapshot, trigger Trigger) (Result, error) {
	b := newBuilder()

	if snap.Failed {
		return b.result(), nil // spec §4.3.5: downstream inconsistency after failure is dropped
	}

	switch trigger.kind {
	case kindWorkflowStart:
		planStart(b, wf)

	case kindTaskCompleted:
		if err := planTaskCompleted(b, cond, wf, snap, trigger); err != nil {
			return Result{}, err
		}

	case kindTaskFailed:
		planTaskFailed(b, snap, trigger)

	case kindTokenArrivedAtNode:
		if err := planTokenArrived(b, cond, wf, snap, trigger); err != nil {
			return Result{}, err
		}

	default:
		return Result{}, fmt.Errorf("planner: unknown trigger kind %d", trigger.kind)
	}

	return b.result(), nil
}

func planStart(b *builder, wf *definition.Workflow) {
	id := uuid.NewString()
	b.decide(Decision{
		Kind: DecisionCreateToken,
		CreateToken: &CreateTokenDecision{
			Draft: tokenstore.Draft{ID: id, NodeRef: wf.InitialNodeRef},
		},
	})
	b.emitWorkflow(trace.WorkflowStarted, map[string]any{"node_ref": wf.InitialNodeRef})
}

func planTaskCompleted(b *builder, cond *ConditionEvaluator, wf *definition.Workflow, snap Snapshot, trigger Trigger) error {
	token, ok := snap.Tokens[trigger.tokenID]
	if !ok {
		return fmt.Errorf("planner: task completed for unknown token %s", trigger.tokenID)
	}
	if token.Status.Terminal() {
		// The executor's response arrived after the token was already
		// cancelled, e.g. by a sibling fan-in that chose "any" or "m_of_n"
		// while this invocation was still in flight. Spec §5: "its eventual
		// response is still processed but its effect on context is
		// discarded (the affected token is already cancelled)" — processed
		// means reaching the planner, not that it gets to re-transition a
		// token already in a terminal state.
		return nil
	}

	b.decide(Decision{
		Kind: DecisionSetTokenStatus,
		SetStatus: &SetTokenStatusDecision{
			TokenID: token.ID,
			Status:  tokenstore.StatusCompleted,
			Reason:  "task_completed",
		},
	})

	if err := route(b, cond, wf, snap, token); err != nil {
		return err
	}
	return checkCompletion(b, wf, snap, b.decisions)
}

func planTaskFailed(b *builder, snap Snapshot, trigger Trigger) {
	token, ok := snap.Tokens[trigger.tokenID]
	if !ok {
		return
	}
	if token.Status.Terminal() {
		// See the matching guard in planTaskCompleted: a late failure for an
		// already-cancelled token is discarded, not replayed as a workflow
		// failure.
		return
	}

	b.decide(Decision{
		Kind: DecisionSetTokenStatus,
		SetStatus: &SetTokenStatusDecision{
			TokenID: token.ID,
			Status:  tokenstore.StatusFailed,
			Reason:  trigger.taskErr.Message,
		},
	})

	failRun(b, RunError{
		Kind:    "TaskError",
		Message: trigger.taskErr.Message,
		TokenID: token.ID,
		NodeRef: token.NodeRef,
	}, projectTokens(snap.Tokens, b.decisions))
}

func planTokenArrived(b *builder, cond *ConditionEvaluator, wf *definition.Workflow, snap Snapshot, trigger Trigger) error {
	token, ok := snap.Tokens[trigger.tokenID]
	if !ok {
		return fmt.Errorf("planner: token arrived for unknown token %s", trigger.tokenID)
	}
	if token.Status.Terminal() {
		return nil
	}

	// A junction node (no task_ref) has nothing to dispatch, so arriving
	// here is itself the token's whole unit of work: run it through to
	// completed before routing onward, the same way a dispatched node's
	// executor response does in planTaskCompleted. The pending -> running
	// step has no observable duration (nothing is ever dispatched) but
	// still has to happen: pending -> completed is not an admitted token
	// transition. Without this a junction with no outgoing transitions —
	// a workflow's terminal routing node — would leave its token pending
	// forever and checkCompletion would never see the run as finished.
	b.decide(Decision{
		Kind: DecisionSetTokenStatus,
		SetStatus: &SetTokenStatusDecision{
			TokenID: token.ID,
			Status:  tokenstore.StatusRunning,
			Reason:  "arrived_at_junction",
		},
	})
	b.decide(Decision{
		Kind: DecisionSetTokenStatus,
		SetStatus: &SetTokenStatusDecision{
			TokenID: token.ID,
			Status:  tokenstore.StatusCompleted,
			Reason:  "arrived_at_junction",
		},
	})

	if err := route(b, cond, wf, snap, token); err != nil {
		return err
	}
	return checkCompletion(b, wf, snap, b.decisions)
}
