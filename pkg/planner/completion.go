package planner

import (
	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

// checkCompletion implements spec §4.3.5: after projecting this trigger's
// decisions onto the snapshot, if no active (non-terminal) token remains,
// the run completes — apply the workflow's output_mapping, validate
// against output_schema, and emit completion.complete, or fail the run if
// validation rejects the projected output.
func checkCompletion(b *builder, wf *definition.Workflow, snap Snapshot, decisions []Decision) error {
	projected := projectTokens(snap.Tokens, decisions)
	for _, t := range projected {
		if !t.Status.Terminal() {
			return nil // still active tokens; run continues
		}
	}

	finalContext := projectContext(snap.Context, decisions)

	finalOutput := make(map[string]any)
	for destPath, sourcePath := range wf.OutputMapping {
		val, ok := contextstore.ReadForPlanner(finalContext, sourcePath)
		if !ok {
			continue
		}
		finalOutput[destPath] = val
	}

	if wf.OutputSchema != nil {
		validator, err := contextstore.CompileSchema(wf.OutputSchema)
		if err != nil {
			failRun(b, RunError{Kind: "DefinitionError", Message: err.Error()}, projected)
			return nil
		}
		if err := validator.ValidateSubtree("output", finalOutput); err != nil {
			failRun(b, RunError{Kind: "SchemaViolation", Message: err.Error()}, projected)
			return nil
		}
	}

	b.decide(Decision{
		Kind:     DecisionCompleteWorkflow,
		Complete: &CompleteWorkflowDecision{FinalOutput: finalOutput},
	})
	b.emit(trace.TypeCompletionComplete, map[string]any{"final_output": finalOutput})
	b.emitWorkflow(trace.WorkflowCompleted, map[string]any{"final_output": finalOutput})
	return nil
}

// failRun records a workflow-scoped failure, cancelling every still-active
// projected token (spec §4.3.5, §7).
func failRun(b *builder, runErr RunError, projected map[string]*tokenstore.Token) {
	var toCancel []string
	for id, t := range projected {
		if !t.Status.Terminal() {
			toCancel = append(toCancel, id)
		}
	}
	b.decide(Decision{
		Kind: DecisionFailWorkflow,
		Fail: &FailWorkflowDecision{Error: runErr, CancelTokens: toCancel},
	})
	b.emit(trace.TypeCompletionFail, map[string]any{"error": runErr})
	b.emitWorkflow(trace.WorkflowFailed, map[string]any{"error": runErr})
}

// projectTokens replays CreateToken/SetTokenStatus decisions onto a copy of
// tokens so checkCompletion can evaluate "no active tokens remain" without
// waiting for the applier to commit.
func projectTokens(tokens map[string]*tokenstore.Token, decisions []Decision) map[string]*tokenstore.Token {
	out := make(map[string]*tokenstore.Token, len(tokens))
	for id, t := range tokens {
		cp := *t
		out[id] = &cp
	}

	for _, d := range decisions {
		switch d.Kind {
		case DecisionCreateToken:
			draft := d.CreateToken.Draft
			out[draft.ID] = &tokenstore.Token{
				ID:             draft.ID,
				RunID:          draft.RunID,
				NodeRef:        draft.NodeRef,
				Status:         tokenstore.StatusPending,
				ParentTokenID:  draft.ParentTokenID,
				SiblingGroupID: draft.SiblingGroupID,
				BranchIndex:    draft.BranchIndex,
				BranchTotal:    draft.BranchTotal,
			}
		case DecisionSetTokenStatus:
			if t, ok := out[d.SetStatus.TokenID]; ok {
				t.Status = d.SetStatus.Status
			}
		case DecisionFailWorkflow:
			for _, id := range d.Fail.CancelTokens {
				if t, ok := out[id]; ok {
					t.Status = tokenstore.StatusCancelled
				}
			}
		}
	}
	return out
}

// projectContext replays WriteContext decisions onto a copy of the
// composite context so checkCompletion's output_mapping reads the result
// of this pass's writes, not the pre-trigger snapshot.
func projectContext(context map[string]any, decisions []Decision) map[string]any {
	out := deepCopyMap(context)
	for _, d := range decisions {
		if d.Kind != DecisionWriteContext {
			continue
		}
		updated, err := contextstore.WriteForPlanner(out, d.WriteContext.Path, d.WriteContext.Value, d.WriteContext.Mode)
		if err == nil {
			out = updated
		}
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
