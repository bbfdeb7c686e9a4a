package planner

import (
	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

// route implements spec §4.3.1: given a completed token at node N, walks
// N's outgoing transitions in (priority asc, ref asc) order, evaluates each
// condition, and fires the first match unless several share priority 0, in
// which case all of them fire as a parallel group.
func route(b *builder, cond *ConditionEvaluator, wf *definition.Workflow, snap Snapshot, completedToken *tokenstore.Token) error {
	transitions := wf.OutgoingFrom(completedToken.NodeRef)

	var fired []*definition.Transition
	leftZeroGroup := false
	for _, t := range transitions {
		if t.Priority != 0 && !leftZeroGroup {
			leftZeroGroup = true
			if len(fired) > 0 {
				// The priority-0 group already produced its parallel set of
				// matches. That group IS the first match, so no
				// higher-priority transition gets a chance to fire too.
				break
			}
		}

		matched, err := evaluateTransition(cond, t, snap)
		if err != nil {
			return err
		}

		if matched {
			b.emit(trace.TypeRoutingMatch, map[string]any{
				"transition_ref": t.Ref,
				"from":           t.From,
				"to":             t.To,
				"token_id":       completedToken.ID,
			})
			fired = append(fired, t)
			if t.Priority != 0 {
				break // first-match-only outside the priority-0 parallel group
			}
			continue // keep collecting same-priority-0 siblings
		}

		reason := "condition_false"
		if t.Foreach != nil {
			reason = "empty_collection"
		}
		b.emit(trace.TypeRoutingNoMatch, map[string]any{
			"transition_ref": t.Ref,
			"from":           t.From,
			"to":             t.To,
			"token_id":       completedToken.ID,
			"reason":         reason,
		})
	}

	for _, t := range fired {
		if err := spawn(b, snap, completedToken, t); err != nil {
			return err
		}
	}
	return nil
}

// evaluateTransition implements the match predicate of spec §4.3.1 step 3:
// (no condition ∨ condition true) ∧ (no foreach ∨ collection non-empty).
func evaluateTransition(cond *ConditionEvaluator, t *definition.Transition, snap Snapshot) (bool, error) {
	condOK, err := cond.Eval(t.Condition, snap.Context)
	if err != nil {
		return false, err
	}
	if !condOK {
		return false, nil
	}

	if t.Foreach != nil {
		items, ok := resolveForeachCollection(snap.Context, t.Foreach.Collection)
		if !ok || len(items) == 0 {
			return false, nil
		}
	}
	return true, nil
}

func resolveForeachCollection(context map[string]any, jsonpath string) ([]any, bool) {
	val, ok := contextstore.ReadForPlanner(context, jsonpath)
	if !ok {
		return nil, false
	}
	items, ok := val.([]any)
	if !ok {
		return nil, false
	}
	return items, true
}
