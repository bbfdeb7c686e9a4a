// Package applier carries out a planner.Result against the live per-run
// stores (spec §4.4): it is the only component, other than the stores
// themselves, that mutates run state, and it is the boundary across which
// a planning pass's decisions become visible trace events.
package applier

import (
	"fmt"

	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/planner"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

// Stores bundles the three stores one run's Applier writes through. All
// three already funnel their own trace events through the same *trace.Log
// (spec §4.1, §4.2), so Apply only has to additionally emit the planner's
// observation-only PlannedEvents (routing, synchronization, completion).
type Stores struct {
	Tokens   *tokenstore.Store
	Context  *contextstore.Store
	Branches *contextstore.BranchTables
	Log      *trace.Log
	Hub      *trace.Hub
}

// RunError is surfaced to the coordinator actor when FailWorkflow commits,
// so it can update run.status and stop dispatching.
type RunError = planner.RunError

// Outcome reports what a committed Result did to run-level status, since
// neither CompleteWorkflow nor FailWorkflow is itself a token or context
// mutation the stores would otherwise surface.
type Outcome struct {
	Completed   bool
	FinalOutput map[string]any
	Failed      bool
	Error       RunError
}

// Apply replays result's decisions in order, interleaved with its
// observation-only events per result.Order, against stores. If any decision
// is rejected by its store, Apply stops immediately and returns the error;
// per spec §4.4 this is presented to the dispatcher as a failed apply — no
// partial application is semantically "committed" from the coordinator's
// perspective, though in-memory stores have no true rollback (see
// DESIGN.md: a Postgres-backed Stores would wrap this in one transaction).
func Apply(runID string, stores Stores, result planner.Result) (Outcome, error) {
	var outcome Outcome

	for _, entry := range result.Order {
		if entry.IsEvent {
			e := result.Events[entry.Index]
			stores.Log.Append(e.Type, e.Payload)
			continue
		}

		d := result.Decisions[entry.Index]
		if err := applyDecision(stores, d, &outcome); err != nil {
			return outcome, fmt.Errorf("applier: decision %d: %w", entry.Index, err)
		}
	}

	for _, we := range result.WorkflowEvents {
		if stores.Hub != nil {
			stores.Hub.PublishWorkflow(trace.WorkflowEvent{
				Type:    we.Type,
				RunID:   runID,
				Payload: we.Payload,
			})
		}
	}

	return outcome, nil
}

func applyDecision(stores Stores, d planner.Decision, outcome *Outcome) error {
	switch d.Kind {
	case planner.DecisionCreateToken:
		draft := d.CreateToken.Draft
		draft.Lineage = d.CreateToken.Lineage
		t := stores.Tokens.Create(draft)
		if d.CreateToken.Seed != nil && stores.Branches != nil {
			stores.Branches.Create(t.ID, d.CreateToken.Seed)
		}

	case planner.DecisionSetTokenStatus:
		if err := stores.Tokens.UpdateStatus(d.SetStatus.TokenID, d.SetStatus.Status, d.SetStatus.Reason); err != nil {
			return err
		}

	case planner.DecisionWriteContext:
		if err := stores.Context.Write(d.WriteContext.Path, d.WriteContext.Value, d.WriteContext.Mode); err != nil {
			return err
		}

	case planner.DecisionApplyOutputMapping:
		m := d.ApplyMapping
		if err := stores.Context.ApplyOutputMapping(m.Mapping, m.SourceRoot, m.Dest, stores.Branches); err != nil {
			return err
		}

	case planner.DecisionCreateBranch:
		if stores.Branches != nil {
			stores.Branches.Create(d.CreateBranch.TokenID, d.CreateBranch.Seed)
		}

	case planner.DecisionDiscardBranch:
		if stores.Branches != nil {
			stores.Branches.Discard(d.DiscardBranch.TokenID)
		}

	case planner.DecisionCompleteWorkflow:
		outcome.Completed = true
		outcome.FinalOutput = d.Complete.FinalOutput

	case planner.DecisionFailWorkflow:
		outcome.Failed = true
		outcome.Error = d.Fail.Error
		stores.Tokens.CancelMany(d.Fail.CancelTokens, "workflow_failed")

	default:
		return fmt.Errorf("unknown decision kind %d", d.Kind)
	}
	return nil
}
