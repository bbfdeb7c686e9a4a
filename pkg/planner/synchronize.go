package planner

import (
	"github.com/google/uuid"

	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

// arrive implements the arrival side of a fan-in (spec §4.3.3): a completed
// sibling token hitting a synchronizing transition does not run at the
// destination immediately. It becomes an arrival token in
// waiting_at_fan_in, and the planner checks whether its sibling group is
// now ready.
func arrive(b *builder, snap Snapshot, completedToken *tokenstore.Token, t *definition.Transition) error {
	sync := t.Synchronization
	group := sync.SiblingGroup
	if group == "" {
		group = completedToken.SiblingGroupID
	}

	idx, total := completedToken.BranchIndex, completedToken.BranchTotal
	arrivalID := uuid.NewString()
	b.decide(Decision{
		Kind: DecisionCreateToken,
		CreateToken: &CreateTokenDecision{
			Draft: tokenstore.Draft{
				ID:             arrivalID,
				RunID:          completedToken.RunID,
				NodeRef:        t.To,
				ParentTokenID:  completedToken.ID,
				SiblingGroupID: group,
				BranchIndex:    idx,
				BranchTotal:    total,
			},
		},
	})
	b.decide(Decision{
		Kind: DecisionSetTokenStatus,
		SetStatus: &SetTokenStatusDecision{
			TokenID: arrivalID,
			Status:  tokenstore.StatusWaitingAtFanIn,
			Reason:  "arrived_at_fan_in",
		},
	})
	b.emit(trace.TypeSynchronizationArrival, map[string]any{
		"sibling_group": group,
		"token_id":      arrivalID,
	})

	// Arrivals recorded before this one, plus this one.
	priorArrivals := tokensWithStatus(snap.TokensInGroup(group), tokenstore.StatusWaitingAtFanIn)
	arrivalCount := len(priorArrivals) + 1

	branchTotal := 0
	if total != nil {
		branchTotal = *total
	}

	ready := false
	switch sync.Strategy {
	case definition.SyncAll:
		ready = branchTotal > 0 && arrivalCount >= branchTotal
	case definition.SyncAny:
		ready = arrivalCount >= 1
	case definition.SyncMOfN:
		ready = arrivalCount >= sync.M
	}
	if !ready {
		return nil
	}

	contributing := make([]string, 0, arrivalCount)
	originSiblingByBranchIndex := make(map[int]string, arrivalCount)
	for _, a := range priorArrivals {
		contributing = append(contributing, a.ID)
		if a.BranchIndex != nil {
			originSiblingByBranchIndex[*a.BranchIndex] = a.ParentTokenID
		}
	}
	contributing = append(contributing, arrivalID)
	if idx != nil {
		originSiblingByBranchIndex[*idx] = completedToken.ID
	}

	b.emit(trace.TypeSynchronizationReady, map[string]any{
		"sibling_group":   group,
		"contributing_ids": contributing,
	})

	// Cancel any siblings still in flight (not yet arrived) for any/m_of_n;
	// for `all` there are none left by construction.
	if sync.Strategy != definition.SyncAll {
		for _, sib := range snap.TokensInGroup(completedToken.SiblingGroupID) {
			if sib.ID == completedToken.ID {
				continue // already transitioning to completed via the decision above
			}
			if sib.Status.Terminal() || sib.Status == tokenstore.StatusWaitingAtFanIn {
				continue
			}
			b.decide(Decision{
				Kind: DecisionSetTokenStatus,
				SetStatus: &SetTokenStatusDecision{
					TokenID: sib.ID,
					Status:  tokenstore.StatusCancelled,
					Reason:  "fan_in_" + string(sync.Strategy),
				},
			})
		}
	}

	if sync.Merge != nil {
		if err := performMerge(b, snap, originSiblingByBranchIndex, sync.Merge); err != nil {
			return err
		}
	}
	for _, siblingID := range originSiblingByBranchIndex {
		b.decide(Decision{
			Kind:          DecisionDiscardBranch,
			DiscardBranch: &DiscardBranchDecision{TokenID: siblingID},
		})
	}

	parent := ""
	if len(contributing) > 0 {
		parent = contributing[0]
	}
	b.decide(Decision{
		Kind: DecisionCreateToken,
		CreateToken: &CreateTokenDecision{
			Draft: tokenstore.Draft{
				RunID:         completedToken.RunID,
				NodeRef:       t.To,
				ParentTokenID: parent,
			},
			Lineage: contributing,
		},
	})

	for _, id := range contributing {
		b.decide(Decision{
			Kind: DecisionSetTokenStatus,
			SetStatus: &SetTokenStatusDecision{
				TokenID: id,
				Status:  tokenstore.StatusCompleted,
				Reason:  "fan_in_resolved",
			},
		})
	}
	return nil
}

func tokensWithStatus(tokens []*tokenstore.Token, status tokenstore.Status) []*tokenstore.Token {
	var out []*tokenstore.Token
	for _, t := range tokens {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}
