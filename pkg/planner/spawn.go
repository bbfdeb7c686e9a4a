package planner

import (
	"github.com/google/uuid"

	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
)

// spawn dispatches a single firing transition to the right creation mode
// (spec §4.3.2), or to the fan-in arrival path (§4.3.3) when the transition
// carries a synchronization clause.
func spawn(b *builder, snap Snapshot, completedToken *tokenstore.Token, t *definition.Transition) error {
	if t.Synchronization != nil {
		return arrive(b, snap, completedToken, t)
	}

	switch {
	case t.SpawnCount != nil:
		return spawnStatic(b, completedToken, t, *t.SpawnCount)
	case t.Foreach != nil:
		return spawnForeach(b, snap, completedToken, t)
	default:
		spawnSingle(b, completedToken, t)
		return nil
	}
}

func spawnSingle(b *builder, parent *tokenstore.Token, t *definition.Transition) {
	b.decide(Decision{
		Kind: DecisionCreateToken,
		CreateToken: &CreateTokenDecision{
			Draft: tokenstore.Draft{
				RunID:               parent.RunID,
				NodeRef:             t.To,
				ParentTokenID:       parent.ID,
				FanOutTransitionRef: t.Ref,
			},
		},
	})
}

// spawnStatic implements static fan-out: N sibling tokens sharing one
// sibling_group, branch_index 0..N-1, created atomically in ascending order
// (spec §4.3.2).
func spawnStatic(b *builder, parent *tokenstore.Token, t *definition.Transition, n int) error {
	group := t.EffectiveSiblingGroup()
	for i := 0; i < n; i++ {
		idx, total := i, n
		id := uuid.NewString()
		b.decide(Decision{
			Kind: DecisionCreateToken,
			CreateToken: &CreateTokenDecision{
				Draft: tokenstore.Draft{
					ID:                  id,
					RunID:               parent.RunID,
					NodeRef:             t.To,
					ParentTokenID:       parent.ID,
					SiblingGroupID:      group,
					FanOutTransitionRef: t.Ref,
					BranchIndex:         &idx,
					BranchTotal:         &total,
				},
			},
		})
		b.decide(Decision{
			Kind:         DecisionCreateBranch,
			CreateBranch: &CreateBranchDecision{TokenID: id},
		})
	}
	return nil
}

// spawnForeach implements dynamic foreach fan-out. An empty or undefined
// collection produces no tokens and a routing.no_match(empty_collection)
// instead — but that was already handled by evaluateTransition returning
// false, so by the time spawn is reached the collection is known non-empty.
func spawnForeach(b *builder, snap Snapshot, parent *tokenstore.Token, t *definition.Transition) error {
	val, _ := contextstore.ReadForPlanner(snap.Context, t.Foreach.Collection)
	items, _ := val.([]any)

	group := t.EffectiveSiblingGroup()
	total := len(items)
	for i, item := range items {
		idx := i
		totalCopy := total
		id := uuid.NewString()
		seed := map[string]any{t.Foreach.ItemVar: item}
		b.decide(Decision{
			Kind: DecisionCreateToken,
			CreateToken: &CreateTokenDecision{
				Draft: tokenstore.Draft{
					ID:                  id,
					RunID:               parent.RunID,
					NodeRef:             t.To,
					ParentTokenID:       parent.ID,
					SiblingGroupID:      group,
					FanOutTransitionRef: t.Ref,
					BranchIndex:         &idx,
					BranchTotal:         &totalCopy,
				},
				Seed: seed,
			},
		})
		b.decide(Decision{
			Kind:         DecisionCreateBranch,
			CreateBranch: &CreateBranchDecision{TokenID: id, Seed: seed},
		})
	}
	return nil
}
