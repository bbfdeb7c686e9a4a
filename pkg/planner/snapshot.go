// Package planner implements the pure decision function of spec §4.3: given
// a run's current snapshot and a trigger, it produces the ordered list of
// decisions the applier must carry out and the trace events that have no
// natural home in a single decision (routing and synchronization
// observations; completion). It performs no I/O and holds no state across
// calls, so every hard rule in the coordinator is testable without a store,
// an executor, or a clock.
package planner

import (
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
)

// Snapshot is the planner's entire view of a run at the moment a trigger
// arrives: a read-only copy of context, the full token table (arrival
// tokens waiting at a fan-in included), and every in-flight branch table.
// The coordinator actor assembles this from contextstore.Store.Snapshot,
// tokenstore.Store's listers, and contextstore.BranchTables before calling
// Plan.
type Snapshot struct {
	Workflow *definition.Workflow

	// Context is the composite {input, state, output} view, as produced by
	// contextstore.Store.Snapshot.
	Context map[string]any

	// Tokens is every token in the run regardless of status, keyed by id.
	Tokens map[string]*tokenstore.Token

	// Branches maps token id to that token's branch table contents
	// (contextstore.BranchTables' in-process view), read-only here.
	Branches map[string]map[string]any

	// Failed marks whether the run has already failed; once true the
	// planner refuses any further decision other than cleanup, per spec
	// §4.3.5 ("any downstream inconsistency is dropped").
	Failed bool
}

// TokensInGroup returns every token belonging to groupID, sorted ascending
// by branch index.
func (s Snapshot) TokensInGroup(groupID string) []*tokenstore.Token {
	var out []*tokenstore.Token
	for _, t := range s.Tokens {
		if t.SiblingGroupID == groupID {
			out = append(out, t)
		}
	}
	sortByBranchIndex(out)
	return out
}

func sortByBranchIndex(tokens []*tokenstore.Token) {
	for i := 1; i < len(tokens); i++ {
		j := i
		for j > 0 && branchIndexOf(tokens[j-1]) > branchIndexOf(tokens[j]) {
			tokens[j-1], tokens[j] = tokens[j], tokens[j-1]
			j--
		}
	}
}

func branchIndexOf(t *tokenstore.Token) int {
	if t.BranchIndex == nil {
		return 0
	}
	return *t.BranchIndex
}

// ActiveTokens returns every non-terminal token in the snapshot.
func (s Snapshot) ActiveTokens() []*tokenstore.Token {
	var out []*tokenstore.Token
	for _, t := range s.Tokens {
		if !t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out
}
