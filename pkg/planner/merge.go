package planner

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/trace"
)

// performMerge implements spec §4.3.4: resolve merge.Source against each
// contributing sibling's branch table (in ascending branch_index order),
// combine per merge.Strategy, and write the result to merge.Target.
//
// originSiblingByBranchIndex maps branch_index to the token id whose branch
// table holds that sibling's contribution — the arrival tokens created for
// bookkeeping are never the source of merge data, only the original
// spawned siblings are.
func performMerge(b *builder, snap Snapshot, originSiblingByBranchIndex map[int]string, merge *definition.Merge) error {
	indices := make([]int, 0, len(originSiblingByBranchIndex))
	for idx := range originSiblingByBranchIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	type contribution struct {
		branchIndex int
		value       any
	}
	var contributions []contribution
	var undefined []int

	for _, idx := range indices {
		tokenID := originSiblingByBranchIndex[idx]
		branch, ok := snap.Branches[tokenID]
		if !ok {
			undefined = append(undefined, idx)
			continue
		}
		val, ok := contextstore.ReadForPlanner(branch, merge.Source)
		if !ok {
			undefined = append(undefined, idx)
			continue
		}
		contributions = append(contributions, contribution{branchIndex: idx, value: val})
	}

	var merged any
	switch merge.Strategy {
	case definition.MergeAppend:
		arr := make([]any, 0, len(contributions))
		for _, c := range contributions {
			arr = append(arr, c.value)
		}
		merged = arr

	case definition.MergeObject:
		obj := make(map[string]any)
		for _, c := range contributions {
			m, ok := c.value.(map[string]any)
			if !ok {
				return fmt.Errorf("merge_object: contribution at branch %d is not an object", c.branchIndex)
			}
			for k, v := range m {
				obj[k] = v // later (higher branch_index, since contributions is ascending) wins
			}
		}
		merged = obj

	case definition.MergeKeyedBranch:
		obj := make(map[string]any, len(contributions))
		for _, c := range contributions {
			obj[strconv.Itoa(c.branchIndex)] = c.value
		}
		merged = obj

	case definition.MergeLastWins:
		if len(contributions) > 0 {
			merged = contributions[len(contributions)-1].value
		}

	default:
		return fmt.Errorf("merge: unknown strategy %q", merge.Strategy)
	}

	b.emit(trace.TypeSynchronizationMerge, map[string]any{
		"source":    merge.Source,
		"target":    merge.Target,
		"strategy":  string(merge.Strategy),
		"undefined": undefined,
	})

	b.decide(Decision{
		Kind: DecisionWriteContext,
		WriteContext: &WriteContextDecision{
			Path:  merge.Target,
			Value: merged,
			Mode:  contextstore.Set,
		},
	})
	return nil
}
