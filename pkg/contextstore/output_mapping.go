package contextstore

import (
	"fmt"

	"github.com/lyzr/coordinator/pkg/trace"
)

// DestNamespace names where an output mapping's entries land: the shared
// output table, the shared state table, or a specific token's branch table.
type DestNamespace struct {
	Kind     DestKind
	BranchOf string // token id, only meaningful when Kind == DestBranch
}

type DestKind int

const (
	DestOutput DestKind = iota
	DestState
	DestBranch
)

// Mapping is an ordered set of {destPath: sourceJSONPath} entries, matching
// spec §4.1's applyOutputMapping signature. Entries are applied in the
// order given so tests can assert deterministic context.output_mapping.apply
// sequencing.
type Mapping []MappingEntry

type MappingEntry struct {
	DestPath   string
	SourcePath string
}

// ApplyOutputMapping reads each entry's source from sourceRoot (the
// dispatcher passes the task's output payload wrapped as
// {"output": taskOutput} so source paths can address it uniformly),
// writes it to destNamespace, and emits exactly the trace events spec
// §4.1 calls for: one context.output_mapping.input carrying the source
// payload, then one context.output_mapping.apply per successfully-written
// entry or context.output_mapping.skip per undefined source.
func (s *Store) ApplyOutputMapping(mapping Mapping, sourceRoot map[string]any, dest DestNamespace, branches *BranchTables) error {
	s.mu.Lock()
	s.emit(trace.TypeContextOutputMapInput, map[string]any{"source": sourceRoot})
	s.mu.Unlock()

	for _, entry := range mapping {
		val, ok := get(sourceRoot, entry.SourcePath)
		if !ok {
			s.mu.Lock()
			s.emit(trace.TypeContextOutputMapSkip, map[string]any{
				"dest_path":   entry.DestPath,
				"source_path": entry.SourcePath,
			})
			s.mu.Unlock()
			continue
		}

		if err := s.writeToDest(entry.DestPath, val, dest, branches); err != nil {
			return fmt.Errorf("output mapping %s <- %s: %w", entry.DestPath, entry.SourcePath, err)
		}

		s.mu.Lock()
		s.emit(trace.TypeContextOutputMapApply, map[string]any{
			"dest_path":   entry.DestPath,
			"source_path": entry.SourcePath,
			"value":       val,
		})
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) writeToDest(destPath string, value any, dest DestNamespace, branches *BranchTables) error {
	switch dest.Kind {
	case DestOutput:
		return s.Write("output."+destPath, value, Set)
	case DestState:
		return s.Write("state."+destPath, value, Set)
	case DestBranch:
		if branches == nil {
			return fmt.Errorf("branch destination requested but no branch tables available")
		}
		return branches.Write(dest.BranchOf, destPath, value)
	default:
		return fmt.Errorf("unknown destination namespace")
	}
}
