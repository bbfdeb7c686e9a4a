package contextstore

import (
	"fmt"
	"sync"

	"github.com/lyzr/coordinator/pkg/trace"
)

// BranchTables holds one ephemeral namespace per in-flight spawned token,
// addressable as "_branch" within that token's own dispatch (spec §3). A
// node's output_mapping writing to "output.*" while running inside a
// spawned sibling writes into the token's branch table, never the shared
// output table, until a merge projects branch values into context.
//
// Branch tables are transient but persisted until the run terminates (spec
// §6), so a Postgres-backed implementation creates one physical
// branch_<token_id> table per spawning sibling group; BranchTables itself
// only holds the in-process view the planner/dispatcher operate on.
type BranchTables struct {
	mu     sync.Mutex
	tables map[string]map[string]any // tokenID -> branch data
	log    *trace.Log
}

// NewBranchTables creates an empty branch table set for one run.
func NewBranchTables(log *trace.Log) *BranchTables {
	return &BranchTables{tables: make(map[string]map[string]any), log: log}
}

// Create allocates an empty branch table for tokenID, optionally seeded with
// a foreach item binding (item_var -> element).
func (b *BranchTables) Create(tokenID string, seed map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := make(map[string]any)
	for k, v := range seed {
		data[k] = v
	}
	b.tables[tokenID] = data
}

// Write sets path (relative to the branch root, e.g. "output.result") inside
// tokenID's branch table.
func (b *BranchTables) Write(tokenID, path string, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	table, ok := b.tables[tokenID]
	if !ok {
		return fmt.Errorf("branch table: no branch for token %s", tokenID)
	}
	updated, err := set(table, path, value)
	if err != nil {
		return fmt.Errorf("branch table: write %s for token %s: %w", path, tokenID, err)
	}
	b.tables[tokenID] = updated
	return nil
}

// Read resolves path against tokenID's branch table.
func (b *BranchTables) Read(tokenID, path string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	table, ok := b.tables[tokenID]
	if !ok {
		return nil, false
	}
	return get(table, path)
}

// Discard drops tokenID's branch table, e.g. once its sibling group has
// merged and the branch data is no longer needed.
func (b *BranchTables) Discard(tokenID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tables, tokenID)
}

// Snapshot returns a deep-enough copy of every branch table, keyed by token
// id, for the coordinator to hand the planner as Snapshot.Branches — the
// planner never touches BranchTables directly (spec §4.3's purity rule), so
// this is the one read path live code takes through it.
func (b *BranchTables) Snapshot() map[string]map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]map[string]any, len(b.tables))
	for tokenID, table := range b.tables {
		cp := make(map[string]any, len(table))
		for k, v := range table {
			cp[k] = v
		}
		out[tokenID] = cp
	}
	return out
}
