package tokenstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/coordinator/internal/pg"
)

// PGStore persists tokens to the `tokens` table named in the persisted
// state layout (spec §6). It does not itself emit trace events — Store
// remains the in-memory working copy the coordinator actor mutates on the
// hot path. No code in this module constructs a PGStore: the coordinator
// neither writes tokens through Persist nor reads them back through
// LoadActive.
type PGStore struct {
	pool  *pg.Pool
	runID string
}

// NewPGStore wraps pool for one run's token table.
func NewPGStore(pool *pg.Pool, runID string) *PGStore {
	return &PGStore{pool: pool, runID: runID}
}

// Persist upserts t's current row; on a token_id conflict only status and
// updated_at are rewritten.
func (p *PGStore) Persist(ctx context.Context, t *Token) error {
	const query = `
		INSERT INTO tokens (
			token_id, run_id, node_ref, status, parent_token_id,
			sibling_group_id, fan_out_transition_ref, branch_index, branch_total,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (token_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.pool.Exec(ctx, query,
		t.ID, t.RunID, t.NodeRef, string(t.Status), nullableString(t.ParentTokenID),
		nullableString(t.SiblingGroupID), nullableString(t.FanOutTransitionRef),
		t.BranchIndex, t.BranchTotal, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("tokenstore: persist token %s: %w", t.ID, err)
	}
	return nil
}

// LoadActive reads every non-terminal token for the run, used to rebuild
// Store state after a coordinator restart.
func (p *PGStore) LoadActive(ctx context.Context) ([]*Token, error) {
	const query = `
		SELECT token_id, run_id, node_ref, status, parent_token_id,
		       sibling_group_id, fan_out_transition_ref, branch_index, branch_total,
		       created_at, updated_at
		FROM tokens
		WHERE run_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at ASC
	`
	rows, err := p.pool.Query(ctx, query, p.runID)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: load active: %w", err)
	}
	defer rows.Close()

	var out []*Token
	for rows.Next() {
		t := &Token{}
		var status string
		var parentID, siblingGroupID, fanOutRef *string
		if err := rows.Scan(
			&t.ID, &t.RunID, &t.NodeRef, &status, &parentID,
			&siblingGroupID, &fanOutRef, &t.BranchIndex, &t.BranchTotal,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("tokenstore: scan token: %w", err)
		}
		t.Status = Status(status)
		t.ParentTokenID = derefString(parentID)
		t.SiblingGroupID = derefString(siblingGroupID)
		t.FanOutTransitionRef = derefString(fanOutRef)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tokenstore: iterate tokens: %w", err)
	}
	return out, nil
}

// errNoRows mirrors pgx.ErrNoRows for callers that only import this package.
var errNoRows = pgx.ErrNoRows

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
