package tokenstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/coordinator/pkg/trace"
)

// Store is the append-and-mutate contract spec §4.2 names: create,
// get, updateStatus, listActive, listBySiblingGroup, cancelMany. One Store
// instance is scoped to a single run, matching the single-writer-per-run
// actor model (spec §4.4). Every method takes the store's own lock, so a
// single call is safe from any goroutine; a sequence of calls (as in
// CancelMany) is not atomic.
type Store struct {
	mu     sync.RWMutex
	runID  string
	tokens map[string]*Token
	log    *trace.Log
	now    func() time.Time
}

// New creates an empty token store for one run.
func New(runID string, log *trace.Log) *Store {
	return &Store{
		runID:  runID,
		tokens: make(map[string]*Token),
		log:    log,
		now:    time.Now,
	}
}

// Create allocates a new token in StatusPending and emits tokens.create.
func (s *Store) Create(d Draft) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now()
	t := &Token{
		ID:                  id,
		RunID:               d.RunID,
		NodeRef:             d.NodeRef,
		Status:              StatusPending,
		ParentTokenID:       d.ParentTokenID,
		SiblingGroupID:      d.SiblingGroupID,
		FanOutTransitionRef: d.FanOutTransitionRef,
		BranchIndex:         d.BranchIndex,
		BranchTotal:         d.BranchTotal,
		Lineage:             d.Lineage,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.tokens[t.ID] = t

	if s.log != nil {
		s.log.Append(trace.TypeTokensCreate, map[string]any{
			"token_id":         t.ID,
			"node_ref":         t.NodeRef,
			"parent_token_id":  t.ParentTokenID,
			"sibling_group_id": t.SiblingGroupID,
			"branch_index":     t.BranchIndex,
			"branch_total":     t.BranchTotal,
			"lineage":          t.Lineage,
		})
	}
	return t
}

// Get returns the token by id, or ErrNotFound.
func (s *Store) Get(id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// UpdateStatus transitions id from its current status to newStatus, emitting
// tokens.status_transition with {from, to, reason}. Rejects transitions not
// in validTransitions, and rejects any change on an already-terminal token
// (spec §3: "A token in terminal status is immutable thereafter").
func (s *Store) UpdateStatus(id string, newStatus Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return &TransitionError{TokenID: id, From: t.Status, To: newStatus}
	}
	if !CanTransition(t.Status, newStatus) {
		return &TransitionError{TokenID: id, From: t.Status, To: newStatus}
	}

	from := t.Status
	t.Status = newStatus
	t.UpdatedAt = s.now()

	if s.log != nil {
		s.log.Append(trace.TypeTokensStatusTransition, map[string]any{
			"token_id": id,
			"from":     string(from),
			"to":       string(newStatus),
			"reason":   reason,
		})
	}
	return nil
}

// ListActive returns every non-terminal token, ordered by creation time.
func (s *Store) ListActive() []*Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Token, 0)
	for _, t := range s.tokens {
		if !t.Status.Terminal() {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListAll returns every token regardless of status, keyed by id — the full
// view planner.Snapshot.Tokens needs (spec §4.3's planner reacts off the
// whole token table, not just the active subset).
func (s *Store) ListAll() map[string]*Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*Token, len(s.tokens))
	for id, t := range s.tokens {
		cp := *t
		out[id] = &cp
	}
	return out
}

// ListBySiblingGroup returns every token (any status) belonging to groupID,
// ordered ascending by branch index.
func (s *Store) ListBySiblingGroup(groupID string) []*Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Token, 0)
	for _, t := range s.tokens {
		if t.SiblingGroupID == groupID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ia, ja := 0, 0
		if out[i].BranchIndex != nil {
			ia = *out[i].BranchIndex
		}
		if out[j].BranchIndex != nil {
			ja = *out[j].BranchIndex
		}
		return ia < ja
	})
	return out
}

// CancelMany transitions every non-terminal token in ids to cancelled,
// silently skipping ids that are already terminal or unknown — callers use
// this for best-effort sibling cleanup (any-strategy fan-in, run-level
// cancellation) where some tokens may have already completed.
func (s *Store) CancelMany(ids []string, reason string) {
	for _, id := range ids {
		t, err := s.Get(id)
		if err != nil || t.Status.Terminal() {
			continue
		}
		_ = s.UpdateStatus(id, StatusCancelled, reason)
	}
}
