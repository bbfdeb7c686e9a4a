// Package tokenstore implements the persistent set of tokens for one
// workflow run: status, lineage, and sibling-group membership (spec §4.2).
package tokenstore

import (
	"fmt"
	"time"
)

// Status is a token's lifecycle state.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusWaitingAtFanIn Status = "waiting_at_fan_in"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransitions enumerates every transition the token store admits.
// Anything not listed here is rejected, including no-ops, per spec §4.2:
// "No other transition is admitted."
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:        true,
		StatusWaitingAtFanIn: true,
		StatusCancelled:      true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusWaitingAtFanIn: {
		StatusRunning:   true,
		StatusCompleted: true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether from -> to is one of the admitted edges.
func CanTransition(from, to Status) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Token is one position of execution within a run, per spec §3.
type Token struct {
	ID                  string
	RunID               string
	NodeRef             string
	Status              Status
	ParentTokenID       string // empty if root
	SiblingGroupID      string // empty if not part of a fan-out
	FanOutTransitionRef string
	BranchIndex         *int
	BranchTotal         *int
	// Lineage names every contributing arrival token for a fan-in
	// continuation (spec §4.3.3: "lineage = {all contributing arrivals}").
	// Empty for ordinary single-parent tokens, where ParentTokenID already
	// says everything lineage would. Tokens carry ids here, never pointers
	// (spec §3: "never as direct pointers").
	Lineage   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Draft is the set of fields a caller supplies to create a Token; timestamps
// and initial status are assigned by the store. ID is normally left empty
// so the store assigns a fresh one, but the planner pre-assigns it when a
// later decision in the same Result must reference the new token (e.g. a
// fan-in continuation's lineage) before the store has run.
type Draft struct {
	ID                  string
	RunID               string
	NodeRef             string
	ParentTokenID       string
	SiblingGroupID      string
	FanOutTransitionRef string
	BranchIndex         *int
	BranchTotal         *int
	Lineage             []string
}

// TransitionError is returned when a status change is not in
// validTransitions.
type TransitionError struct {
	TokenID  string
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("token %s: invalid transition %s -> %s", e.TokenID, e.From, e.To)
}

// ErrNotFound is returned when a token id does not resolve.
var ErrNotFound = fmt.Errorf("tokenstore: token not found")
