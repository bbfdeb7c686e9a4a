package coordinator

import "github.com/lyzr/coordinator/pkg/planner"

// Status is a run's coarse lifecycle state, exposed through Actor.GetRun.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RunInfo is the point-in-time view Actor.GetRun hands back: spec §6's
// getRun(run_id) -> {status, output | error}.
type RunInfo struct {
	RunID       string
	Status      Status
	FinalOutput map[string]any
	Error       *planner.RunError
}
