package coordinator

import (
	"context"
	"sync"

	"github.com/lyzr/coordinator/internal/logger"
	"github.com/lyzr/coordinator/pkg/applier"
	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/dispatcher"
	"github.com/lyzr/coordinator/pkg/planner"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

// run is one workflow execution. Exactly one goroutine, loop, ever touches
// tokens/context/branches/dispatcher after construction — the single-writer-
// per-run actor model spec §4.4/§5 describes. GetRun reads status under mu
// from any goroutine; everything else is loop-owned.
type run struct {
	id   string
	wf   *definition.Workflow
	cond *planner.ConditionEvaluator

	tokens     *tokenstore.Store
	context    *contextstore.Store
	branches   *contextstore.BranchTables
	gateway    *definition.Gateway
	dispatcher *dispatcher.Dispatcher
	log        *trace.Log
	hub        *trace.Hub
	slog       *logger.Logger

	ctx      context.Context
	cancelFn context.CancelFunc
	cancelCh chan struct{}
	done     chan struct{}

	mu          sync.RWMutex
	status      Status
	finalOutput map[string]any
	runErr      *planner.RunError
}

func (r *run) info() RunInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RunInfo{RunID: r.id, Status: r.status, FinalOutput: r.finalOutput, Error: r.runErr}
}

func (r *run) isTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.terminal()
}

// loop is the run's entire event pump: plan the start trigger, dispatch the
// root token, then alternate between cancellation requests and the
// dispatcher's TaskCompleted/TaskFailed triggers until the run reaches a
// terminal status. Mirrors the teacher's per-run goroutine in coordinator.go,
// selecting on local channels instead of a Redis queue.
func (r *run) loop() {
	defer close(r.done)
	defer r.gateway.Discard()

	r.step(planner.WorkflowStart())

	for !r.isTerminal() {
		select {
		case <-r.ctx.Done():
			return
		case <-r.cancelCh:
			r.handleCancel()
		case trig, ok := <-r.dispatcher.Triggers():
			if !ok {
				return
			}
			r.step(trig)
		}
	}

	if r.slog != nil {
		info := r.info()
		r.slog.WithRun(r.id).Info("run terminal", "status", string(info.Status))
	}
}

// step runs exactly one plan/apply/dispatch cycle for trigger (spec §4.1's
// "plan -> apply -> dispatch" pipeline, repeated for every trigger after the
// first).
func (r *run) step(trigger planner.Trigger) {
	snap := r.snapshot()

	result, err := planner.Plan(r.cond, r.wf, snap, trigger)
	if err != nil {
		r.setFailed(planner.RunError{Kind: "InternalInvariant", Message: err.Error()})
		return
	}

	stores := applier.Stores{Tokens: r.tokens, Context: r.context, Branches: r.branches, Log: r.log, Hub: r.hub}
	outcome, err := applier.Apply(r.id, stores, result)
	if err != nil {
		r.setFailed(planner.RunError{Kind: "InternalInvariant", Message: err.Error()})
		return
	}

	switch {
	case outcome.Completed:
		r.mu.Lock()
		r.status = StatusCompleted
		r.finalOutput = outcome.FinalOutput
		r.mu.Unlock()
	case outcome.Failed:
		errCopy := outcome.Error
		r.mu.Lock()
		r.status = StatusFailed
		r.runErr = &errCopy
		r.mu.Unlock()
	}

	if r.isTerminal() {
		return
	}
	r.dispatchPending()
}

func (r *run) setFailed(e planner.RunError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.terminal() {
		return
	}
	r.status = StatusFailed
	r.runErr = &e
}

func (r *run) snapshot() planner.Snapshot {
	return planner.Snapshot{
		Workflow: r.wf,
		Context:  r.context.Snapshot(),
		Tokens:   r.tokens.ListAll(),
		Branches: r.branches.Snapshot(),
	}
}

// dispatchPending hands every token still pending after the last apply to
// the dispatcher, except tokens at a pure routing node (TaskRef == ""),
// which have nothing to invoke: those are routed synchronously via a
// TokenArrivedAtNode trigger instead of round-tripping through the executor.
func (r *run) dispatchPending() {
	for _, t := range r.tokens.ListActive() {
		if t.Status != tokenstore.StatusPending {
			continue
		}

		// Re-fetch: an earlier token in this same batch may have
		// recursed into step() and already moved t (e.g. a sibling
		// cancelled by an any-strategy fan-in).
		live, err := r.tokens.Get(t.ID)
		if err != nil || live.Status != tokenstore.StatusPending {
			continue
		}

		node, ok := r.wf.Nodes[live.NodeRef]
		if !ok {
			r.step(planner.TaskFailed(live.ID, planner.TaskError{
				Message: "node " + live.NodeRef + " not found in workflow " + r.wf.ID + "@" + r.wf.Version,
				Code:    "node_not_found",
			}))
			continue
		}

		if node.TaskRef == "" {
			r.step(planner.TokenArrivedAtNode(live.ID, live.NodeRef))
			continue
		}

		r.dispatcher.Dispatch(r.ctx, r.wf, live)
	}
}

// handleCancel transitions every active token to cancelled and sends each a
// best-effort executor cancellation advisory (spec §4.5's Cancel(token_id)),
// then stops the run's context so any in-flight retry backoff unwinds.
func (r *run) handleCancel() {
	active := r.tokens.ListActive()
	ids := make([]string, 0, len(active))
	for _, t := range active {
		ids = append(ids, t.ID)
		r.dispatcher.Cancel(r.ctx, t.ID)
	}
	r.tokens.CancelMany(ids, "run_cancelled")

	r.mu.Lock()
	if !r.status.terminal() {
		r.status = StatusCancelled
	}
	r.mu.Unlock()

	r.cancelFn()
}
