// Package coordinator is the run actor (spec §4.4, §5, §6): it owns one
// goroutine per in-flight run, each with its own token store, context store,
// branch tables, definition gateway, and dispatcher, and exposes StartRun,
// GetRun, Wait, TraceSince, Subscribe, and CancelRun as the coordinator's
// externally-visible surface.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lyzr/coordinator/internal/cache"
	"github.com/lyzr/coordinator/internal/logger"
	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/dispatcher"
	"github.com/lyzr/coordinator/pkg/executor"
	"github.com/lyzr/coordinator/pkg/planner"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

// DefinitionRef names the workflow version a run executes against.
type DefinitionRef struct {
	ID      string
	Version string
}

// Actor is the coordinator's façade over every in-flight run.
type Actor struct {
	defs definition.Store
	exec executor.Client
	hub  *trace.Hub
	log  *logger.Logger
	cond *planner.ConditionEvaluator

	newTraceStorage func(runID string) trace.Storage

	mu   sync.RWMutex
	runs map[string]*run
}

// New builds an Actor. newTraceStorage may be nil, in which case every run
// gets an in-process trace.MemoryStorage; pass a Postgres-backed factory in
// production deployments (spec §6's durability requirement).
func New(defs definition.Store, exec executor.Client, hub *trace.Hub, log *logger.Logger, newTraceStorage func(runID string) trace.Storage) (*Actor, error) {
	cond, err := planner.NewConditionEvaluator()
	if err != nil {
		return nil, fmt.Errorf("coordinator: build condition evaluator: %w", err)
	}
	if newTraceStorage == nil {
		newTraceStorage = func(string) trace.Storage { return trace.NewMemoryStorage() }
	}
	return &Actor{
		defs:            defs,
		exec:            exec,
		hub:             hub,
		log:             log,
		cond:            cond,
		newTraceStorage: newTraceStorage,
		runs:            make(map[string]*run),
	}, nil
}

// StartRun resolves ref, validates input against the workflow's input
// schema, initializes the run's context, and starts the run's actor
// goroutine (spec §4.1: "start(input) -> init context tables -> plan(start)
// -> apply -> dispatch root token"). The run ID is allocated once the
// workflow definition resolves, before the schemas are compiled and the
// input validated; any resolution, compile, or validation error returns
// before the run is registered.
func (a *Actor) StartRun(ctx context.Context, ref DefinitionRef, input map[string]any) (string, error) {
	gw := definition.NewGateway(a.defs, cache.NewMemoryCache(a.log))

	wf, err := gw.Workflow(ctx, ref.ID, ref.Version)
	if err != nil {
		return "", fmt.Errorf("coordinator: resolve workflow %s@%s: %w", ref.ID, ref.Version, err)
	}

	runID := uuid.NewString()
	traceLog := trace.NewLog(runID, a.newTraceStorage(runID), a.hub)

	inputV, err := contextstore.CompileSchema(wf.InputSchema)
	if err != nil {
		return "", fmt.Errorf("coordinator: compile input schema for %s@%s: %w", ref.ID, ref.Version, err)
	}
	stateV, err := contextstore.CompileSchema(wf.ContextSchema)
	if err != nil {
		return "", fmt.Errorf("coordinator: compile context schema for %s@%s: %w", ref.ID, ref.Version, err)
	}

	// Output is validated once, at workflow completion (spec §4.2), never
	// per-write, so the live Store is built without an output validator.
	ctxStore := contextstore.New(runID, traceLog, inputV, stateV, nil)
	if err := ctxStore.Initialize(input); err != nil {
		return "", fmt.Errorf("coordinator: initialize run input: %w", err)
	}

	tokens := tokenstore.New(runID, traceLog)
	branches := contextstore.NewBranchTables(traceLog)
	disp := dispatcher.New(runID, gw, a.exec, tokens, ctxStore, branches, traceLog, a.hub)

	runCtx, cancelFn := context.WithCancel(context.Background())
	r := &run{
		id:         runID,
		wf:         wf,
		cond:       a.cond,
		tokens:     tokens,
		context:    ctxStore,
		branches:   branches,
		gateway:    gw,
		dispatcher: disp,
		log:        traceLog,
		hub:        a.hub,
		slog:       a.log,
		ctx:        runCtx,
		cancelFn:   cancelFn,
		cancelCh:   make(chan struct{}, 1),
		done:       make(chan struct{}),
		status:     StatusRunning,
	}

	a.mu.Lock()
	a.runs[runID] = r
	a.mu.Unlock()

	go r.loop()

	return runID, nil
}

// GetRun reports runID's current status, final output, or error.
func (a *Actor) GetRun(runID string) (RunInfo, error) {
	a.mu.RLock()
	r, ok := a.runs[runID]
	a.mu.RUnlock()
	if !ok {
		return RunInfo{}, fmt.Errorf("coordinator: run %s not found", runID)
	}
	return r.info(), nil
}

// Wait blocks until runID reaches a terminal status. Tests and batch callers
// use this instead of polling GetRun; the HTTP surface instead subscribes to
// the event stream for incremental progress.
func (a *Actor) Wait(runID string) error {
	a.mu.RLock()
	r, ok := a.runs[runID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("coordinator: run %s not found", runID)
	}
	<-r.done
	return nil
}

// TraceSince returns runID's committed trace events with sequence_number
// > since, for an event-stream client replaying backlog before it attaches
// to the live subscription (spec §4.6).
func (a *Actor) TraceSince(runID string, since int64) ([]trace.Event, error) {
	a.mu.RLock()
	r, ok := a.runs[runID]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("coordinator: run %s not found", runID)
	}
	return r.log.Range(since+1, 1<<62)
}

// Subscribe attaches a live listener to runID's trace/workflow event stream.
// Callers should call TraceSince first to drain backlog, then read from the
// returned Subscriber; the unsubscribe func must be called once the caller
// is done (e.g. on websocket disconnect).
func (a *Actor) Subscribe(runID string) (*trace.Subscriber, func(), error) {
	a.mu.RLock()
	_, ok := a.runs[runID]
	a.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("coordinator: run %s not found", runID)
	}
	if a.hub == nil {
		return nil, nil, fmt.Errorf("coordinator: no event hub configured")
	}
	sub, unsub := a.hub.Subscribe(runID)
	return sub, unsub, nil
}

// CancelRun requests best-effort cancellation of runID. It is fire-and-
// forget: the run's own goroutine processes the request and GetRun reflects
// it once that happens. Calling it on an unknown run is an error; calling it
// twice, or on an already-terminal run, is a harmless no-op.
func (a *Actor) CancelRun(runID string) error {
	a.mu.RLock()
	r, ok := a.runs[runID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("coordinator: run %s not found", runID)
	}

	select {
	case r.cancelCh <- struct{}{}:
	default:
	}
	return nil
}
