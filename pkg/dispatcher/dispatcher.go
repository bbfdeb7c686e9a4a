// Package dispatcher drives token execution (spec §4.5): for every token
// that reaches a dispatchable node it resolves the node and task
// definitions, composes and validates the task's input, calls the executor,
// and on return applies the task's output mapping and marshals the result
// back as a TaskCompleted/TaskFailed trigger for the next planning pass.
//
// Dispatch itself never touches the planner or applier — it is, per spec
// §4.5, "otherwise stateless: all decisions flow through planner→applier".
// The one piece of state it does hold locally is a retry attempt counter,
// scoped to the goroutine handling one token's invocation, per the Open
// Question resolution in SPEC_FULL.md placing retry enforcement here so
// each attempt stays visible as its own dispatch.task_start/task_end pair.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/executor"
	"github.com/lyzr/coordinator/pkg/planner"
	"github.com/lyzr/coordinator/pkg/tokenstore"
	"github.com/lyzr/coordinator/pkg/trace"
)

// Dispatcher is scoped to one run, matching every other store in the
// coordinator (spec §4.4's single-writer-per-run actor model).
type Dispatcher struct {
	runID    string
	gateway  *definition.Gateway
	exec     executor.Client
	tokens   *tokenstore.Store
	context  *contextstore.Store
	branches *contextstore.BranchTables
	log      *trace.Log
	hub      *trace.Hub

	mu             sync.Mutex
	schemaCache    map[string]*contextstore.SchemaValidator
	triggers       chan planner.Trigger
	now            func() time.Time
}

// New creates a Dispatcher for one run. hub may be nil (no workflow event
// fan-out, e.g. unit tests).
func New(runID string, gateway *definition.Gateway, exec executor.Client, tokens *tokenstore.Store, ctx *contextstore.Store, branches *contextstore.BranchTables, log *trace.Log, hub *trace.Hub) *Dispatcher {
	return &Dispatcher{
		runID:       runID,
		gateway:     gateway,
		exec:        exec,
		tokens:      tokens,
		context:     ctx,
		branches:    branches,
		log:         log,
		hub:         hub,
		schemaCache: make(map[string]*contextstore.SchemaValidator),
		triggers:    make(chan planner.Trigger, 64),
		now:         time.Now,
	}
}

// Triggers is where TaskCompleted/TaskFailed triggers arrive once an
// invocation (and its retries) settle. The coordinator actor selects on
// this alongside its command channel.
func (d *Dispatcher) Triggers() <-chan planner.Trigger {
	return d.triggers
}

// Cancel forwards a best-effort cancellation advisory to the executor for
// tokenID (spec §4.5: "Cancel(token_id) advisory only — the executor may
// ignore it").
func (d *Dispatcher) Cancel(ctx context.Context, tokenID string) {
	d.exec.Cancel(ctx, tokenID)
}

// Dispatch resolves token.NodeRef's node and task, composes and validates
// the task's input, transitions the token to running, and invokes the
// executor asynchronously. It never blocks on the executor call (spec
// §4.5 step 5); the eventual outcome arrives on Triggers().
func (d *Dispatcher) Dispatch(ctx context.Context, wf *definition.Workflow, token *tokenstore.Token) {
	node, ok := wf.Nodes[token.NodeRef]
	if !ok {
		d.triggers <- planner.TaskFailed(token.ID, planner.TaskError{
			Message: fmt.Sprintf("node %s not found in workflow %s@%s", token.NodeRef, wf.ID, wf.Version),
			Code:    "node_not_found",
		})
		return
	}

	task, err := d.gateway.Task(ctx, node.TaskRef, node.TaskVersion)
	if err != nil {
		d.triggers <- planner.TaskFailed(token.ID, planner.TaskError{
			Message: fmt.Sprintf("resolve task %s@%s: %v", node.TaskRef, node.TaskVersion, err),
			Code:    "definition_error",
		})
		return
	}

	input, err := d.composeInput(node, token)
	if err != nil {
		d.triggers <- planner.TaskFailed(token.ID, planner.TaskError{
			Message: fmt.Sprintf("compose input: %v", err),
			Code:    "input_resolution_error",
		})
		return
	}

	if task.InputSchema != nil {
		validator, err := d.validatorFor(task.ID, task.Version, "input", task.InputSchema)
		if err != nil {
			d.triggers <- planner.TaskFailed(token.ID, planner.TaskError{
				Message: fmt.Sprintf("compile input schema: %v", err),
				Code:    "schema_compile_error",
			})
			return
		}
		if err := validator.ValidateSubtree("$", input); err != nil {
			d.triggers <- planner.TaskFailed(token.ID, planner.TaskError{
				Message: fmt.Sprintf("task input failed schema validation: %v", err),
				Code:    "schema_violation",
			})
			return
		}
	}

	if err := d.tokens.UpdateStatus(token.ID, tokenstore.StatusRunning, "dispatched"); err != nil {
		d.triggers <- planner.TaskFailed(token.ID, planner.TaskError{
			Message: fmt.Sprintf("transition to running: %v", err),
			Code:    "invalid_transition",
		})
		return
	}

	go d.runWithRetries(ctx, node, task, token, input)
}

// runWithRetries drives the attempt loop for one token: one invocation,
// then — if the task declares a retry policy and the failure is retryable —
// further attempts separated by the policy's backoff, until success,
// exhaustion, or a non-retryable failure.
func (d *Dispatcher) runWithRetries(ctx context.Context, node *definition.Node, task *definition.Task, token *tokenstore.Token, input map[string]any) {
	attempt := 1
	for {
		result, execErr := d.invokeOnce(ctx, node, task, token, input, attempt)
		if execErr == nil {
			d.succeed(node, task, token, attempt, result.Output)
			return
		}

		if !d.shouldRetry(task, execErr, attempt) {
			d.fail(token, attempt, execErr)
			return
		}

		backoff := time.Duration(task.Retry.BackoffMS) * time.Millisecond
		select {
		case <-ctx.Done():
			d.fail(token, attempt, &executor.Error{Message: "cancelled during retry backoff", Code: "cancelled"})
			return
		case <-time.After(backoff):
		}
		attempt++
	}
}

func (d *Dispatcher) shouldRetry(task *definition.Task, execErr *executor.Error, attempt int) bool {
	if task.Retry == nil || !execErr.Retryable {
		return false
	}
	if attempt >= task.Retry.MaxAttempts {
		return false
	}
	if len(task.Retry.RetryableCodes) == 0 {
		return true
	}
	for _, c := range task.Retry.RetryableCodes {
		if c == execErr.Code {
			return true
		}
	}
	return false
}

// invokeOnce emits one dispatch.task_start/task_end pair around a single
// executor call, per spec §4.5's "retries remain visible in the trace".
func (d *Dispatcher) invokeOnce(ctx context.Context, node *definition.Node, task *definition.Task, token *tokenstore.Token, input map[string]any, attempt int) (executor.Result, *executor.Error) {
	d.log.Append(trace.TypeDispatchTaskStart, map[string]any{
		"token_id":     token.ID,
		"node_ref":     token.NodeRef,
		"task_id":      task.ID,
		"task_version": task.Version,
		"attempt":      attempt,
		"input":        input,
	})
	if attempt == 1 {
		d.publishWorkflow(trace.TaskStarted, map[string]any{"token_id": token.ID, "node_ref": token.NodeRef, "task_id": task.ID})
	}

	result, err := d.exec.Invoke(ctx, executor.Invocation{
		TaskID:         task.ID,
		TaskVersion:    task.Version,
		Input:          input,
		TokenID:        token.ID,
		RunID:          d.runID,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", d.runID, token.ID, attempt),
	})

	var execErr *executor.Error
	switch {
	case err != nil:
		var ok bool
		execErr, ok = err.(*executor.Error)
		if !ok {
			execErr = &executor.Error{Message: err.Error(), Code: "transport_error", Retryable: true}
		}
	case result.Err != nil:
		execErr = result.Err
	}

	if execErr != nil {
		d.log.Append(trace.TypeDispatchTaskEnd, map[string]any{
			"token_id": token.ID,
			"attempt":  attempt,
			"status":   "failed",
			"error":    execErr.Message,
			"code":     execErr.Code,
		})
		return executor.Result{}, execErr
	}

	d.log.Append(trace.TypeDispatchTaskEnd, map[string]any{
		"token_id": token.ID,
		"attempt":  attempt,
		"status":   "completed",
	})
	return result, nil
}

func (d *Dispatcher) succeed(node *definition.Node, task *definition.Task, token *tokenstore.Token, attempt int, output map[string]any) {
	if task.OutputSchema != nil {
		validator, err := d.validatorFor(task.ID, task.Version, "output", task.OutputSchema)
		if err != nil {
			d.fail(token, attempt, &executor.Error{Message: fmt.Sprintf("compile output schema: %v", err), Code: "schema_compile_error"})
			return
		}
		if err := validator.ValidateSubtree("$", output); err != nil {
			d.fail(token, attempt, &executor.Error{Message: fmt.Sprintf("task output failed schema validation: %v", err), Code: "schema_violation"})
			return
		}
	}

	if err := d.applyOutputMapping(node, token, output); err != nil {
		d.fail(token, attempt, &executor.Error{Message: fmt.Sprintf("apply output mapping: %v", err), Code: "output_mapping_error"})
		return
	}

	d.publishWorkflow(trace.TaskCompleted, map[string]any{"token_id": token.ID, "node_ref": token.NodeRef, "task_id": task.ID})
	d.triggers <- planner.TaskCompleted(token.ID, output)
}

func (d *Dispatcher) fail(token *tokenstore.Token, attempt int, execErr *executor.Error) {
	d.publishWorkflow(trace.TaskFailed, map[string]any{"token_id": token.ID, "node_ref": token.NodeRef, "error": execErr.Message, "code": execErr.Code})
	d.triggers <- planner.TaskFailed(token.ID, planner.TaskError{
		Message:   execErr.Message,
		Code:      execErr.Code,
		Retryable: execErr.Retryable,
	})
}

func (d *Dispatcher) publishWorkflow(typ trace.WorkflowEventType, payload map[string]any) {
	if d.hub == nil {
		return
	}
	d.hub.PublishWorkflow(trace.WorkflowEvent{Type: typ, RunID: d.runID, Timestamp: d.now(), Payload: payload})
}

func (d *Dispatcher) validatorFor(taskID, taskVersion, field string, schema map[string]any) (*contextstore.SchemaValidator, error) {
	key := taskID + "@" + taskVersion + "/" + field

	d.mu.Lock()
	if v, ok := d.schemaCache[key]; ok {
		d.mu.Unlock()
		return v, nil
	}
	d.mu.Unlock()

	v, err := contextstore.CompileSchema(schema)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.schemaCache[key] = v
	d.mu.Unlock()
	return v, nil
}
