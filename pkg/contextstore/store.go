// Package contextstore implements the typed input/state/output data plane
// for one workflow run: JSONPath reads over the composite {input, state,
// output} view, dotted-path writes validated against a JSON-Schema subset,
// referentially consistent snapshots, and per-token branch tables for
// fan-out isolation.
//
// Every operation emits its trace event from inside the store (never at the
// call site), per the Design Note in SPEC_FULL.md §9 — Store holds the
// trace.Log it writes through.
package contextstore

import (
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/tidwall/sjson"

	"github.com/lyzr/coordinator/pkg/trace"
)

// undefinedType is the type of Undefined, a sentinel distinct from untyped
// nil / JSON null, per spec §3: "reads of undefined paths return
// 'undefined' (distinct from null)".
type undefinedType struct{}

// Undefined is returned by Read when the requested path resolves to nothing.
var Undefined = undefinedType{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

// WriteMode controls how an object-valued write composes with any existing
// value at the destination path (spec §4.1: "Deep merges on object-valued
// writes are configurable per call").
type WriteMode int

const (
	// Set replaces the destination outright.
	Set WriteMode = iota
	// Merge recursively merges object-valued writes (RFC 7386 JSON merge
	// patch semantics), leaving sibling keys at the destination untouched.
	Merge
)

// Namespace identifies one of the three logical tables, or a branch table.
type Namespace string

const (
	NamespaceInput  Namespace = "input"
	NamespaceState  Namespace = "state"
	NamespaceOutput Namespace = "output"
)

// Validator checks a value against a JSON-Schema-subset document, optionally
// scoped to a subtree rooted at path. A nil Validator skips validation,
// which is how the Output namespace is wired: output is only validated at
// workflow completion (spec §3), never on each intermediate write.
type Validator interface {
	ValidateSubtree(path string, value any) error
}

// Store is the per-run context store. Not safe for concurrent writers: the
// coordinator actor is the only writer; readers (snapshot-takers) may run
// concurrently with it, guarded by mu.
type Store struct {
	mu sync.RWMutex

	input  map[string]any
	state  map[string]any
	output map[string]any

	inputWritten bool

	inputValidator  Validator
	stateValidator  Validator
	outputValidator Validator

	log   *trace.Log
	runID string
}

// New creates an empty context store for one run. Validators may be nil to
// skip schema enforcement for that namespace (used by tests).
func New(runID string, log *trace.Log, inputV, stateV, outputV Validator) *Store {
	return &Store{
		input:           make(map[string]any),
		state:           make(map[string]any),
		output:          make(map[string]any),
		inputValidator:  inputV,
		stateValidator:  stateV,
		outputValidator: outputV,
		log:             log,
		runID:           runID,
	}
}

// Initialize validates input against the workflow's input_schema, writes the
// input table (write-once), and creates empty state/output tables. Spec §4.1.
func (s *Store) Initialize(input map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputWritten {
		return &InvalidPathError{Path: "input", Reason: "input is write-once and has already been initialized"}
	}

	if s.inputValidator != nil {
		if err := s.inputValidator.ValidateSubtree("$", input); err != nil {
			s.emit(trace.TypeContextValidate, map[string]any{"path": "input", "ok": false, "error": err.Error()})
			return &SchemaViolation{Path: "input", Err: err}
		}
	}
	s.emit(trace.TypeContextValidate, map[string]any{"path": "input", "ok": true})

	if input == nil {
		input = map[string]any{}
	}
	s.input = input
	s.inputWritten = true
	s.state = map[string]any{}
	s.output = map[string]any{}

	s.emit(trace.TypeContextInit, map[string]any{"input": input})
	return nil
}

// Read resolves jsonpath against the composite {input, state, output} root
// and emits context.read with the resolved value. Returns Undefined, not
// nil, when the path does not resolve (spec §3).
func (s *Store) Read(jsonpath string) any {
	s.mu.RLock()
	composite := s.compositeLocked()
	s.mu.RUnlock()

	val, ok := get(composite, jsonpath)

	s.mu.Lock()
	if ok {
		s.emit(trace.TypeContextRead, map[string]any{"path": jsonpath, "value": val})
	} else {
		s.emit(trace.TypeContextRead, map[string]any{"path": jsonpath, "value": "undefined"})
	}
	s.mu.Unlock()

	if !ok {
		return Undefined
	}
	return val
}

// Write resolves path ("state.foo.bar" or "output.bar") into the state or
// output table, validates the affected subtree, and emits context.write.
// Fails with InvalidPath if path targets input or an unwritable location.
func (s *Store) Write(path string, value any, mode WriteMode) error {
	ns, rest, err := splitNamespace(path)
	if err != nil {
		return err
	}
	if ns == NamespaceInput {
		return &InvalidPathError{Path: path, Reason: "input is immutable"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var table *map[string]any
	var validator Validator
	switch ns {
	case NamespaceState:
		table = &s.state
		validator = s.stateValidator
	case NamespaceOutput:
		table = &s.output
		validator = s.outputValidator
	default:
		return &InvalidPathError{Path: path, Reason: "unknown namespace"}
	}

	newValue := value
	if mode == Merge {
		if existing, ok := get(*table, rest); ok {
			merged, err := mergeValues(existing, value)
			if err != nil {
				return &InvalidPathError{Path: path, Reason: err.Error()}
			}
			newValue = merged
		}
	}

	updated, err := set(*table, rest, newValue)
	if err != nil {
		return &InvalidPathError{Path: path, Reason: err.Error()}
	}

	// Validate the whole post-write namespace, not just the written leaf: a
	// JSON-Schema-subset document describes the namespace's overall shape,
	// so "the affected subtree" (spec §4.1) resolves to "the namespace root
	// after the write". See SchemaValidator.ValidateSubtree.
	if validator != nil {
		if err := validator.ValidateSubtree(path, updated); err != nil {
			s.emit(trace.TypeContextValidate, map[string]any{"path": path, "ok": false, "error": err.Error()})
			return &SchemaViolation{Path: path, Err: err}
		}
	}
	s.emit(trace.TypeContextValidate, map[string]any{"path": path, "ok": true})

	*table = updated
	s.emit(trace.TypeContextWrite, map[string]any{"path": path, "value": newValue, "mode": writeModeName(mode)})
	return nil
}

// WriteForPlanner applies a single write to an already-materialized
// composite {input,state,output} root, for pure callers (the planner's
// completion check projecting this pass's WriteContext decisions) that
// hold a plain map rather than a live Store. It does not validate against
// a schema or emit trace events — those remain Store.Write's job on the
// real commit path.
func WriteForPlanner(composite map[string]any, path string, value any, mode WriteMode) (map[string]any, error) {
	ns, rest, err := splitNamespace(path)
	if err != nil {
		return nil, err
	}
	if ns == NamespaceInput {
		return nil, &InvalidPathError{Path: path, Reason: "input is immutable"}
	}

	table, _ := composite[string(ns)].(map[string]any)
	if table == nil {
		table = map[string]any{}
	}

	newValue := value
	if mode == Merge {
		if existing, ok := get(table, rest); ok {
			merged, err := mergeValues(existing, value)
			if err != nil {
				return nil, &InvalidPathError{Path: path, Reason: err.Error()}
			}
			newValue = merged
		}
	}

	updatedTable, err := set(table, rest, newValue)
	if err != nil {
		return nil, &InvalidPathError{Path: path, Reason: err.Error()}
	}

	out := make(map[string]any, len(composite))
	for k, v := range composite {
		out[k] = v
	}
	out[string(ns)] = updatedTable
	return out, nil
}

// Snapshot returns a deep-copied, referentially consistent view of the
// composite root and emits context.snapshot. No concurrent writer is
// admitted between the read points that compose the snapshot: the whole
// operation holds s.mu for its duration.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.compositeLocked()
	s.emit(trace.TypeContextSnapshot, map[string]any{"snapshot": snap})
	return snap
}

func (s *Store) compositeLocked() map[string]any {
	return map[string]any{
		"input":  deepCopy(s.input),
		"state":  deepCopy(s.state),
		"output": deepCopy(s.output),
	}
}

func (s *Store) emit(typ trace.Type, payload map[string]any) {
	if s.log == nil {
		return
	}
	s.log.Append(typ, payload)
}

func writeModeName(m WriteMode) string {
	if m == Merge {
		return "merge"
	}
	return "set"
}

func splitNamespace(path string) (Namespace, string, error) {
	ns, rest, err := splitFirstSegment(path)
	if err != nil {
		return "", "", &InvalidPathError{Path: path, Reason: err.Error()}
	}
	switch Namespace(ns) {
	case NamespaceInput, NamespaceState, NamespaceOutput:
		return Namespace(ns), rest, nil
	default:
		return "", "", &InvalidPathError{Path: path, Reason: fmt.Sprintf("unknown namespace %q", ns)}
	}
}

func mergeValues(existing, incoming any) (any, error) {
	existingMap, existingIsMap := existing.(map[string]any)
	incomingMap, incomingIsMap := incoming.(map[string]any)
	if !existingIsMap || !incomingIsMap {
		return incoming, nil
	}

	existingJSON, err := json.Marshal(existingMap)
	if err != nil {
		return nil, fmt.Errorf("merge: marshal existing: %w", err)
	}
	incomingJSON, err := json.Marshal(incomingMap)
	if err != nil {
		return nil, fmt.Errorf("merge: marshal incoming: %w", err)
	}

	mergedJSON, err := jsonpatch.MergePatch(existingJSON, incomingJSON)
	if err != nil {
		return nil, fmt.Errorf("merge: apply RFC 7386 merge patch: %w", err)
	}

	var merged map[string]any
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("merge: unmarshal result: %w", err)
	}
	return merged, nil
}

func deepCopy(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// SchemaViolation is returned when a value fails validation against the
// governing JSON-Schema subset.
type SchemaViolation struct {
	Path string
	Err  error
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("schema violation at %s: %v", e.Path, e.Err)
}

func (e *SchemaViolation) Unwrap() error { return e.Err }

// InvalidPathError is returned when a write targets input or an otherwise
// unwritable location.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// sjsonSet is a thin indirection so tests can stub sjson failures; kept as a
// package-level var rather than an interface since there is exactly one
// production implementation.
var sjsonSet = sjson.Set
