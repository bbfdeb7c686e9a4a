package contextstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// get resolves a JSONPath-ish path ("$.state.foo.bar", "state.foo.bar", or a
// namespace-relative "foo.bar") against root using gjson, returning
// (value, true) if the path resolves, else (nil, false).
//
// gjson's own dot-path syntax is the read-side workhorse here; the "$."
// prefix some callers use (mirroring the teacher's condition.Evaluator,
// which accepts "$.field") is stripped before delegating.
func get(root map[string]any, path string) (any, bool) {
	normalized := normalizeReadPath(path)
	if normalized == "" {
		b, err := json.Marshal(root)
		if err != nil {
			return nil, false
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, false
		}
		return out, true
	}

	b, err := json.Marshal(root)
	if err != nil {
		return nil, false
	}

	result := gjson.GetBytes(b, normalized)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

func normalizeReadPath(path string) string {
	p := strings.TrimPrefix(path, "$.")
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	return p
}

// set writes value at dotted path "rest" (namespace already stripped) inside
// table, creating intermediate object nodes as needed, and returns the
// updated table. Uses sjson for the write-side, the natural complement of
// gjson's read-side used by get/Read.
func set(table map[string]any, rest string, value any) (map[string]any, error) {
	if rest == "" {
		// Writing the whole namespace root: value must itself be an object.
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot write non-object value at namespace root")
		}
		return m, nil
	}

	b, err := json.Marshal(table)
	if err != nil {
		return nil, fmt.Errorf("marshal table: %w", err)
	}

	updated, err := sjsonSet(string(b), rest, value)
	if err != nil {
		return nil, fmt.Errorf("sjson set %q: %w", rest, err)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(updated), &out); err != nil {
		return nil, fmt.Errorf("unmarshal updated table: %w", err)
	}
	return out, nil
}

// ReadForPlanner resolves path against an already-materialized composite
// {input,state,output} root (e.g. from Store.Snapshot), for pure callers
// like the planner that hold a plain map rather than a live Store.
func ReadForPlanner(root map[string]any, path string) (any, bool) {
	return get(root, path)
}

// splitFirstSegment splits "namespace.rest.of.path" into ("namespace",
// "rest.of.path"). A bare "namespace" (no rest) returns ("namespace", "").
func splitFirstSegment(path string) (string, string, error) {
	p := strings.TrimPrefix(path, "$.")
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return "", "", fmt.Errorf("empty path")
	}
	parts := strings.SplitN(p, ".", 2)
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}
