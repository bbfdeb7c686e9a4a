package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/lyzr/coordinator/pkg/contextstore"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/tokenstore"
)

// branchPrefix is the namespace spec §3 reserves for a token's own branch
// table inside its dispatch ("addressable as _branch within that token's
// dispatch").
const branchPrefix = "_branch."

// composeInput evaluates node.InputMapping's jsonpaths against the current
// context snapshot, augmented by token's own branch bindings for entries
// prefixed "_branch." (spec §4.5 step 2: "optionally augmented by the
// token's branch bindings"). Sources that resolve to undefined are left out
// of the built input object.
func (d *Dispatcher) composeInput(node *definition.Node, token *tokenstore.Token) (map[string]any, error) {
	raw := []byte("{}")
	for destPath, sourcePath := range node.InputMapping {
		val, ok, err := d.resolveSource(token, sourcePath)
		if err != nil {
			return nil, fmt.Errorf("resolve %s for %s: %w", sourcePath, destPath, err)
		}
		if !ok {
			continue
		}
		updated, err := sjson.SetBytes(raw, destPath, val)
		if err != nil {
			return nil, fmt.Errorf("set input field %s: %w", destPath, err)
		}
		raw = updated
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode composed input: %w", err)
	}
	return out, nil
}

func (d *Dispatcher) resolveSource(token *tokenstore.Token, sourcePath string) (any, bool, error) {
	trimmed := strings.TrimPrefix(sourcePath, "$.")
	trimmed = strings.TrimPrefix(trimmed, "$")
	if strings.HasPrefix(trimmed, branchPrefix) {
		if token.SiblingGroupID == "" || d.branches == nil {
			return nil, false, nil
		}
		val, ok := d.branches.Read(token.ID, strings.TrimPrefix(trimmed, branchPrefix))
		return val, ok, nil
	}

	val := d.context.Read(sourcePath)
	if contextstore.IsUndefined(val) {
		return nil, false, nil
	}
	return val, true, nil
}

// destGroup is one (namespace, branch-or-not) bucket of output_mapping
// entries sharing a single contextstore.DestNamespace, since
// Store.ApplyOutputMapping takes exactly one destination per call.
type destGroup struct {
	dest    contextstore.DestNamespace
	mapping contextstore.Mapping
}

// groupOutputMapping splits node.OutputMapping by destination namespace. A
// destPath prefixed "output." routes to the token's own branch table
// instead of the shared output table whenever the token belongs to a
// spawning sibling group (spec §3: "A node's output_mapping writing to keys
// under output.* in a token that belongs to a spawning sibling group writes
// into that token's branch table, not the shared output").
func groupOutputMapping(mapping map[string]string, token *tokenstore.Token) ([]destGroup, error) {
	groups := make(map[string]*destGroup)
	order := make([]string, 0, len(mapping))

	for destPath, sourcePath := range mapping {
		ns, rest, ok := strings.Cut(destPath, ".")
		if !ok {
			return nil, fmt.Errorf("output mapping dest %q: missing namespace prefix", destPath)
		}

		var key string
		var dest contextstore.DestNamespace
		switch ns {
		case "output":
			if token.SiblingGroupID != "" {
				key, dest = "branch", contextstore.DestNamespace{Kind: contextstore.DestBranch, BranchOf: token.ID}
			} else {
				key, dest = "output", contextstore.DestNamespace{Kind: contextstore.DestOutput}
			}
		case "state":
			key, dest = "state", contextstore.DestNamespace{Kind: contextstore.DestState}
		default:
			return nil, fmt.Errorf("output mapping dest %q: unknown namespace %q", destPath, ns)
		}

		g, ok := groups[key]
		if !ok {
			g = &destGroup{dest: dest}
			groups[key] = g
			order = append(order, key)
		}
		g.mapping = append(g.mapping, contextstore.MappingEntry{DestPath: rest, SourcePath: sourcePath})
	}

	out := make([]destGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	return out, nil
}

// applyOutputMapping wraps output as {"output": output}, so mapping sources
// address the task's result as "$.output.<field>", and applies each
// destination group in turn.
func (d *Dispatcher) applyOutputMapping(node *definition.Node, token *tokenstore.Token, output map[string]any) error {
	groups, err := groupOutputMapping(node.OutputMapping, token)
	if err != nil {
		return err
	}
	sourceRoot := map[string]any{"output": output}
	for _, g := range groups {
		if err := d.context.ApplyOutputMapping(g.mapping, sourceRoot, g.dest, d.branches); err != nil {
			return err
		}
	}
	return nil
}
