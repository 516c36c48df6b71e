package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/flowgraph/pkg/schema"
)

// TemplateScope holds the data available for {{...}} resolution: outputs of
// already-executed nodes keyed by node ID, plus the run's named inputs.
type TemplateScope struct {
	Outputs map[string]any
	Inputs  map[string]any
}

// Resolver resolves {{node_id}} and {{node_id.field.path}} references inside
// node data. Resolution is a single left-to-right scan over each string; an
// unresolvable token is left in place and reported as a warning rather than
// failing the node.
type Resolver struct{}

// NewResolver creates a template Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveString replaces every {{...}} token in s. Returns the resolved
// string and warnings for tokens that could not be resolved.
func (r *Resolver) ResolveString(s string, scope *TemplateScope) (string, []string) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var result strings.Builder
	result.Grow(len(s))
	var warnings []string

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + 2

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			// Unclosed token, keep the rest verbatim.
			result.WriteString(s[i+idx:])
			break
		}
		end += start

		ref := strings.TrimSpace(s[start:end])
		val, ok := r.lookup(ref, scope)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unresolved reference {{%s}}", ref))
			result.WriteString(s[i+idx : end+2])
		} else {
			result.WriteString(stringify(val))
		}

		i = end + 2
	}

	return result.String(), warnings
}

// ResolveData deep-copies data, resolving every string leaf. Maps and slices
// are walked; other values pass through untouched.
func (r *Resolver) ResolveData(data map[string]any, scope *TemplateScope) (map[string]any, []string) {
	if data == nil {
		return nil, nil
	}
	var warnings []string
	out := make(map[string]any, len(data))
	for k, v := range data {
		resolved, w := r.resolveValue(v, scope)
		out[k] = resolved
		warnings = append(warnings, w...)
	}
	return out, warnings
}

func (r *Resolver) resolveValue(v any, scope *TemplateScope) (any, []string) {
	switch val := v.(type) {
	case string:
		return r.ResolveString(val, scope)
	case map[string]any:
		return r.ResolveData(val, scope)
	case []any:
		var warnings []string
		out := make([]any, len(val))
		for i, item := range val {
			resolved, w := r.resolveValue(item, scope)
			out[i] = resolved
			warnings = append(warnings, w...)
		}
		return out, warnings
	default:
		return v, nil
	}
}

// lookup resolves a single reference. A bare node ID yields the primary text
// of that node's output; a dotted path traverses into the output value.
// Inputs take the "inputs." prefix.
func (r *Resolver) lookup(ref string, scope *TemplateScope) (any, bool) {
	if ref == "" || scope == nil {
		return nil, false
	}

	head, rest, hasPath := strings.Cut(ref, ".")

	if head == "inputs" && hasPath {
		if scope.Inputs == nil {
			return nil, false
		}
		if val, ok := scope.Inputs[rest]; ok {
			return val, true
		}
		return traversePath(scope.Inputs, rest)
	}

	if scope.Outputs == nil {
		return nil, false
	}
	output, ok := scope.Outputs[head]
	if !ok {
		return nil, false
	}

	if !hasPath {
		return PrimaryText(output), true
	}
	return traversePath(output, rest)
}

// traversePath navigates into nested maps using a dot-delimited path.
func traversePath(root any, path string) (any, bool) {
	current := root
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, ok := obj[seg]
		if !ok {
			return nil, false
		}
		current = val
	}
	return current, true
}

// PrimaryText extracts the human-facing text of a node output: strings as-is,
// then the response, content, or result fields when they are strings, and
// compact JSON as the last resort.
func PrimaryText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any:
		for _, key := range []string{"response", "content", "result"} {
			if s, ok := val[key].(string); ok {
				return s
			}
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// stringify renders a resolved value for embedding into a string template.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// HasTemplate reports whether s contains a {{...}} reference.
func HasTemplate(s string) bool {
	open := strings.Index(s, "{{")
	return open != -1 && strings.Contains(s[open:], "}}")
}

// ExtractRefs finds the node IDs referenced by {{...}} tokens in a string.
// The "inputs" namespace is excluded; it never adds an ordering edge.
func ExtractRefs(s string) map[string]bool {
	refs := make(map[string]bool)
	for {
		idx := strings.Index(s, "{{")
		if idx == -1 {
			break
		}
		rest := s[idx+2:]
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			break
		}
		ref := strings.TrimSpace(rest[:closeIdx])
		if dot := strings.IndexByte(ref, '.'); dot != -1 {
			ref = ref[:dot]
		}
		if ref != "" && ref != "inputs" {
			refs[ref] = true
		}
		s = rest[closeIdx+2:]
	}
	return refs
}

// DataRefs collects every node ID referenced by templates anywhere in a
// node's data.
func DataRefs(data map[string]any) map[string]bool {
	refs := make(map[string]bool)
	collectRefs(data, refs)
	return refs
}

func collectRefs(v any, refs map[string]bool) {
	switch val := v.(type) {
	case string:
		for id := range ExtractRefs(val) {
			refs[id] = true
		}
	case map[string]any:
		for _, item := range val {
			collectRefs(item, refs)
		}
	case []any:
		for _, item := range val {
			collectRefs(item, refs)
		}
	}
}

// DetectCircularRefs checks for reference cycles between nodes' templates.
func DetectCircularRefs(nodes []schema.Node) error {
	refs := make(map[string]map[string]bool, len(nodes))
	for _, n := range nodes {
		r := DataRefs(n.Data)
		if len(r) > 0 {
			refs[n.ID] = r
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(refs))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for dep := range refs[id] {
			switch color[dep] {
			case gray:
				return schema.NewErrorf(schema.ErrCodeCircularRef,
					"circular template reference detected: %s -> %s", id, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, n := range nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}

	return nil
}
