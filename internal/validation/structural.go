package validation

import (
	"fmt"

	"github.com/rendis/flowgraph/pkg/schema"
)

// scopeExitTypes maps a scope node type to the type that terminates its
// body.
var scopeExitTypes = map[string]string{
	schema.NodeTypeLoop:         schema.NodeTypeExit,
	schema.NodeTypeErrorHandler: schema.NodeTypeExit,
	schema.NodeTypeIterator:     schema.NodeTypeAggregator,
}

// validateStructural checks node and edge integrity: IDs, endpoints,
// cycles, input/output presence, scope/exit pairing and nesting depth.
// Orphan nodes are warnings, everything else is an error.
func validateStructural(g *schema.Graph, maxScopeDepth int) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	inputs, outputs := 0, 0
	for i, n := range g.Nodes {
		path := fmt.Sprintf("/nodes/%d", i)
		if n.ID == "" {
			result.AddError(path, schema.ErrCodeValidation, "node ID is empty")
			continue
		}
		if n.Type == "" {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("node %s has no type", n.ID))
		}
		if nodeIDs[n.ID] {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("duplicate node ID %s", n.ID))
			continue
		}
		nodeIDs[n.ID] = true
		switch n.Type {
		case schema.NodeTypeInput:
			inputs++
		case schema.NodeTypeOutput:
			outputs++
		}
	}

	if inputs == 0 {
		result.AddError("/nodes", schema.ErrCodeValidation, "workflow has no input node")
	}
	if outputs == 0 {
		result.AddError("/nodes", schema.ErrCodeValidation, "workflow has no output node")
	}

	adj := make(map[string][]string, len(g.Nodes))
	indegree := make(map[string]int, len(g.Nodes))
	hasIncoming := make(map[string]bool)
	hasOutgoing := make(map[string]bool)

	for i, e := range g.Edges {
		path := fmt.Sprintf("/edges/%d", i)
		if !nodeIDs[e.Source] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge %s references unknown source %s", e.ID, e.Source))
			continue
		}
		if !nodeIDs[e.Target] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge %s references unknown target %s", e.ID, e.Target))
			continue
		}
		if e.Source == e.Target {
			result.AddError(path, schema.ErrCodeCircularRef,
				fmt.Sprintf("edge %s is a self-loop on %s", e.ID, e.Source))
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		indegree[e.Target]++
		hasIncoming[e.Target] = true
		hasOutgoing[e.Source] = true
	}

	if !result.Valid() {
		return result
	}

	if hasCycle(nodeIDs, adj, indegree) {
		result.AddError("/edges", schema.ErrCodeCircularRef, "workflow contains a cycle")
		return result
	}

	validateScopePairing(g, adj, result)
	validateScopeDepth(g, adj, maxScopeDepth, result)

	for _, n := range g.Nodes {
		if n.Type == schema.NodeTypeInput || n.Type == schema.NodeTypeOutput {
			continue
		}
		if !hasIncoming[n.ID] && !hasOutgoing[n.ID] {
			result.AddWarning("/nodes", schema.ErrCodeValidation,
				fmt.Sprintf("node %s is not connected to the graph", n.ID))
		}
	}

	return result
}

// hasCycle runs Kahn's algorithm over the explicit edges.
func hasCycle(nodeIDs map[string]bool, adj map[string][]string, indegree map[string]int) bool {
	queue := make([]string, 0, len(nodeIDs))
	for id := range nodeIDs {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(nodeIDs)
}

// validateScopePairing requires each scope node to reach exactly one
// terminator of its kind, and flags terminators nothing scopes over.
func validateScopePairing(g *schema.Graph, adj map[string][]string, result *schema.ValidationResult) {
	claimed := make(map[string]bool)

	for _, n := range g.Nodes {
		exitType, isScope := scopeExitTypes[n.Type]
		if !isScope {
			continue
		}

		terminators := reachableOfType(g, adj, n.ID, exitType)
		switch len(terminators) {
		case 0:
			result.AddError("/nodes", schema.ErrCodeScopeStructure,
				fmt.Sprintf("%s node %s has no reachable %s node", n.Type, n.ID, exitType))
		case 1:
			claimed[terminators[0]] = true
		default:
			result.AddError("/nodes", schema.ErrCodeScopeStructure,
				fmt.Sprintf("%s node %s reaches %d %s nodes, expected one", n.Type, n.ID, len(terminators), exitType))
		}
	}

	for _, n := range g.Nodes {
		if n.Type != schema.NodeTypeExit && n.Type != schema.NodeTypeAggregator {
			continue
		}
		if !claimed[n.ID] {
			result.AddWarning("/nodes", schema.ErrCodeScopeStructure,
				fmt.Sprintf("%s node %s is not paired with a scope node", n.Type, n.ID))
		}
	}
}

// validateScopeDepth bounds scope nesting. A scope nests inside another
// when it sits in the outer scope's body, between the scope node and its
// terminator.
func validateScopeDepth(g *schema.Graph, adj map[string][]string, maxDepth int, result *schema.ValidationResult) {
	if maxDepth <= 0 {
		maxDepth = 3
	}

	children := make(map[string][]string)
	for _, n := range g.Nodes {
		exitType, isScope := scopeExitTypes[n.Type]
		if !isScope {
			continue
		}
		for id := range scopeBody(g, adj, n.ID, exitType) {
			if _, nested := scopeExitTypes[nodeType(g, id)]; nested {
				children[n.ID] = append(children[n.ID], id)
			}
		}
	}

	depths := make(map[string]int)
	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depths[id]; ok {
			return d
		}
		depths[id] = 1 // break ties on malformed graphs
		d := 1
		for _, child := range children[id] {
			if cd := depthOf(child) + 1; cd > d {
				d = cd
			}
		}
		depths[id] = d
		return d
	}

	for _, n := range g.Nodes {
		if _, isScope := scopeExitTypes[n.Type]; !isScope {
			continue
		}
		if d := depthOf(n.ID); d > maxDepth {
			result.AddError("/nodes", schema.ErrCodeScopeStructure,
				fmt.Sprintf("%s node %s nests scopes %d deep, maximum is %d", n.Type, n.ID, d, maxDepth))
		}
	}
}

func nodeType(g *schema.Graph, id string) string {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n.Type
		}
	}
	return ""
}

// scopeBody collects the node IDs between a scope node and its terminator,
// not walking past the terminator.
func scopeBody(g *schema.Graph, adj map[string][]string, start, exitType string) map[string]bool {
	types := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		types[n.ID] = n.Type
	}

	body := make(map[string]bool)
	seen := map[string]bool{start: true}
	queue := append([]string(nil), adj[start]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if types[id] == exitType {
			continue
		}
		body[id] = true
		queue = append(queue, adj[id]...)
	}
	return body
}

// reachableOfType walks forward from start and returns the first-reached
// nodes of the wanted type, not walking past them.
func reachableOfType(g *schema.Graph, adj map[string][]string, start, wanted string) []string {
	types := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		types[n.ID] = n.Type
	}

	var found []string
	seen := map[string]bool{start: true}
	queue := append([]string(nil), adj[start]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if types[id] == wanted {
			found = append(found, id)
			continue
		}
		queue = append(queue, adj[id]...)
	}
	return found
}
