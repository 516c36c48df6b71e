package nodes

import (
	"github.com/rendis/flowgraph/pkg/schema"
)

// Synthetic boundary node IDs used when a scope body is wrapped into a
// standalone graph.
const (
	ScopeInputID  = "__scope_input__"
	ScopeOutputID = "__scope_output__"
)

// ScopeBody describes the extracted body of a pseudo-cyclic scope.
type ScopeBody struct {
	// ExitID is the terminating node (exit or aggregator).
	ExitID string
	// Nodes are the body node IDs, scope and exit excluded.
	Nodes []string
}

// Contains reports whether a node is part of the body.
func (b *ScopeBody) Contains(id string) bool {
	for _, n := range b.Nodes {
		if n == id {
			return true
		}
	}
	return false
}

// ExtractScopeBody finds the body between a scope node and its terminating
// node: forward BFS from the scope stopping at the terminator, backward BFS
// from the terminator stopping at the scope, body is the intersection.
// Exactly one terminator of exitType must be reachable.
func ExtractScopeBody(g *schema.Graph, scopeID, exitType string) (*ScopeBody, error) {
	forward := make(map[string][]string)
	backward := make(map[string][]string)
	for _, edge := range g.Edges {
		forward[edge.Source] = append(forward[edge.Source], edge.Target)
		backward[edge.Target] = append(backward[edge.Target], edge.Source)
	}

	// Forward BFS from the scope node, not traversing past terminators.
	reachable := make(map[string]bool)
	exitID := ""
	queue := append([]string(nil), forward[scopeID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reachable[id] {
			continue
		}
		reachable[id] = true

		node := g.NodeByID(id)
		if node != nil && node.Type == exitType {
			if exitID != "" && exitID != id {
				return nil, schema.NewErrorf(schema.ErrCodeScopeStructure,
					"scope %s reaches multiple %s nodes (%s, %s)", scopeID, exitType, exitID, id).WithNode(scopeID)
			}
			exitID = id
			continue
		}
		queue = append(queue, forward[id]...)
	}

	if exitID == "" {
		return nil, schema.NewErrorf(schema.ErrCodeScopeStructure,
			"scope %s has no reachable %s node", scopeID, exitType).WithNode(scopeID)
	}

	// Backward BFS from the terminator, not traversing past the scope node.
	coReachable := make(map[string]bool)
	queue = append([]string(nil), backward[exitID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == scopeID || coReachable[id] {
			continue
		}
		coReachable[id] = true
		queue = append(queue, backward[id]...)
	}

	body := &ScopeBody{ExitID: exitID}
	// Intersection in graph declaration order keeps the body deterministic.
	for _, node := range g.Nodes {
		if node.ID == scopeID || node.ID == exitID {
			continue
		}
		if reachable[node.ID] && coReachable[node.ID] {
			body.Nodes = append(body.Nodes, node.ID)
		}
	}
	return body, nil
}

// BuildScopeGraph wraps a scope body into a standalone graph. Edges from the
// scope node become edges from the synthetic input; edges into the terminator
// become edges into the synthetic output. Internal edges are preserved.
//
// An empty body yields a direct input-to-output pass-through.
func BuildScopeGraph(g *schema.Graph, scopeID string, body *ScopeBody) *schema.Graph {
	sub := &schema.Graph{
		Nodes: []schema.Node{
			{ID: ScopeInputID, Type: schema.NodeTypeInput},
			{ID: ScopeOutputID, Type: schema.NodeTypeOutput},
		},
	}

	for _, id := range body.Nodes {
		if node := g.NodeByID(id); node != nil {
			sub.Nodes = append(sub.Nodes, *node)
		}
	}

	if len(body.Nodes) == 0 {
		sub.Edges = append(sub.Edges, schema.Edge{
			ID:     "scope-pass",
			Source: ScopeInputID,
			Target: ScopeOutputID,
		})
		return sub
	}

	for _, edge := range g.Edges {
		fromScope := edge.Source == scopeID
		toExit := edge.Target == body.ExitID

		switch {
		case fromScope && body.Contains(edge.Target):
			e := edge
			e.Source = ScopeInputID
			e.SourceHandle = ""
			sub.Edges = append(sub.Edges, e)
		case toExit && body.Contains(edge.Source):
			e := edge
			e.Target = ScopeOutputID
			e.TargetHandle = ""
			sub.Edges = append(sub.Edges, e)
		case body.Contains(edge.Source) && body.Contains(edge.Target):
			sub.Edges = append(sub.Edges, edge)
		}
	}

	return sub
}
