package engine

import (
	"fmt"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// DAG is the in-memory directed acyclic graph representation of a workflow
// graph. Built from a schema.Graph, used by the run loop to determine
// execution order and value routing.
type DAG struct {
	Nodes    map[string]*schema.Node  // node ID → node
	Adj      map[string][]string      // node ID → successors (explicit + template edges)
	Reverse  map[string][]string      // node ID → predecessors
	InEdges  map[string][]schema.Edge // node ID → inbound explicit edges (value routing)
	OutEdges map[string][]schema.Edge // node ID → outbound explicit edges
	Sorted   []string                 // topological order
	Roots    []string                 // nodes with no predecessors
	Levels   [][]string               // parallel execution levels
}

// ParseDAG parses a workflow graph into an executable DAG.
// It validates the graph, builds adjacency lists including implicit ordering
// edges from {{node_id.field}} template references, performs topological
// sorting using Kahn's algorithm, detects cycles, and computes parallel
// execution levels.
func ParseDAG(g *schema.Graph) (*DAG, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow graph is nil")
	}

	if len(g.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no nodes")
	}

	dag := &DAG{
		Nodes:    make(map[string]*schema.Node, len(g.Nodes)),
		Adj:      make(map[string][]string, len(g.Nodes)),
		Reverse:  make(map[string][]string, len(g.Nodes)),
		InEdges:  make(map[string][]schema.Edge, len(g.Nodes)),
		OutEdges: make(map[string][]schema.Edge, len(g.Nodes)),
	}

	// First pass: register all nodes and check for duplicates.
	for i := range g.Nodes {
		node := &g.Nodes[i]

		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("node at index %d has empty ID", i))
		}
		if node.Type == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s has empty type", node.ID)
		}
		if _, exists := dag.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}

		dag.Nodes[node.ID] = node
	}

	// Second pass: explicit edges. Endpoints must exist; self-edges are cycles.
	edgeSet := make(map[string]bool, len(g.Edges))
	for _, edge := range g.Edges {
		if _, exists := dag.Nodes[edge.Source]; !exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references non-existent source: %s", edge.ID, edge.Source)
		}
		if _, exists := dag.Nodes[edge.Target]; !exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s references non-existent target: %s", edge.ID, edge.Target)
		}
		if edge.Source == edge.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCircularRef, "node %s has an edge to itself", edge.Source)
		}

		dag.InEdges[edge.Target] = append(dag.InEdges[edge.Target], edge)
		dag.OutEdges[edge.Source] = append(dag.OutEdges[edge.Source], edge)

		key := edge.Source + "\x00" + edge.Target
		if !edgeSet[key] {
			edgeSet[key] = true
			dag.Adj[edge.Source] = append(dag.Adj[edge.Source], edge.Target)
			dag.Reverse[edge.Target] = append(dag.Reverse[edge.Target], edge.Source)
		}
	}

	// Third pass: implicit ordering edges from template references. A node
	// whose data mentions {{other.field}} must run after "other".
	for id, node := range dag.Nodes {
		for ref := range expressions.DataRefs(node.Data) {
			if _, exists := dag.Nodes[ref]; !exists {
				continue
			}
			if ref == id {
				return nil, schema.NewErrorf(schema.ErrCodeCircularRef, "node %s references itself in a template", id)
			}
			key := ref + "\x00" + id
			if !edgeSet[key] {
				edgeSet[key] = true
				dag.Adj[ref] = append(dag.Adj[ref], id)
				dag.Reverse[id] = append(dag.Reverse[id], ref)
			}
		}
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		inDegree[id] = len(dag.Reverse[id])
	}

	// Queue nodes with in-degree 0 (roots).
	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	// Sort roots for deterministic ordering.
	sortStrings(queue)
	dag.Roots = make([]string, len(queue))
	copy(dag.Roots, queue)

	sorted := make([]string, 0, len(dag.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		// For each successor of this node, decrement its in-degree.
		successors := make([]string, len(dag.Adj[node]))
		copy(successors, dag.Adj[node])
		sortStrings(successors)

		for _, succ := range successors {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(sorted) != len(dag.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCircularRef, "workflow contains a cycle")
	}

	dag.Sorted = sorted

	// Compute parallel execution levels using topological depth.
	dag.Levels = computeLevels(dag)

	return dag, nil
}

// computeLevels groups nodes into parallel execution levels.
// Nodes at the same level have all predecessors satisfied by previous levels.
func computeLevels(dag *DAG) [][]string {
	depth := make(map[string]int, len(dag.Nodes))

	// Compute depth for each node based on max predecessor depth + 1.
	for _, id := range dag.Sorted {
		maxDep := -1
		for _, dep := range dag.Reverse[id] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[id] = maxDep + 1
	}

	// Find max level.
	maxLevel := 0
	for _, d := range depth {
		if d > maxLevel {
			maxLevel = d
		}
	}

	// Group nodes by level.
	levels := make([][]string, maxLevel+1)
	for _, id := range dag.Sorted {
		d := depth[id]
		levels[d] = append(levels[d], id)
	}

	return levels
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// Used for small slices to avoid importing sort package.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
