package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func firstError(t *testing.T, result *schema.ValidationResult) schema.ValidationIssue {
	t.Helper()
	require.NotEmpty(t, result.Errors)
	return result.Errors[0]
}

func TestStructuralNodeChecks(t *testing.T) {
	t.Run("empty node id", func(t *testing.T) {
		g := validGraph()
		g.Nodes = append(g.Nodes, schema.Node{Type: schema.NodeTypeTransform})
		issue := firstError(t, validateStructural(g, DefaultMaxScopeDepth))
		assert.Equal(t, "node ID is empty", issue.Message)
		assert.Equal(t, "/nodes/3", issue.Path)
	})

	t.Run("missing type", func(t *testing.T) {
		g := validGraph()
		g.Nodes[1].Type = ""
		issue := firstError(t, validateStructural(g, DefaultMaxScopeDepth))
		assert.Contains(t, issue.Message, "has no type")
	})

	t.Run("duplicate id", func(t *testing.T) {
		g := validGraph()
		g.Nodes = append(g.Nodes, schema.Node{ID: "shape", Type: schema.NodeTypeTransform})
		issue := firstError(t, validateStructural(g, DefaultMaxScopeDepth))
		assert.Contains(t, issue.Message, "duplicate node ID shape")
	})

	t.Run("missing input and output", func(t *testing.T) {
		g := &schema.Graph{Nodes: []schema.Node{{ID: "only", Type: schema.NodeTypeTransform}}}
		result := validateStructural(g, DefaultMaxScopeDepth)
		require.Len(t, result.Errors, 2)
		assert.Contains(t, result.Errors[0].Message, "no input node")
		assert.Contains(t, result.Errors[1].Message, "no output node")
	})
}

func TestStructuralEdgeChecks(t *testing.T) {
	t.Run("unknown source", func(t *testing.T) {
		g := validGraph()
		g.Edges[0].Source = "ghost"
		issue := firstError(t, validateStructural(g, DefaultMaxScopeDepth))
		assert.Contains(t, issue.Message, "unknown source ghost")
		assert.Equal(t, "/edges/0", issue.Path)
	})

	t.Run("unknown target", func(t *testing.T) {
		g := validGraph()
		g.Edges[1].Target = "ghost"
		issue := firstError(t, validateStructural(g, DefaultMaxScopeDepth))
		assert.Contains(t, issue.Message, "unknown target ghost")
	})

	t.Run("self loop", func(t *testing.T) {
		g := validGraph()
		g.Edges = append(g.Edges, schema.Edge{ID: "e3", Source: "shape", Target: "shape"})
		issue := firstError(t, validateStructural(g, DefaultMaxScopeDepth))
		assert.Equal(t, schema.ErrCodeCircularRef, issue.Code)
		assert.Contains(t, issue.Message, "self-loop")
	})

	t.Run("cycle", func(t *testing.T) {
		g := validGraph()
		g.Nodes = append(g.Nodes, schema.Node{ID: "back", Type: schema.NodeTypeTransform})
		g.Edges = append(g.Edges,
			schema.Edge{ID: "e3", Source: "shape", Target: "back"},
			schema.Edge{ID: "e4", Source: "back", Target: "shape"},
		)
		issue := firstError(t, validateStructural(g, DefaultMaxScopeDepth))
		assert.Equal(t, schema.ErrCodeCircularRef, issue.Code)
		assert.Contains(t, issue.Message, "cycle")
	})
}

func TestStructuralScopePairing(t *testing.T) {
	scoped := func(scopeType, exitType string) *schema.Graph {
		return &schema.Graph{
			Nodes: []schema.Node{
				{ID: "in", Type: schema.NodeTypeInput},
				{ID: "scope", Type: scopeType},
				{ID: "step", Type: schema.NodeTypeTransform},
				{ID: "end", Type: exitType},
				{ID: "out", Type: schema.NodeTypeOutput},
			},
			Edges: []schema.Edge{
				{ID: "e1", Source: "in", Target: "scope"},
				{ID: "e2", Source: "scope", Target: "step"},
				{ID: "e3", Source: "step", Target: "end"},
				{ID: "e4", Source: "end", Target: "out"},
			},
		}
	}

	t.Run("loop paired with exit", func(t *testing.T) {
		result := validateStructural(scoped(schema.NodeTypeLoop, schema.NodeTypeExit), DefaultMaxScopeDepth)
		assert.True(t, result.Valid())
		assert.Empty(t, result.Warnings)
	})

	t.Run("iterator paired with aggregator", func(t *testing.T) {
		result := validateStructural(scoped(schema.NodeTypeIterator, schema.NodeTypeAggregator), DefaultMaxScopeDepth)
		assert.True(t, result.Valid())
	})

	t.Run("loop without exit", func(t *testing.T) {
		g := scoped(schema.NodeTypeLoop, schema.NodeTypeTransform)
		issue := firstError(t, validateStructural(g, DefaultMaxScopeDepth))
		assert.Equal(t, schema.ErrCodeScopeStructure, issue.Code)
		assert.Contains(t, issue.Message, "no reachable exit")
	})

	t.Run("loop reaching two exits", func(t *testing.T) {
		g := scoped(schema.NodeTypeLoop, schema.NodeTypeExit)
		g.Nodes = append(g.Nodes, schema.Node{ID: "end2", Type: schema.NodeTypeExit})
		g.Edges = append(g.Edges,
			schema.Edge{ID: "e5", Source: "step", Target: "end2"},
			schema.Edge{ID: "e6", Source: "end2", Target: "out"},
		)
		issue := firstError(t, validateStructural(g, DefaultMaxScopeDepth))
		assert.Equal(t, schema.ErrCodeScopeStructure, issue.Code)
		assert.Contains(t, issue.Message, "expected one")
	})

	t.Run("unclaimed exit warns", func(t *testing.T) {
		g := validGraph()
		g.Nodes = append(g.Nodes, schema.Node{ID: "stray", Type: schema.NodeTypeExit})
		g.Edges = append(g.Edges, schema.Edge{ID: "e3", Source: "shape", Target: "stray"})
		result := validateStructural(g, DefaultMaxScopeDepth)
		assert.True(t, result.Valid())
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0].Message, "not paired with a scope")
	})
}

func TestStructuralScopeDepth(t *testing.T) {
	// nested(n) chains n loop scopes inside each other:
	// in -> l1 -> ... -> ln -> step -> xn -> ... -> x1 -> out
	nested := func(n int) *schema.Graph {
		g := &schema.Graph{
			Nodes: []schema.Node{
				{ID: "in", Type: schema.NodeTypeInput},
				{ID: "out", Type: schema.NodeTypeOutput},
				{ID: "step", Type: schema.NodeTypeTransform},
			},
		}
		prev := "in"
		for i := 1; i <= n; i++ {
			id := fmt.Sprintf("l%d", i)
			g.Nodes = append(g.Nodes, schema.Node{ID: id, Type: schema.NodeTypeLoop})
			g.Edges = append(g.Edges, schema.Edge{ID: "to-" + id, Source: prev, Target: id})
			prev = id
		}
		g.Edges = append(g.Edges, schema.Edge{ID: "to-step", Source: prev, Target: "step"})
		prev = "step"
		for i := n; i >= 1; i-- {
			id := fmt.Sprintf("x%d", i)
			g.Nodes = append(g.Nodes, schema.Node{ID: id, Type: schema.NodeTypeExit})
			g.Edges = append(g.Edges, schema.Edge{ID: "to-" + id, Source: prev, Target: id})
			prev = id
		}
		g.Edges = append(g.Edges, schema.Edge{ID: "to-out", Source: prev, Target: "out"})
		return g
	}

	t.Run("within bound", func(t *testing.T) {
		result := validateStructural(nested(3), DefaultMaxScopeDepth)
		assert.True(t, result.Valid())
	})

	t.Run("beyond bound", func(t *testing.T) {
		issue := firstError(t, validateStructural(nested(4), DefaultMaxScopeDepth))
		assert.Equal(t, schema.ErrCodeScopeStructure, issue.Code)
		assert.Contains(t, issue.Message, "nests scopes 4 deep")
	})

	t.Run("custom bound", func(t *testing.T) {
		issue := firstError(t, validateStructural(nested(2), 1))
		assert.Contains(t, issue.Message, "maximum is 1")
	})
}

func TestStructuralOrphanWarning(t *testing.T) {
	g := validGraph()
	g.Nodes = append(g.Nodes, schema.Node{ID: "island", Type: schema.NodeTypeTransform, Data: map[string]any{"expression": "."}})

	result := validateStructural(g, DefaultMaxScopeDepth)
	assert.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0].Message, "island is not connected")
}
