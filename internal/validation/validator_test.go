package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func validGraph() *schema.Graph {
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "in", Type: schema.NodeTypeInput},
			{ID: "shape", Type: schema.NodeTypeTransform, Data: map[string]any{"expression": ".x"}},
			{ID: "out", Type: schema.NodeTypeOutput},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "in", Target: "shape"},
			{ID: "e2", Source: "shape", Target: "out"},
		},
	}
}

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	v := NewGraphValidator()
	result := v.Validate(validGraph())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	require.NoError(t, v.ValidateGraph(validGraph()))
}

func TestValidateNilGraph(t *testing.T) {
	result := NewGraphValidator().Validate(nil)
	require.False(t, result.Valid())
	assert.Equal(t, "graph is nil", result.Errors[0].Message)
}

func TestValidateStructuralShortCircuits(t *testing.T) {
	g := validGraph()
	// Break structure and config at once; only structural errors surface.
	g.Edges[0].Target = "ghost"
	g.Nodes[1].Data = map[string]any{}

	result := NewGraphValidator().Validate(g)
	require.False(t, result.Valid())
	for _, issue := range result.Errors {
		assert.NotContains(t, issue.Message, "expression")
	}
}

func TestValidateGraphReturnsFlowError(t *testing.T) {
	g := validGraph()
	g.Nodes = g.Nodes[:2]

	err := NewGraphValidator().ValidateGraph(g)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}
