package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

type fakeChat struct {
	reply string
	err   error
	// last prompt seen, for assertions
	prompt string
}

func (f *fakeChat) Complete(_ context.Context, _ string, _ string, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func routerGraph(branches any) (*schema.Graph, *schema.Node) {
	g := &schema.Graph{
		Nodes: []schema.Node{
			{ID: "route", Type: schema.NodeTypeRouter, Data: map[string]any{"branches": branches}},
			{ID: "a", Type: schema.NodeTypeTransform},
			{ID: "b", Type: schema.NodeTypeTransform},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "route", Target: "a", SourceHandle: "branch-0"},
			{ID: "e2", Source: "route", Target: "b", SourceHandle: "branch-1"},
		},
	}
	return g, &g.Nodes[0]
}

func routerContext(g *schema.Graph) *ExecutionContext {
	return &ExecutionContext{Graph: g, Expr: expressions.NewExprEngine()}
}

func TestRouterSelectsBySubstring(t *testing.T) {
	g, node := routerGraph([]any{"approve", "reject"})

	result, err := (&RouterExecutor{}).Execute(context.Background(), routerContext(g), node, "Please REJECT this one")
	require.NoError(t, err)

	value := result.Value.(map[string]any)
	assert.Equal(t, "reject", value["selectedBranch"])
	assert.Equal(t, []string{"a"}, result.SkipNodes)
}

func TestRouterSelectsByCondition(t *testing.T) {
	g, node := routerGraph([]any{
		map[string]any{"name": "big", "condition": "value > 10"},
		map[string]any{"name": "small"},
	})

	result, err := (&RouterExecutor{}).Execute(context.Background(), routerContext(g), node, 42)
	require.NoError(t, err)

	value := result.Value.(map[string]any)
	assert.Equal(t, "big", value["selectedBranch"])
	assert.Equal(t, []string{"b"}, result.SkipNodes)
}

func TestRouterFallsBackToFirstBranch(t *testing.T) {
	g, node := routerGraph([]any{"alpha", "beta"})

	result, err := (&RouterExecutor{}).Execute(context.Background(), routerContext(g), node, "no match here")
	require.NoError(t, err)

	value := result.Value.(map[string]any)
	assert.Equal(t, "alpha", value["selectedBranch"])
}

func TestRouterConditionError(t *testing.T) {
	g, node := routerGraph([]any{
		map[string]any{"name": "broken", "condition": "value +"},
	})
	g.Edges = g.Edges[:1]

	_, err := (&RouterExecutor{}).Execute(context.Background(), routerContext(g), node, 1)
	require.Error(t, err)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeExecutor, fe.Code)
}

func TestRouterLLMMode(t *testing.T) {
	g, node := routerGraph([]any{"billing", "support"})
	node.Data["mode"] = "llm"

	chat := &fakeChat{reply: " Support "}
	result, err := (&RouterExecutor{Chat: chat}).Execute(context.Background(), routerContext(g), node, "my invoice is wrong")
	require.NoError(t, err)

	value := result.Value.(map[string]any)
	assert.Equal(t, "support", value["selectedBranch"])
	assert.Contains(t, chat.prompt, "billing, support")
}

func TestRouterLLMModeWithoutClient(t *testing.T) {
	g, node := routerGraph([]any{"x", "y"})
	node.Data["mode"] = "llm"

	_, err := (&RouterExecutor{}).Execute(context.Background(), routerContext(g), node, "in")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat client")
}

func TestRouterLLMModeChatError(t *testing.T) {
	g, node := routerGraph([]any{"x", "y"})
	node.Data["mode"] = "llm"

	chat := &fakeChat{err: errors.New("rate limited")}
	_, err := (&RouterExecutor{Chat: chat}).Execute(context.Background(), routerContext(g), node, "in")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestParseBranches(t *testing.T) {
	t.Run("strings and objects", func(t *testing.T) {
		node := &schema.Node{ID: "r", Data: map[string]any{
			"branches": []any{
				"plain",
				map[string]any{"name": "cond", "condition": "true"},
				map[string]any{"condition": "value == 1"},
			},
		}}
		branches, err := parseBranches(node)
		require.NoError(t, err)
		require.Len(t, branches, 3)
		assert.Equal(t, routerBranch{Name: "plain"}, branches[0])
		assert.Equal(t, routerBranch{Name: "cond", Condition: "true"}, branches[1])
		assert.Equal(t, routerBranch{Condition: "value == 1"}, branches[2])
	})

	t.Run("missing", func(t *testing.T) {
		branches, err := parseBranches(&schema.Node{ID: "r", Data: map[string]any{}})
		require.NoError(t, err)
		assert.Empty(t, branches)
	})

	t.Run("not a list", func(t *testing.T) {
		_, err := parseBranches(&schema.Node{ID: "r", Data: map[string]any{"branches": "nope"}})
		require.Error(t, err)
	})

	t.Run("empty object", func(t *testing.T) {
		_, err := parseBranches(&schema.Node{ID: "r", Data: map[string]any{
			"branches": []any{map[string]any{}},
		}})
		require.Error(t, err)
	})

	t.Run("unsupported entry", func(t *testing.T) {
		_, err := parseBranches(&schema.Node{ID: "r", Data: map[string]any{
			"branches": []any{42},
		}})
		require.Error(t, err)
	})
}

func TestRouterNoBranches(t *testing.T) {
	g, node := routerGraph([]any{})
	_, err := (&RouterExecutor{}).Execute(context.Background(), routerContext(g), node, "in")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no branches")
}
