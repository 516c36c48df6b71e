package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

func iteratorTestGraph(data map[string]any, aggData map[string]any) (*schema.Graph, *schema.Node) {
	g := &schema.Graph{
		Nodes: []schema.Node{
			{ID: "iter", Type: schema.NodeTypeIterator, Data: data},
			{ID: "body", Type: schema.NodeTypeTransform},
			{ID: "agg", Type: schema.NodeTypeAggregator, Data: aggData},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "iter", Target: "body"},
			{ID: "e2", Source: "body", Target: "agg"},
		},
	}
	return g, &g.Nodes[0]
}

func TestIteratorFansOutPerItem(t *testing.T) {
	g, node := iteratorTestGraph(nil, nil)

	var items []any
	runner := func(_ context.Context, _ *schema.Graph, inputs map[string]any) (*SubRunResult, error) {
		items = append(items, inputs["item"])
		assert.Equal(t, inputs["item"], inputs["input"])
		assert.Equal(t, 3, inputs["total"])
		return &SubRunResult{Output: inputs["index"]}, nil
	}

	ec := &ExecutionContext{Graph: g, RunSubgraph: runner, JQ: expressions.NewGoJQEngine()}
	result, err := (&IteratorExecutor{}).Execute(context.Background(), ec, node, []any{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b", "c"}, items)

	value := result.Value.(map[string]any)
	assert.Equal(t, 3, value["count"])
	assert.ElementsMatch(t, []string{"body", "agg"}, result.SkipNodes)

	agg := result.ExtraOutputs["agg"].(map[string]any)
	assert.Equal(t, []any{0, 1, 2}, agg["result"])
	assert.Equal(t, 3, agg["count"])
}

func TestIteratorEmptyInput(t *testing.T) {
	g, node := iteratorTestGraph(nil, nil)

	runner := func(_ context.Context, _ *schema.Graph, _ map[string]any) (*SubRunResult, error) {
		t.Fatal("body must not run for an empty list")
		return nil, nil
	}

	ec := &ExecutionContext{Graph: g, RunSubgraph: runner}
	result, err := (&IteratorExecutor{}).Execute(context.Background(), ec, node, []any{})
	require.NoError(t, err)

	value := result.Value.(map[string]any)
	assert.Equal(t, 0, value["count"])

	agg := result.ExtraOutputs["agg"].(map[string]any)
	assert.Equal(t, []any{}, agg["result"])
}

func TestExtractItems(t *testing.T) {
	ec := &ExecutionContext{JQ: expressions.NewGoJQEngine()}
	ctx := context.Background()

	t.Run("bare array", func(t *testing.T) {
		items, err := extractItems(ctx, ec, &schema.Node{ID: "i"}, []any{1, 2})
		require.NoError(t, err)
		assert.Equal(t, []any{1, 2}, items)
	})

	t.Run("items key", func(t *testing.T) {
		items, err := extractItems(ctx, ec, &schema.Node{ID: "i"}, map[string]any{"items": []any{"x"}})
		require.NoError(t, err)
		assert.Equal(t, []any{"x"}, items)
	})

	t.Run("single value wrapped", func(t *testing.T) {
		items, err := extractItems(ctx, ec, &schema.Node{ID: "i"}, "solo")
		require.NoError(t, err)
		assert.Equal(t, []any{"solo"}, items)
	})

	t.Run("nil", func(t *testing.T) {
		items, err := extractItems(ctx, ec, &schema.Node{ID: "i"}, nil)
		require.NoError(t, err)
		assert.Nil(t, items)
	})

	t.Run("expression", func(t *testing.T) {
		node := &schema.Node{ID: "i", Data: map[string]any{"expression": ".rows"}}
		items, err := extractItems(ctx, ec, node, map[string]any{"rows": []any{"r1", "r2"}})
		require.NoError(t, err)
		assert.Equal(t, []any{"r1", "r2"}, items)
	})

	t.Run("expression error", func(t *testing.T) {
		node := &schema.Node{ID: "i", Data: map[string]any{"expression": ".["}}
		_, err := extractItems(ctx, ec, node, nil)
		require.Error(t, err)
	})
}

func TestAggregateStrategies(t *testing.T) {
	t.Run("array default", func(t *testing.T) {
		out := aggregate(nil, []any{1, 2})
		assert.Equal(t, []any{1, 2}, out["result"])
		assert.Equal(t, 2, out["count"])
	})

	t.Run("concat", func(t *testing.T) {
		node := &schema.Node{Data: map[string]any{"strategy": "concat", "separator": ", "}}
		out := aggregate(node, []any{"a", "b"})
		assert.Equal(t, "a, b", out["result"])
	})

	t.Run("merge", func(t *testing.T) {
		node := &schema.Node{Data: map[string]any{"strategy": "merge"}}
		out := aggregate(node, []any{
			map[string]any{"a": 1},
			map[string]any{"b": 2, "a": 3},
			"ignored",
		})
		assert.Equal(t, map[string]any{"a": 3, "b": 2}, out["result"])
		assert.Equal(t, 3, out["count"])
	})
}

func TestAggregatorExecutorPassThrough(t *testing.T) {
	exec := &AggregatorExecutor{}
	node := &schema.Node{ID: "agg", Type: schema.NodeTypeAggregator}

	result, err := exec.Execute(context.Background(), &ExecutionContext{}, node, []any{"x", "y"})
	require.NoError(t, err)
	value := result.Value.(map[string]any)
	assert.Equal(t, []any{"x", "y"}, value["result"])

	result, err = exec.Execute(context.Background(), &ExecutionContext{}, node, "lone")
	require.NoError(t, err)
	value = result.Value.(map[string]any)
	assert.Equal(t, []any{"lone"}, value["result"])
	assert.Equal(t, 1, value["count"])
}
