package nodes

import (
	"context"
	"strings"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// IteratorExecutor fans the incoming items out over its scope body, one
// sub-run per item, and injects the aggregated result as the aggregator
// node's output.
type IteratorExecutor struct{}

func (e *IteratorExecutor) Type() string { return schema.NodeTypeIterator }

func (e *IteratorExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	if ec.RunSubgraph == nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "iterator requires a subgraph runner").WithNode(node.ID)
	}

	body, err := ExtractScopeBody(ec.Graph, node.ID, schema.NodeTypeAggregator)
	if err != nil {
		return nil, err
	}
	bodyGraph := BuildScopeGraph(ec.Graph, node.ID, body)

	items, err := extractItems(ctx, ec, node, input)
	if err != nil {
		return nil, err
	}

	aggNode := ec.Graph.NodeByID(body.ExitID)

	skips := append([]string(nil), body.Nodes...)
	skips = append(skips, body.ExitID)

	if len(items) == 0 {
		return &Result{
			Value:        map[string]any{"count": 0, "items_processed": 0},
			SkipNodes:    skips,
			ExtraOutputs: map[string]any{body.ExitID: aggregate(aggNode, nil)},
		}, nil
	}

	total := len(items)
	outputs := make([]any, 0, total)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "iterator cancelled").WithNode(node.ID).WithCause(err)
		}

		ec.emit(schema.EventNodeIteration, node.ID, map[string]any{
			"node_id": node.ID,
			"index":   i,
			"total":   total,
		})

		sub, err := ec.RunSubgraph(ctx, bodyGraph, map[string]any{
			"input": item,
			"item":  item,
			"index": i,
			"total": total,
		})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "iterator item %d: %s", i, err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		outputs = append(outputs, sub.Output)
	}

	return &Result{
		Value:        map[string]any{"count": total, "items_processed": total},
		SkipNodes:    skips,
		ExtraOutputs: map[string]any{body.ExitID: aggregate(aggNode, outputs)},
	}, nil
}

// extractItems resolves the item list: a Data expression evaluated with jq,
// an incoming "items" handle value, a bare array, or a single value wrapped.
func extractItems(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) ([]any, error) {
	source := input
	if expression := node.String("expression", ""); expression != "" {
		if ec.JQ == nil {
			return nil, schema.NewError(schema.ErrCodeExecutor, "jq engine not available").WithNode(node.ID)
		}
		out, err := ec.JQ.EvaluateValue(ctx, expression, input)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "iterator expression: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		source = out
	} else if m, ok := input.(map[string]any); ok {
		if v, found := m["items"]; found {
			source = v
		}
	}

	switch v := source.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return []any{v}, nil
	}
}

// aggregate combines per-item outputs per the aggregator node's strategy.
func aggregate(aggNode *schema.Node, outputs []any) map[string]any {
	strategy := "array"
	separator := "\n"
	if aggNode != nil {
		strategy = aggNode.String("strategy", strategy)
		separator = aggNode.String("separator", separator)
	}

	count := len(outputs)
	switch strategy {
	case "concat":
		parts := make([]string, 0, count)
		for _, out := range outputs {
			parts = append(parts, expressions.PrimaryText(out))
		}
		return map[string]any{"result": strings.Join(parts, separator), "count": count}

	case "merge":
		merged := make(map[string]any)
		for _, out := range outputs {
			if m, ok := out.(map[string]any); ok {
				for k, v := range m {
					merged[k] = v
				}
			}
		}
		return map[string]any{"result": merged, "count": count}

	default: // array
		if outputs == nil {
			outputs = []any{}
		}
		return map[string]any{"result": outputs, "count": count}
	}
}

// AggregatorExecutor is the pass-through fallback for an aggregator node
// reached outside an iterator scope. Inside a scope its output is injected
// by the iterator and the node itself is skipped.
type AggregatorExecutor struct{}

func (e *AggregatorExecutor) Type() string { return schema.NodeTypeAggregator }

func (e *AggregatorExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	if arr, ok := input.([]any); ok {
		return &Result{Value: aggregate(node, arr)}, nil
	}
	if input == nil {
		return &Result{Value: aggregate(node, nil)}, nil
	}
	return &Result{Value: aggregate(node, []any{input})}, nil
}
