package nodes

import (
	"context"

	"github.com/rendis/flowgraph/pkg/schema"
)

// SubworkflowExecutor runs another workflow graph inline. The visited set on
// the execution context guards against re-entering a workflow already on the
// call chain.
type SubworkflowExecutor struct{}

func (e *SubworkflowExecutor) Type() string { return schema.NodeTypeSubworkflow }

func (e *SubworkflowExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	workflowID := node.String("workflowId", node.String("workflow_id", ""))
	if workflowID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "subworkflow requires workflowId").WithNode(node.ID)
	}
	if ec.RunWorkflow == nil || ec.LoadWorkflow == nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "subworkflow runner not available").WithNode(node.ID)
	}

	visited := ec.Visited
	if visited == nil {
		visited = NewVisitedSet()
	}
	if visited.Has(workflowID) {
		return nil, schema.NewErrorf(schema.ErrCodeCircularRef,
			"subworkflow %s is already executing on this call chain", workflowID).WithNode(node.ID)
	}

	graph, err := ec.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "load subworkflow %s: %s", workflowID, err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	if !visited.Enter(workflowID) {
		return nil, schema.NewErrorf(schema.ErrCodeCircularRef,
			"subworkflow %s is already executing on this call chain", workflowID).WithNode(node.ID)
	}
	defer visited.Exit(workflowID)

	result, err := ec.RunWorkflow(ctx, workflowID, graph, map[string]any{"input": input})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "subworkflow %s: %s", workflowID, err.Error()).
			WithNode(node.ID).WithCause(err)
	}
	if result.Status != schema.RunStatusCompleted {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "subworkflow %s ended %s: %s",
			workflowID, result.Status, result.Error).WithNode(node.ID)
	}

	// A single output passes through directly; multiple outputs keep the map.
	// Nested run cost rolls up into the parent total.
	if len(result.Outputs) == 1 {
		for _, v := range result.Outputs {
			return &Result{Value: v, Cost: result.Cost}, nil
		}
	}
	return &Result{Value: result.Outputs, Cost: result.Cost}, nil
}
