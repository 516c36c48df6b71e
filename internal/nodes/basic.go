package nodes

import (
	"context"

	"github.com/rendis/flowgraph/pkg/schema"
)

// InputExecutor surfaces a named run input as the node's output.
type InputExecutor struct{}

func (e *InputExecutor) Type() string { return schema.NodeTypeInput }

func (e *InputExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	if name := node.String("name", ""); name != "" {
		if v, ok := ec.Inputs[name]; ok {
			return &Result{Value: v}, nil
		}
	}
	if v, ok := ec.Inputs[node.ID]; ok {
		return &Result{Value: v}, nil
	}
	if v, ok := ec.Inputs["input"]; ok {
		return &Result{Value: v}, nil
	}
	// Fall back to a default value baked into the node.
	if v, ok := node.Data["value"]; ok {
		return &Result{Value: v}, nil
	}
	return &Result{Value: input}, nil
}

// OutputExecutor records a workflow output. The run loop collects output
// node values into the final result keyed by the node's name.
type OutputExecutor struct{}

func (e *OutputExecutor) Type() string { return schema.NodeTypeOutput }

func (e *OutputExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	return &Result{Value: input}, nil
}

// ExitExecutor terminates a scope. Its value is normally injected by the
// owning scope executor; when reached directly it passes the input through.
type ExitExecutor struct{}

func (e *ExitExecutor) Type() string { return schema.NodeTypeExit }

func (e *ExitExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	return &Result{Value: input}, nil
}
