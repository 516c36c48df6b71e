package nodes

import (
	"context"

	"github.com/rendis/flowgraph/pkg/schema"
)

// TransformExecutor applies a jq program from the node data to the incoming
// value.
type TransformExecutor struct{}

func (e *TransformExecutor) Type() string { return schema.NodeTypeTransform }

func (e *TransformExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	expression := node.String("expression", "")
	if expression == "" {
		// Identity transform.
		return &Result{Value: input}, nil
	}

	if ec.JQ == nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "jq engine not available").WithNode(node.ID)
	}

	out, err := ec.JQ.EvaluateValue(ctx, expression, input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "transform failed: %s", err.Error()).
			WithNode(node.ID).WithCause(err)
	}
	return &Result{Value: out}, nil
}
