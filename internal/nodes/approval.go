package nodes

import (
	"context"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// ApprovalExecutor pauses the run until an external resume signal arrives
// for this node. The node reports Waiting while blocked.
type ApprovalExecutor struct{}

func (e *ApprovalExecutor) Type() string { return schema.NodeTypeApproval }

func (e *ApprovalExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	if ec.Resume == nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "approval requires a resume channel").WithNode(node.ID)
	}

	ec.setWaiting(ctx, node.ID, map[string]any{
		"node_id": node.ID,
		"message": node.String("message", ""),
	})

	var timeout <-chan time.Time
	if ms := node.Int("timeoutMS", 0); ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case signal, ok := <-ec.Resume:
			if !ok {
				return nil, schema.NewError(schema.ErrCodeCancelled, "resume channel closed").WithNode(node.ID)
			}
			if signal.NodeID != "" && signal.NodeID != node.ID {
				continue
			}
			return &Result{Value: unwrapResume(signal.Payload, input)}, nil

		case <-timeout:
			return nil, schema.NewError(schema.ErrCodeTimeout, "approval timed out").WithNode(node.ID)

		case <-ctx.Done():
			return nil, schema.NewError(schema.ErrCodeCancelled, "approval cancelled").WithNode(node.ID).WithCause(ctx.Err())
		}
	}
}

// unwrapResume extracts the resume value: "input" field first, then "data",
// then the whole payload. A nil payload passes the node input through.
func unwrapResume(payload any, input any) any {
	if payload == nil {
		return input
	}
	if m, ok := payload.(map[string]any); ok {
		if v, found := m["input"]; found {
			return v
		}
		if v, found := m["data"]; found {
			return v
		}
	}
	return payload
}
