package nodes

import (
	"context"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// ErrorHandlerExecutor runs its scope body with retries. A failing body is
// re-run up to retryCount more times after the initial attempt, so
// exhaustion means retryCount+1 total attempts; it then yields the
// configured fallback value instead of failing the run.
type ErrorHandlerExecutor struct{}

func (e *ErrorHandlerExecutor) Type() string { return schema.NodeTypeErrorHandler }

func (e *ErrorHandlerExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	if ec.RunSubgraph == nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "error handler requires a subgraph runner").WithNode(node.ID)
	}

	body, err := ExtractScopeBody(ec.Graph, node.ID, schema.NodeTypeExit)
	if err != nil {
		return nil, err
	}
	bodyGraph := BuildScopeGraph(ec.Graph, node.ID, body)

	retryCount := node.Int("retryCount", 1)
	if retryCount < 0 {
		retryCount = 0
	}
	attempts := retryCount + 1

	var value any
	var lastErr error
	succeeded := false

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "error handler cancelled").WithNode(node.ID).WithCause(err)
		}

		sub, runErr := ec.RunSubgraph(ctx, bodyGraph, map[string]any{"input": input})
		if runErr == nil {
			value = sub.Output
			succeeded = true
			if attempt > 0 {
				// Recovered after at least one failure; mark it.
				value = map[string]any{"value": sub.Output, "had_error": false}
			}
			break
		}
		lastErr = runErr
		ec.logger().WarnContext(ctx, "error handler attempt failed",
			"node_id", node.ID, "attempt", attempt+1, "attempts", attempts, "error", runErr.Error())

		if !IsRetryable(runErr) {
			break
		}
		if attempt < attempts-1 {
			backoff := ComputeBackoff(time.Duration(node.Int("backoffMS", 0))*time.Millisecond, attempt, 0)
			if err := WaitForBackoff(ctx, backoff); err != nil {
				return nil, schema.NewError(schema.ErrCodeCancelled, "error handler cancelled").WithNode(node.ID).WithCause(err)
			}
		}
	}

	if !succeeded {
		fallback := node.Data["fallback"]
		value = map[string]any{"value": fallback, "had_error": true}
		if lastErr != nil {
			if m, ok := value.(map[string]any); ok {
				m["error"] = lastErr.Error()
			}
		}
	}

	skips := append([]string(nil), body.Nodes...)
	skips = append(skips, body.ExitID)

	return &Result{
		Value:        value,
		SkipNodes:    skips,
		ExtraOutputs: map[string]any{body.ExitID: value},
	}, nil
}
