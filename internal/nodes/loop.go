package nodes

import (
	"context"
	"errors"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

const (
	// LoopDefaultMaxIterations is used when maxIterations is absent.
	LoopDefaultMaxIterations = 5
	// LoopMaxIterationsCap bounds maxIterations.
	LoopMaxIterationsCap = 50
	// LoopDefaultStabilityThreshold is the stable_output similarity cutoff.
	LoopDefaultStabilityThreshold = 0.95

	// similarityTruncateLen bounds the Levenshtein inputs.
	similarityTruncateLen = 10000

	loopSeparator      = "\n---\n"
	loopFeedbackPrefix = "\n---\nPrevious attempt:\n"
)

// LoopExecutor runs its scope body repeatedly, feeding each iteration's
// output back as the next iteration's input. The body and the exit node are
// pre-executed here and skipped in the outer run.
type LoopExecutor struct{}

func (e *LoopExecutor) Type() string { return schema.NodeTypeLoop }

func (e *LoopExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	if ec.RunSubgraph == nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "loop requires a subgraph runner").WithNode(node.ID)
	}

	body, err := ExtractScopeBody(ec.Graph, node.ID, schema.NodeTypeExit)
	if err != nil {
		return nil, err
	}
	bodyGraph := BuildScopeGraph(ec.Graph, node.ID, body)

	maxIterations := node.Int("maxIterations", LoopDefaultMaxIterations)
	if maxIterations < 1 {
		maxIterations = 1
	}
	if maxIterations > LoopMaxIterationsCap {
		maxIterations = LoopMaxIterationsCap
	}

	exitCondition := node.String("exitCondition", "max_iterations")
	feedbackMode := node.String("feedbackMode", "replace")
	threshold := node.Float("stabilityThreshold", LoopDefaultStabilityThreshold)

	carried := input
	var lastOutput any
	var prevText string
	exitReason := "max_iterations"
	count := 0

	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "loop cancelled").WithNode(node.ID).WithCause(err)
		}

		ec.emit(schema.EventNodeIteration, node.ID, map[string]any{
			"node_id": node.ID,
			"index":   i,
			"total":   maxIterations,
		})

		sub, err := ec.RunSubgraph(ctx, bodyGraph, map[string]any{"input": carried})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecutor, "loop iteration %d: %s", i, err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		count = i + 1

		out := sub.Output
		if out != nil {
			lastOutput = out
		}

		done := false
		switch exitCondition {
		case "evaluator":
			passed, evalErr := e.evaluate(ctx, ec, node, out, i)
			if evalErr != nil {
				return nil, evalErr
			}
			if passed {
				exitReason = "evaluator"
				done = true
				break
			}
			feedback := lastIntermediate(sub, bodyGraph, out)
			if feedbackMode == "append" {
				carried, err = joinValues(carried, feedback, loopFeedbackPrefix)
				if err != nil {
					return nil, withLoopNode(err, node.ID)
				}
			} else {
				carried = feedback
			}

		case "stable_output":
			text := expressions.PrimaryText(out)
			if i > 0 && textSimilarity(prevText, text) >= threshold {
				exitReason = "stable_output"
				done = true
				break
			}
			prevText = text
			carried, err = advance(carried, out, feedbackMode)
			if err != nil {
				return nil, withLoopNode(err, node.ID)
			}

		default: // max_iterations
			carried, err = advance(carried, out, feedbackMode)
			if err != nil {
				return nil, withLoopNode(err, node.ID)
			}
		}

		if done {
			break
		}
	}

	value := map[string]any{
		"output":      lastOutput,
		"iterations":  count,
		"count":       count,
		"exit_reason": exitReason,
	}

	skips := append([]string(nil), body.Nodes...)
	skips = append(skips, body.ExitID)

	return &Result{
		Value:        value,
		SkipNodes:    skips,
		ExtraOutputs: map[string]any{body.ExitID: lastOutput},
	}, nil
}

// evaluate runs the configured exit condition against the iteration output.
func (e *LoopExecutor) evaluate(ctx context.Context, ec *ExecutionContext, node *schema.Node, out any, iteration int) (bool, error) {
	condition := node.String("condition", "")
	if condition == "" {
		return false, schema.NewError(schema.ErrCodeValidation, "loop evaluator requires a condition").WithNode(node.ID)
	}

	passed, err := ec.evalCondition(ctx, node.String("engine", ""), condition, map[string]any{
		"output":    out,
		"value":     out,
		"text":      expressions.PrimaryText(out),
		"iteration": iteration,
	})
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecutor, "loop evaluator: %s", err.Error()).
			WithNode(node.ID).WithCause(err)
	}
	return passed, nil
}

// advance computes the next iteration's input.
func advance(carried, out any, feedbackMode string) (any, error) {
	if feedbackMode == "append" {
		return joinValues(carried, out, loopSeparator)
	}
	return out, nil
}

// joinValues concatenates the carried value with new output. Append feedback
// is defined on text only; anything else fails the concatenation.
func joinValues(carried, out any, separator string) (any, error) {
	cs, cok := carried.(string)
	os, ook := out.(string)
	if !cok || !ook {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor,
			"append feedback requires text values, got %T and %T", carried, out)
	}
	return cs + separator + os, nil
}

// withLoopNode tags a feedback error with the loop node ID.
func withLoopNode(err error, nodeID string) error {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.WithNode(nodeID)
	}
	return schema.NewError(schema.ErrCodeExecutor, err.Error()).WithNode(nodeID).WithCause(err)
}

// lastIntermediate picks the feedback value for the evaluator path: the last
// non-null body output, routers excluded. Falls back to the iteration output.
func lastIntermediate(sub *SubRunResult, bodyGraph *schema.Graph, out any) any {
	var feedback any
	for _, node := range bodyGraph.Nodes {
		if node.ID == ScopeInputID || node.ID == ScopeOutputID {
			continue
		}
		if node.Type == schema.NodeTypeRouter {
			continue
		}
		if v, ok := sub.NodeOutputs[node.ID]; ok && v != nil {
			feedback = v
		}
	}
	if feedback == nil {
		return out
	}
	return feedback
}

// textSimilarity returns a [0,1] similarity of two strings based on
// Levenshtein distance. Inputs are truncated to bound the cost.
func textSimilarity(a, b string) float64 {
	if len(a) > similarityTruncateLen {
		a = a[:similarityTruncateLen]
	}
	if len(b) > similarityTruncateLen {
		b = b[:similarityTruncateLen]
	}
	if a == b {
		return 1.0
	}

	ra := []rune(a)
	rb := []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1.0
	}

	dist := levenshtein(ra, rb)
	return 1.0 - float64(dist)/float64(longest)
}

// levenshtein computes edit distance with the two-row method.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
