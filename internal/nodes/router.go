package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// RouterExecutor selects one branch of a conditional split. Non-selected
// branches become skip directives for the run loop.
//
// Branch i is wired through the outgoing edge with source handle "branch-{i}".
type RouterExecutor struct {
	// Chat is optional; required only for llm mode.
	Chat ChatCompleter
}

func (e *RouterExecutor) Type() string { return schema.NodeTypeRouter }

type routerBranch struct {
	Name      string
	Condition string
}

func (e *RouterExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	branches, err := parseBranches(node)
	if err != nil {
		return nil, err
	}
	if len(branches) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "router has no branches").WithNode(node.ID)
	}

	mode := node.String("mode", "pattern")

	var selected int
	switch mode {
	case "llm":
		selected, err = e.selectWithModel(ctx, ec, node, branches, input)
	default:
		selected, err = e.selectWithPatterns(ctx, ec, node, branches, input)
	}
	if err != nil {
		return nil, err
	}

	// Every node reached only through a non-selected branch handle gets
	// skipped; the cascade downstream is the run loop's job.
	var skips []string
	for _, edge := range ec.Graph.Edges {
		if edge.Source != node.ID {
			continue
		}
		handle := edge.SourceHandleOf()
		if !strings.HasPrefix(handle, "branch-") {
			continue
		}
		if handle != fmt.Sprintf("branch-%d", selected) {
			skips = append(skips, edge.Target)
		}
	}

	return &Result{
		Value: map[string]any{
			"selectedBranch": branches[selected].Name,
			"value":          input,
		},
		SkipNodes: skips,
	}, nil
}

// selectWithPatterns picks a branch by matching the incoming value's primary
// text. A branch with a condition expression is evaluated against
// {value, text}; otherwise the branch name is matched as a case-insensitive
// substring. Falls back to the first branch.
func (e *RouterExecutor) selectWithPatterns(ctx context.Context, ec *ExecutionContext, node *schema.Node, branches []routerBranch, input any) (int, error) {
	text := expressions.PrimaryText(input)
	lower := strings.ToLower(text)

	for i, branch := range branches {
		if branch.Condition != "" {
			engine := node.String("engine", "")
			matched, err := ec.evalCondition(ctx, engine, branch.Condition, map[string]any{
				"value": input,
				"text":  text,
			})
			if err != nil {
				return 0, schema.NewErrorf(schema.ErrCodeExecutor, "branch %q condition: %s", branch.Name, err.Error()).
					WithNode(node.ID).WithCause(err)
			}
			if matched {
				return i, nil
			}
			continue
		}
		if branch.Name != "" && strings.Contains(lower, strings.ToLower(branch.Name)) {
			return i, nil
		}
	}

	return 0, nil
}

// selectWithModel asks a chat model to pick the branch by name.
func (e *RouterExecutor) selectWithModel(ctx context.Context, ec *ExecutionContext, node *schema.Node, branches []routerBranch, input any) (int, error) {
	if e.Chat == nil {
		return 0, schema.NewError(schema.ErrCodeExecutor, "router llm mode requires a chat client").WithNode(node.ID)
	}

	names := make([]string, len(branches))
	for i, b := range branches {
		names[i] = b.Name
	}

	system := "You are a router. Reply with exactly one of the given branch names and nothing else."
	prompt := fmt.Sprintf("Branches: %s\n\nInput:\n%s\n\nWhich branch best matches the input?",
		strings.Join(names, ", "), expressions.PrimaryText(input))

	reply, err := e.Chat.Complete(ctx, node.String("model", ""), system, prompt)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExecutor, "router llm selection: %s", err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	answer := strings.ToLower(strings.TrimSpace(reply))
	for i, b := range branches {
		if strings.Contains(answer, strings.ToLower(b.Name)) {
			return i, nil
		}
	}
	return 0, nil
}

// parseBranches reads the "branches" list from node data. Entries may be
// plain strings or objects with "name" and optional "condition".
func parseBranches(node *schema.Node) ([]routerBranch, error) {
	raw, ok := node.Data["branches"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "router branches must be a list").WithNode(node.ID)
	}

	branches := make([]routerBranch, 0, len(list))
	for i, entry := range list {
		switch v := entry.(type) {
		case string:
			branches = append(branches, routerBranch{Name: v})
		case map[string]any:
			b := routerBranch{}
			if name, ok := v["name"].(string); ok {
				b.Name = name
			}
			if cond, ok := v["condition"].(string); ok {
				b.Condition = cond
			}
			if b.Name == "" && b.Condition == "" {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "router branch %d has neither name nor condition", i).WithNode(node.ID)
			}
			branches = append(branches, b)
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "router branch %d has unsupported type %T", i, entry).WithNode(node.ID)
		}
	}
	return branches, nil
}
