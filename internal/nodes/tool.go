package nodes

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/flowgraph/pkg/schema"
)

// ToolCaller invokes a named tool with arguments and returns its text
// output. Implemented by MCPToolCaller; tests stub it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// MCPToolCaller calls tools on an MCP server over stdio.
type MCPToolCaller struct {
	client *client.Client
}

// NewMCPToolCaller spawns the MCP server process and initializes the
// session.
func NewMCPToolCaller(ctx context.Context, command string, env []string, args ...string) (*MCPToolCaller, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "start mcp client: %s", err.Error()).WithCause(err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "flowgraph", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "initialize mcp session: %s", err.Error()).WithCause(err)
	}

	return &MCPToolCaller{client: c}, nil
}

// CallTool invokes the tool and concatenates its text content blocks.
func (m *MCPToolCaller) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := m.client.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return "", schema.NewErrorf(schema.ErrCodeExecutor, "tool %s failed: %s", name, text)
	}
	return text, nil
}

// Close shuts the MCP session down.
func (m *MCPToolCaller) Close() error {
	return m.client.Close()
}

// ToolExecutor calls an external tool by name. Arguments come from the node
// data, merged with the incoming value when it is an object.
type ToolExecutor struct {
	Caller ToolCaller
}

func (e *ToolExecutor) Type() string { return schema.NodeTypeTool }

func (e *ToolExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	if e.Caller == nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "tool executor has no client").WithNode(node.ID)
	}

	name := node.String("tool", "")
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "tool node requires a tool name").WithNode(node.ID)
	}

	args := make(map[string]any)
	if m, ok := node.Data["arguments"].(map[string]any); ok {
		for k, v := range m {
			args[k] = v
		}
	}
	switch v := input.(type) {
	case map[string]any:
		for k, val := range v {
			if _, exists := args[k]; !exists {
				args[k] = val
			}
		}
	case nil:
	default:
		if _, exists := args["input"]; !exists {
			args["input"] = v
		}
	}

	text, err := e.Caller.CallTool(ctx, name, args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "call tool %s: %s", name, err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	// Structured results pass through as JSON; plain text stays a string.
	var parsed any
	if json.Unmarshal([]byte(text), &parsed) == nil && text != "" {
		return &Result{Value: map[string]any{"result": parsed}}, nil
	}
	return &Result{Value: map[string]any{"result": text}}, nil
}
