package schema

import "encoding/json"

// Graph is the JSON-serializable workflow format: typed nodes connected by
// directed, handle-labelled edges.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single workflow node. Data carries the node-type-specific
// configuration and is interpreted by the matching executor.
type Node struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Edge connects a source node's output handle to a target node's input
// handle. Empty handles default to "output" and "input".
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Node type names understood by the built-in executor registry.
const (
	NodeTypeInput        = "input"
	NodeTypeOutput       = "output"
	NodeTypeTransform    = "transform"
	NodeTypeRouter       = "router"
	NodeTypeLoop         = "loop"
	NodeTypeIterator     = "iterator"
	NodeTypeAggregator   = "aggregator"
	NodeTypeExit         = "exit"
	NodeTypeErrorHandler = "error_handler"
	NodeTypeApproval     = "approval"
	NodeTypeSubworkflow  = "subworkflow"
	NodeTypeLLM          = "llm"
	NodeTypeTool         = "tool"
	NodeTypeHTTP         = "http"
	NodeTypeValidate     = "validate"
	NodeTypeFileRead     = "file_read"
	NodeTypeFileWrite    = "file_write"
	NodeTypeFileGlob     = "file_glob"
	NodeTypeShell        = "shell_exec"
)

// DefaultSourceHandle and DefaultTargetHandle are substituted when an edge
// leaves its handles empty.
const (
	DefaultSourceHandle = "output"
	DefaultTargetHandle = "input"
)

// RunResult is the outcome of a completed workflow run. Cost is the sum of
// the per-node costs of every execution on the run, scope iterations
// included.
type RunResult struct {
	RunID       string         `json:"run_id"`
	Status      RunStatus      `json:"status"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	NodeOutputs map[string]any `json:"node_outputs,omitempty"`
	Cost        float64        `json:"cost,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ParseGraph decodes a graph from JSON.
func ParseGraph(raw []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, NewError(ErrCodeValidation, "invalid graph JSON").WithCause(err)
	}
	return &g, nil
}

// SourceHandleOf returns the edge's source handle with the default applied.
func (e Edge) SourceHandleOf() string {
	if e.SourceHandle == "" {
		return DefaultSourceHandle
	}
	return e.SourceHandle
}

// TargetHandleOf returns the edge's target handle with the default applied.
func (e Edge) TargetHandleOf() string {
	if e.TargetHandle == "" {
		return DefaultTargetHandle
	}
	return e.TargetHandle
}

// NodeByID returns the node with the given ID, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// String returns a Data field as a string, with a fallback when absent or of
// a different type.
func (n *Node) String(key, fallback string) string {
	if v, ok := n.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// Int returns a Data field as an int. JSON numbers decode as float64, so
// both are accepted.
func (n *Node) Int(key string, fallback int) int {
	switch v := n.Data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// Float returns a Data field as a float64.
func (n *Node) Float(key string, fallback float64) float64 {
	switch v := n.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

// Bool returns a Data field as a bool.
func (n *Node) Bool(key string, fallback bool) bool {
	if v, ok := n.Data[key].(bool); ok {
		return v
	}
	return fallback
}
