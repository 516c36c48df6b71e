package nodes

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Executor runs a single node of a given type.
type Executor interface {
	Type() string
	Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error)
}

// Result is the outcome of a node execution.
type Result struct {
	// Value is the node's output, stored under the node ID.
	Value any
	// Cost is the metered resource cost of this execution. Zero when the
	// node consumed nothing metered.
	Cost float64
	// SkipNodes names nodes the run loop must mark Skipped. Used by routers
	// and scope executors that pre-execute their bodies.
	SkipNodes []string
	// ExtraOutputs injects outputs for other nodes (e.g. a scope's exit node)
	// so downstream value routing sees them.
	ExtraOutputs map[string]any
}

// CostAccumulator sums node execution costs across a run. Scope bodies and
// iterations add into their parent run's accumulator.
type CostAccumulator struct {
	mu    sync.Mutex
	total float64
}

// Add records the cost of one node execution.
func (c *CostAccumulator) Add(cost float64) {
	if c == nil || cost == 0 {
		return
	}
	c.mu.Lock()
	c.total += cost
	c.mu.Unlock()
}

// Total returns the accumulated cost.
func (c *CostAccumulator) Total() float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// VisitedSet tracks workflow IDs in-flight on a run's call chain. Nodes in
// the same level execute concurrently, so membership is guarded.
type VisitedSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

// NewVisitedSet creates an empty VisitedSet.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{ids: make(map[string]bool)}
}

// Enter marks a workflow ID as in-flight. Returns false when the ID is
// already on the call chain.
func (v *VisitedSet) Enter(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ids[id] {
		return false
	}
	v.ids[id] = true
	return true
}

// Exit removes a workflow ID from the call chain.
func (v *VisitedSet) Exit(id string) {
	v.mu.Lock()
	delete(v.ids, id)
	v.mu.Unlock()
}

// Has reports whether a workflow ID is on the call chain.
func (v *VisitedSet) Has(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ids[id]
}

// SubRunResult is what a scope executor gets back from running a synthetic
// body graph.
type SubRunResult struct {
	// Output is the value captured by the synthetic output node.
	Output any
	// NodeOutputs holds every body node's output keyed by node ID.
	NodeOutputs map[string]any
}

// SubgraphRunner executes a synthetic graph with the given inputs. Scope
// executors call it once per iteration.
type SubgraphRunner func(ctx context.Context, g *schema.Graph, inputs map[string]any) (*SubRunResult, error)

// WorkflowRunner executes a full workflow graph. Used by the subworkflow
// executor; the visited set on the ExecutionContext guards against cycles.
type WorkflowRunner func(ctx context.Context, workflowID string, g *schema.Graph, inputs map[string]any) (*schema.RunResult, error)

// WorkflowLoader resolves a workflow ID to its graph definition.
type WorkflowLoader func(ctx context.Context, workflowID string) (*schema.Graph, error)

// EventEmitter publishes an event for the current run. Best effort; node
// executors never fail on emit errors.
type EventEmitter func(eventType, nodeID string, payload map[string]any)

// ExecutionContext carries the run-scoped dependencies an executor needs.
// The engine builds one per run and shares it across node executions.
type ExecutionContext struct {
	RunID      string
	WorkflowID string

	// Inputs are the run's initial inputs.
	Inputs map[string]any

	// Graph is the graph being executed. Scope executors use it for body
	// extraction; routers scan its edges for branch handles.
	Graph *schema.Graph

	// Outputs returns a snapshot of stored node outputs.
	Outputs func() map[string]any

	Emit         EventEmitter
	RunSubgraph  SubgraphRunner
	RunWorkflow  WorkflowRunner
	LoadWorkflow WorkflowLoader

	// SetWaiting transitions the node to Waiting while it blocks on external
	// input. The engine returns it to a terminal state when the executor
	// finishes.
	SetWaiting func(ctx context.Context, nodeID string, payload map[string]any)

	// Costs accumulates metered costs across the run. Shared into scope
	// bodies so iteration costs roll up.
	Costs *CostAccumulator

	// Visited tracks workflow IDs currently in-flight on this run's call
	// chain. Subworkflow re-entry is a circular reference.
	Visited *VisitedSet

	// Resume delivers external signals to waiting nodes (approval).
	Resume <-chan schema.ResumeSignal

	CEL  *expressions.CELEngine
	Expr *expressions.ExprEngine
	JQ   *expressions.GoJQEngine

	Logger *slog.Logger
}

// setWaiting reports a waiting phase. Falls back to a bare event when the
// engine hook is not wired.
func (ec *ExecutionContext) setWaiting(ctx context.Context, nodeID string, payload map[string]any) {
	if ec.SetWaiting != nil {
		ec.SetWaiting(ctx, nodeID, payload)
		return
	}
	ec.emit(schema.EventNodeWaiting, nodeID, payload)
}

// emit publishes an event if an emitter is wired.
func (ec *ExecutionContext) emit(eventType, nodeID string, payload map[string]any) {
	if ec.Emit != nil {
		ec.Emit(eventType, nodeID, payload)
	}
}

// logger returns the context logger or the default one.
func (ec *ExecutionContext) logger() *slog.Logger {
	if ec.Logger != nil {
		return ec.Logger
	}
	return slog.Default()
}

// evalCondition evaluates a boolean condition with the engine named in the
// node data ("expr" default, "cel" alternate).
func (ec *ExecutionContext) evalCondition(ctx context.Context, engine, expression string, data map[string]any) (bool, error) {
	var (
		result any
		err    error
	)
	switch engine {
	case "cel":
		if ec.CEL == nil {
			return false, schema.NewError(schema.ErrCodeExecutor, "cel engine not available")
		}
		result, err = ec.CEL.Evaluate(ctx, expression, data)
	default:
		if ec.Expr == nil {
			return false, schema.NewError(schema.ErrCodeExecutor, "expr engine not available")
		}
		result, err = ec.Expr.Evaluate(ctx, expression, data)
	}
	if err != nil {
		return false, err
	}

	b, ok := result.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExecutor, "condition must evaluate to bool, got %T", result)
	}
	return b, nil
}
