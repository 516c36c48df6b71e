package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/nodes"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/pkg/schema"
)

// EventPublisher is satisfied by the streaming hub.
type EventPublisher interface {
	Publish(ctx context.Context, event schema.Event) error
}

// GateAction tells the engine what to do with a node at a gate check.
type GateAction int

const (
	// GateRun executes the node normally.
	GateRun GateAction = iota
	// GateSkip marks the node Skipped without executing it.
	GateSkip
	// GateInject bypasses execution: the node never starts and the gate's
	// value is recorded as its output.
	GateInject
	// GateStop cancels the run.
	GateStop
)

// Gate is consulted at node boundaries. The debug controller implements it;
// a nil gate runs every node unchecked.
type Gate interface {
	// BeforeNode may pause, replace the incoming value, skip the node,
	// inject an output without executing, or stop the run.
	BeforeNode(ctx context.Context, nodeID string, input any) (GateAction, any, error)
	// AfterNode may replace the output before dependents see it, or request
	// a re-execution of the node.
	AfterNode(ctx context.Context, nodeID string, output any) (any, bool, error)
}

// ScopeObserver is an optional Gate extension notified when execution
// enters and leaves a scope body. Debug sessions use it for step_out.
type ScopeObserver interface {
	EnterScope()
	ExitScope()
}

// Config holds engine configuration.
type Config struct {
	// Concurrency bounds parallel node execution within a level.
	Concurrency int
	// NodeTimeout applies per node execution; zero means no timeout.
	NodeTimeout time.Duration
}

// RunOptions tune a single run.
type RunOptions struct {
	// RunID overrides the generated run ID.
	RunID string
	// Ephemeral skips run-record persistence; events still flow.
	Ephemeral bool
	// Gate is consulted at node boundaries (debug sessions).
	Gate Gate
}

// Engine executes workflow graphs.
type Engine struct {
	registry *nodes.Registry
	hub      EventPublisher
	store    store.Store
	loader   nodes.WorkflowLoader
	config   Config
	logger   *slog.Logger

	cel      *expressions.CELEngine
	expr     *expressions.ExprEngine
	jq       *expressions.GoJQEngine
	resolver *expressions.Resolver

	pool *WorkerPool

	mu   sync.Mutex
	runs map[string]*runState
}

// Option configures the Engine.
type Option func(*Engine)

// WithStore wires run persistence.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithWorkflowLoader wires subworkflow resolution.
func WithWorkflowLoader(l nodes.WorkflowLoader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. hub may be nil for silent execution.
func New(registry *nodes.Registry, hub EventPublisher, cfg Config, opts ...Option) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	// CEL is optional; executors check nil before use.
	celEngine, _ := expressions.NewCELEngine()

	e := &Engine{
		registry: registry,
		hub:      hub,
		config:   cfg,
		logger:   slog.Default(),
		cel:      celEngine,
		expr:     expressions.NewExprEngine(),
		jq:       expressions.NewGoJQEngine(),
		resolver: expressions.NewResolver(),
		pool:     NewWorkerPool(cfg.Concurrency),
		runs:     make(map[string]*runState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState tracks a single in-flight run.
type runState struct {
	runID      string
	workflowID string
	dag        *DAG
	graph      *schema.Graph
	inputs     map[string]any
	gate       Gate

	cancel  context.CancelFunc
	resume  chan schema.ResumeSignal
	visited *nodes.VisitedSet
	costs   *nodes.CostAccumulator

	runFSM  *RunFSM
	nodeFSM *NodeFSM

	// quiet suppresses node events; scope bodies run quiet, their owning
	// executor reports iteration progress instead.
	quiet bool

	mu       sync.Mutex
	outputs  map[string]any
	statuses map[string]schema.NodeStatus
	skip     map[string]bool
}

func newRunState(runID, workflowID string, dag *DAG, g *schema.Graph, inputs map[string]any) *runState {
	rs := &runState{
		runID:      runID,
		workflowID: workflowID,
		dag:        dag,
		graph:      g,
		inputs:     inputs,
		resume:     make(chan schema.ResumeSignal, 16),
		visited:    nodes.NewVisitedSet(),
		costs:      &nodes.CostAccumulator{},
		outputs:    make(map[string]any),
		statuses:   make(map[string]schema.NodeStatus, len(dag.Nodes)),
		skip:       make(map[string]bool),
	}
	for id := range dag.Nodes {
		rs.statuses[id] = schema.NodeStatusIdle
	}
	return rs
}

func (rs *runState) status(nodeID string) schema.NodeStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.statuses[nodeID]
}

func (rs *runState) setStatus(nodeID string, s schema.NodeStatus) {
	rs.mu.Lock()
	rs.statuses[nodeID] = s
	rs.mu.Unlock()
}

func (rs *runState) output(nodeID string) (any, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	v, ok := rs.outputs[nodeID]
	return v, ok
}

func (rs *runState) setOutput(nodeID string, v any) {
	rs.mu.Lock()
	rs.outputs[nodeID] = v
	rs.mu.Unlock()
}

func (rs *runState) outputsSnapshot() map[string]any {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	snap := make(map[string]any, len(rs.outputs))
	for k, v := range rs.outputs {
		snap[k] = v
	}
	return snap
}

// Run executes a graph to completion. Setup failures (invalid graph) return
// an error; execution failures are reported in the result.
func (e *Engine) Run(ctx context.Context, workflowID string, g *schema.Graph, inputs map[string]any) (*schema.RunResult, error) {
	return e.RunWithOptions(ctx, workflowID, g, inputs, RunOptions{})
}

// RunWithOptions executes a graph with run-level options.
func (e *Engine) RunWithOptions(ctx context.Context, workflowID string, g *schema.Graph, inputs map[string]any, opts RunOptions) (*schema.RunResult, error) {
	return e.run(ctx, workflowID, g, inputs, opts, nil)
}

func (e *Engine) run(ctx context.Context, workflowID string, g *schema.Graph, inputs map[string]any, opts RunOptions, visited *nodes.VisitedSet) (*schema.RunResult, error) {
	dag, err := ParseDAG(g)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	if inputs == nil {
		inputs = map[string]any{}
	}

	rs := newRunState(runID, workflowID, dag, g, inputs)
	rs.gate = opts.Gate
	e.attachFSMs(rs)
	if visited != nil {
		rs.visited = visited
	}
	if workflowID != "" && rs.visited.Enter(workflowID) {
		defer rs.visited.Exit(workflowID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rs.cancel = cancel
	runCtx = logging.WithIDs(runCtx, runID, "", workflowID)

	e.mu.Lock()
	e.runs[runID] = rs
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.runs, runID)
		e.mu.Unlock()
	}()

	if !opts.Ephemeral {
		e.persistRunStart(runCtx, rs)
	}

	e.transitionRun(runCtx, rs, schema.RunStatusPending, schema.RunStatusActive, map[string]any{
		"workflow_id": workflowID,
		"inputs":      inputs,
	})

	walkErr := e.walk(runCtx, rs, true)

	result := &schema.RunResult{
		RunID:       runID,
		NodeOutputs: rs.outputsSnapshot(),
		Cost:        rs.costs.Total(),
	}

	switch {
	case walkErr == nil && runCtx.Err() == nil:
		result.Status = schema.RunStatusCompleted
		result.Outputs = e.collectOutputs(rs)
		e.transitionRun(runCtx, rs, schema.RunStatusActive, schema.RunStatusCompleted, map[string]any{
			"workflow_id": workflowID,
			"outputs":     result.Outputs,
		})

	case errors.Is(walkErr, context.Canceled) || errors.Is(runCtx.Err(), context.Canceled):
		result.Status = schema.RunStatusCancelled
		result.Error = "run cancelled"
		e.transitionRun(runCtx, rs, schema.RunStatusActive, schema.RunStatusCancelled, map[string]any{
			"workflow_id": workflowID,
		})

	default:
		result.Status = schema.RunStatusErrored
		result.Error = walkErr.Error()
		e.transitionRun(runCtx, rs, schema.RunStatusActive, schema.RunStatusErrored, map[string]any{
			"workflow_id": workflowID,
			"error":       walkErr.Error(),
		})
	}

	if !opts.Ephemeral {
		e.persistRunEnd(rs, result)
	}

	return result, nil
}

// Cancel aborts a running workflow.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	rs, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s not active", runID)
	}
	rs.cancel()
	return nil
}

// Resume delivers an external signal (approval) to a waiting run.
func (e *Engine) Resume(ctx context.Context, signal schema.ResumeSignal) error {
	e.mu.Lock()
	rs, ok := e.runs[signal.RunID]
	e.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s not active", signal.RunID)
	}
	select {
	case rs.resume <- signal:
		return nil
	default:
		return schema.NewError(schema.ErrCodeConflict, "resume channel full")
	}
}

// attachFSMs wires the run and node state machines to the event stream.
// Quiet runs (scope bodies) keep transition validation but stay silent.
func (e *Engine) attachFSMs(rs *runState) {
	emit := func(ctx context.Context, eventType, nodeID string, payload map[string]any) {
		if rs.quiet {
			return
		}
		e.publish(ctx, rs, eventType, nodeID, payload)
	}
	rs.runFSM = NewRunFSM(emit)
	rs.nodeFSM = NewNodeFSM(emit)
}

func (e *Engine) transitionRun(ctx context.Context, rs *runState, from, to schema.RunStatus, payload map[string]any) {
	if err := rs.runFSM.Transition(ctx, from, to, payload); err != nil {
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "run transition rejected",
			"run_id", rs.runID, "from", string(from), "to", string(to), "error", err.Error())
	}
}

func (e *Engine) transitionNode(ctx context.Context, rs *runState, nodeID string, to schema.NodeStatus, payload map[string]any) {
	from := rs.status(nodeID)
	if err := rs.nodeFSM.Transition(ctx, nodeID, from, to, payload); err != nil {
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "node transition rejected",
			"node_id", nodeID, "from", string(from), "to", string(to), "error", err.Error())
		return
	}
	rs.setStatus(nodeID, to)
}

// --- Level walker ---

type nodeExecError struct {
	nodeID string
	err    error
}

// walk executes the DAG level by level. The top-level run dispatches levels
// through the worker pool; scope bodies run inline to avoid pool recursion.
func (e *Engine) walk(ctx context.Context, rs *runState, usePool bool) error {
	var finalErr error

	for _, level := range rs.dag.Levels {
		if ctx.Err() != nil {
			break
		}

		var wg sync.WaitGroup
		errCh := make(chan nodeExecError, len(level))

		for _, nodeID := range level {
			if isTerminalNode(rs.status(nodeID)) {
				continue
			}
			if e.shouldSkip(rs, nodeID) {
				e.markSkipped(ctx, rs, nodeID)
				continue
			}

			if !usePool || len(level) == 1 {
				if err := e.executeNode(ctx, rs, nodeID); err != nil {
					errCh <- nodeExecError{nodeID: nodeID, err: err}
				}
				continue
			}

			wg.Add(1)
			id := nodeID
			submitErr := e.pool.Submit(ctx, func(nodeCtx context.Context) error {
				defer wg.Done()
				if err := e.executeNode(nodeCtx, rs, id); err != nil {
					errCh <- nodeExecError{nodeID: id, err: err}
				}
				return nil
			})
			if submitErr != nil {
				wg.Done()
				errCh <- nodeExecError{nodeID: id, err: submitErr}
			}
		}

		wg.Wait()
		close(errCh)

		for ne := range errCh {
			if finalErr == nil {
				finalErr = ne.err
			}
		}
		if finalErr != nil {
			return finalErr
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return finalErr
}

// shouldSkip applies skip directives and the all-predecessors-skipped rule.
// A skipped predecessor with an injected output (a scope exit) still feeds
// its dependents.
func (e *Engine) shouldSkip(rs *runState, nodeID string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.skip[nodeID] {
		return true
	}

	preds := rs.dag.Reverse[nodeID]
	if len(preds) == 0 {
		return false
	}
	for _, pred := range preds {
		if rs.statuses[pred] != schema.NodeStatusSkipped {
			return false
		}
		if _, hasOutput := rs.outputs[pred]; hasOutput {
			return false
		}
	}
	return true
}

func (e *Engine) markSkipped(ctx context.Context, rs *runState, nodeID string) {
	e.transitionNode(ctx, rs, nodeID, schema.NodeStatusSkipped, map[string]any{"node_id": nodeID})
}

// executeNode runs one node: gate checks, incoming value, template
// resolution, execution, result application.
func (e *Engine) executeNode(ctx context.Context, rs *runState, nodeID string) error {
	node := rs.dag.Nodes[nodeID]
	nodeCtx := logging.WithNodeID(ctx, nodeID)

	input := e.buildIncoming(rs, nodeID)

	if rs.gate != nil {
		action, gated, err := rs.gate.BeforeNode(nodeCtx, nodeID, input)
		if err != nil {
			return err
		}
		switch action {
		case GateSkip:
			e.markSkipped(nodeCtx, rs, nodeID)
			return nil
		case GateInject:
			e.applyResult(rs, nodeID, &nodes.Result{Value: gated})
			e.transitionNode(nodeCtx, rs, nodeID, schema.NodeStatusSkipped, map[string]any{
				"node_id": nodeID,
				"output":  gated,
			})
			return nil
		case GateStop:
			rs.cancel()
			return schema.NewError(schema.ErrCodeCancelled, "run stopped").WithNode(nodeID)
		}
		input = gated
	}

	execNode := e.resolveNode(nodeCtx, rs, node)

	executor, err := e.registry.Get(node.Type)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node %s: %s", nodeID, err.Error()).WithNode(nodeID)
	}

	e.transitionNode(nodeCtx, rs, nodeID, schema.NodeStatusRunning, map[string]any{
		"node_id": nodeID,
		"type":    node.Type,
	})
	started := time.Now().UTC()

	execCtx := nodeCtx
	if e.config.NodeTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(nodeCtx, e.config.NodeTimeout)
		defer cancel()
	}

	ec := e.executionContext(rs)

	result, execErr := executor.Execute(execCtx, ec, execNode, input)
	if execErr == nil && rs.gate != nil {
		for {
			edited, rerun, gateErr := rs.gate.AfterNode(nodeCtx, nodeID, result.Value)
			if gateErr != nil {
				execErr = gateErr
				break
			}
			if !rerun {
				result.Value = edited
				break
			}
			result, execErr = executor.Execute(execCtx, ec, execNode, input)
			if execErr != nil {
				break
			}
		}
	}

	if execCtx.Err() == context.DeadlineExceeded &&
		(execErr == nil || errors.Is(execErr, context.DeadlineExceeded)) {
		execErr = schema.NewErrorf(schema.ErrCodeTimeout, "node %s timed out", nodeID).WithNode(nodeID)
	}

	if execErr != nil {
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		e.transitionNode(nodeCtx, rs, nodeID, schema.NodeStatusErrored, map[string]any{
			"node_id": nodeID,
			"error":   execErr.Error(),
		})
		var flowErr *schema.FlowError
		if errors.As(execErr, &flowErr) {
			return flowErr
		}
		return schema.NewErrorf(schema.ErrCodeExecutor, "node %s: %s", nodeID, execErr.Error()).
			WithNode(nodeID).WithCause(execErr)
	}

	e.applyResult(rs, nodeID, result)
	rs.costs.Add(result.Cost)

	e.transitionNode(nodeCtx, rs, nodeID, schema.NodeStatusCompleted, map[string]any{
		"node_id":     nodeID,
		"output":      result.Value,
		"cost":        result.Cost,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return nil
}

// applyResult stores the node output plus any skip directives and injected
// outputs from scope executors.
func (e *Engine) applyResult(rs *runState, nodeID string, result *nodes.Result) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.outputs[nodeID] = result.Value
	for _, id := range result.SkipNodes {
		rs.skip[id] = true
	}
	for id, v := range result.ExtraOutputs {
		rs.outputs[id] = v
	}
}

// resolveNode resolves template references in the node data against stored
// outputs and run inputs.
func (e *Engine) resolveNode(ctx context.Context, rs *runState, node *schema.Node) *schema.Node {
	if len(node.Data) == 0 {
		return node
	}

	scope := &expressions.TemplateScope{
		Outputs: rs.outputsSnapshot(),
		Inputs:  rs.inputs,
	}
	resolved, warnings := e.resolver.ResolveData(node.Data, scope)
	for _, w := range warnings {
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "unresolved template reference",
			"node_id", node.ID, "reference", w)
	}

	return &schema.Node{ID: node.ID, Type: node.Type, Data: resolved}
}

// buildIncoming assembles the node's input from inbound edges. Sources
// without a stored output contribute nothing. A single contribution on the
// default handle passes through directly; otherwise contributions build an
// object keyed by target handle.
func (e *Engine) buildIncoming(rs *runState, nodeID string) any {
	edges := rs.dag.InEdges[nodeID]
	if len(edges) == 0 {
		return nil
	}

	type contribution struct {
		handle string
		value  any
	}
	var contribs []contribution

	rs.mu.Lock()
	for _, edge := range edges {
		srcOut, ok := rs.outputs[edge.Source]
		if !ok {
			continue
		}
		contribs = append(contribs, contribution{
			handle: edge.TargetHandleOf(),
			value:  resolveSourceHandle(srcOut, edge.SourceHandleOf()),
		})
	}
	rs.mu.Unlock()

	if len(contribs) == 0 {
		return nil
	}
	if len(contribs) == 1 && contribs[0].handle == schema.DefaultTargetHandle {
		return contribs[0].value
	}

	incoming := make(map[string]any, len(contribs))
	for _, c := range contribs {
		incoming[c.handle] = c.value
	}
	return incoming
}

// resolveSourceHandle picks the routed value for an edge: the default handle
// routes the whole output; a named handle routes that field of an object
// output, falling back to the whole value.
func resolveSourceHandle(output any, handle string) any {
	if handle == schema.DefaultSourceHandle || handle == "" {
		return output
	}
	if m, ok := output.(map[string]any); ok {
		if v, found := m[handle]; found {
			return v
		}
	}
	return output
}

// collectOutputs gathers completed output-node values keyed by name.
func (e *Engine) collectOutputs(rs *runState) map[string]any {
	outputs := make(map[string]any)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for id, node := range rs.dag.Nodes {
		if node.Type != schema.NodeTypeOutput {
			continue
		}
		if rs.statuses[id] != schema.NodeStatusCompleted {
			continue
		}
		name := node.String("name", id)
		outputs[name] = rs.outputs[id]
	}
	return outputs
}

// --- Execution context wiring ---

// executionContext builds the shared context node executors receive.
func (e *Engine) executionContext(rs *runState) *nodes.ExecutionContext {
	return &nodes.ExecutionContext{
		RunID:      rs.runID,
		WorkflowID: rs.workflowID,
		Inputs:     rs.inputs,
		Graph:      rs.graph,
		Outputs:    rs.outputsSnapshot,
		Emit: func(eventType, nodeID string, payload map[string]any) {
			e.publish(context.Background(), rs, eventType, nodeID, payload)
		},
		SetWaiting: func(ctx context.Context, nodeID string, payload map[string]any) {
			e.transitionNode(ctx, rs, nodeID, schema.NodeStatusWaiting, payload)
		},
		Costs:        rs.costs,
		RunSubgraph:  e.subgraphRunner(rs),
		RunWorkflow:  e.workflowRunner(rs),
		LoadWorkflow: e.loader,
		Visited:      rs.visited,
		Resume:       rs.resume,
		CEL:          e.cel,
		Expr:         e.expr,
		JQ:           e.jq,
		Logger:       e.logger,
	}
}

// subgraphRunner executes synthetic scope bodies inline, without node
// events and without persistence. The parent's gate still sees body nodes,
// so breakpoints and stepping work inside scopes.
func (e *Engine) subgraphRunner(parent *runState) nodes.SubgraphRunner {
	return func(ctx context.Context, g *schema.Graph, inputs map[string]any) (*nodes.SubRunResult, error) {
		dag, err := ParseDAG(g)
		if err != nil {
			return nil, err
		}

		rs := newRunState(parent.runID, parent.workflowID, dag, g, inputs)
		rs.gate = parent.gate
		rs.quiet = true
		e.attachFSMs(rs)
		rs.resume = parent.resume
		rs.visited = parent.visited
		rs.costs = parent.costs
		rs.cancel = parent.cancel

		if obs, ok := parent.gate.(ScopeObserver); ok {
			obs.EnterScope()
			defer obs.ExitScope()
		}

		if err := e.walk(ctx, rs, false); err != nil {
			return nil, err
		}

		output, _ := rs.output(nodes.ScopeOutputID)
		return &nodes.SubRunResult{
			Output:      output,
			NodeOutputs: rs.outputsSnapshot(),
		}, nil
	}
}

// workflowRunner executes nested workflows for the subworkflow executor,
// sharing the parent's visited set for cycle detection.
func (e *Engine) workflowRunner(parent *runState) nodes.WorkflowRunner {
	return func(ctx context.Context, workflowID string, g *schema.Graph, inputs map[string]any) (*schema.RunResult, error) {
		return e.run(ctx, workflowID, g, inputs, RunOptions{Ephemeral: true}, parent.visited)
	}
}

// --- Events & persistence ---

// publish sends an event to the hub. Sequence assignment happens in the
// store subscriber; here the envelope carries identity and payload.
func (e *Engine) publish(ctx context.Context, rs *runState, eventType, nodeID string, payload map[string]any) {
	if e.hub == nil {
		return
	}
	if nodeID != "" {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["node_id"] = nodeID
	}
	event := schema.Event{
		EventID:   uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     rs.runID,
		Source:    "engine",
		Payload:   payload,
	}
	if err := e.hub.Publish(ctx, event); err != nil {
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "event publish failed",
			"event_type", eventType, "error", err.Error())
	}
}

func (e *Engine) persistRunStart(ctx context.Context, rs *runState) {
	if e.store == nil {
		return
	}
	now := time.Now().UTC()
	run := &store.Run{
		ID:         rs.runID,
		WorkflowID: rs.workflowID,
		Graph:      rs.graph,
		Status:     schema.RunStatusActive,
		Inputs:     rs.inputs,
		CreatedAt:  now,
		StartedAt:  &now,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		e.logger.WarnContext(ctx, "persist run start failed", "run_id", rs.runID, "error", err.Error())
	}
}

func (e *Engine) persistRunEnd(rs *runState, result *schema.RunResult) {
	if e.store == nil {
		return
	}
	// Original context may be cancelled by now.
	ctx := context.Background()
	now := time.Now().UTC()
	status := result.Status
	update := store.RunUpdate{
		Status:      &status,
		CompletedAt: &now,
	}
	if result.Outputs != nil {
		if raw, err := json.Marshal(result.Outputs); err == nil {
			update.Outputs = raw
		}
	}
	if result.Error != "" {
		if raw, err := json.Marshal(result.Error); err == nil {
			update.Error = raw
		}
	}
	if err := e.store.UpdateRun(ctx, rs.runID, update); err != nil {
		e.logger.Warn("persist run end failed", "run_id", rs.runID, "error", err.Error())
	}
}

// Shutdown stops the worker pool.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}
