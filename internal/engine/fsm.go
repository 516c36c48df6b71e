package engine

import (
	"context"
	"sync"

	"github.com/rendis/flowgraph/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EmitFunc publishes an event for the current run. The engine wires it to
// the streaming hub.
type EmitFunc func(ctx context.Context, eventType, nodeID string, payload map[string]any)

// --- Run FSM ---

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu     sync.Mutex
	emit   EmitFunc
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that emits events via the given function.
func NewRunFSM(emit EmitFunc) *RunFSM {
	return &RunFSM{
		emit:   emit,
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a run state transition, emitting the
// corresponding workflow event.
func (f *RunFSM) Transition(ctx context.Context, from, to schema.RunStatus, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType := runEventType(to); eventType != "" && f.emit != nil {
		f.emit(ctx, eventType, "", payload)
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusActive:
		return schema.EventWorkflowStarted
	case schema.RunStatusCompleted:
		return schema.EventWorkflowCompleted
	case schema.RunStatusErrored:
		return schema.EventWorkflowErrored
	case schema.RunStatusCancelled:
		return schema.EventWorkflowCancelled
	default:
		return ""
	}
}

// --- Node FSM ---

type nodeHookKey struct {
	from, to schema.NodeStatus
}

// NodeFSM manages node lifecycle state transitions.
type NodeFSM struct {
	mu     sync.Mutex
	emit   EmitFunc
	before map[nodeHookKey][]TransitionHook
	after  map[nodeHookKey][]TransitionHook
}

// NewNodeFSM creates a NodeFSM that emits events via the given function.
func NewNodeFSM(emit EmitFunc) *NodeFSM {
	return &NodeFSM{
		emit:   emit,
		before: make(map[nodeHookKey][]TransitionHook),
		after:  make(map[nodeHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a node transition.
func (f *NodeFSM) OnBefore(from, to schema.NodeStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a node transition.
func (f *NodeFSM) OnAfter(from, to schema.NodeStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a node state transition, emitting the
// corresponding node event.
func (f *NodeFSM) Transition(ctx context.Context, nodeID string, from, to schema.NodeStatus, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidNodeTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).
			WithNode(nodeID).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	key := nodeHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType := nodeEventType(to); eventType != "" && f.emit != nil {
		f.emit(ctx, eventType, nodeID, payload)
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidNodeTransition(from, to schema.NodeStatus) bool {
	allowed, ok := ValidNodeTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusRunning:
		return schema.EventNodeStarted
	case schema.NodeStatusCompleted:
		return schema.EventNodeCompleted
	case schema.NodeStatusErrored:
		return schema.EventNodeErrored
	case schema.NodeStatusSkipped:
		return schema.EventNodeSkipped
	case schema.NodeStatusWaiting:
		return schema.EventNodeWaiting
	default:
		return ""
	}
}

// --- Transition tables ---

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusActive, schema.RunStatusCancelled},
	schema.RunStatusActive:    {schema.RunStatusCompleted, schema.RunStatusErrored, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusErrored:   {},
	schema.RunStatusCancelled: {},
}

// ValidNodeTransitions defines the allowed state transitions for nodes.
// Completed -> Running covers debug reruns.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusIdle:      {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning:   {schema.NodeStatusCompleted, schema.NodeStatusErrored, schema.NodeStatusSkipped, schema.NodeStatusWaiting},
	schema.NodeStatusWaiting:   {schema.NodeStatusRunning, schema.NodeStatusCompleted, schema.NodeStatusErrored},
	schema.NodeStatusCompleted: {schema.NodeStatusRunning},
	schema.NodeStatusErrored:   {},
	schema.NodeStatusSkipped:   {},
}

// isTerminalNode reports whether a node status is final for the run walk.
func isTerminalNode(s schema.NodeStatus) bool {
	return s == schema.NodeStatusCompleted || s == schema.NodeStatusErrored || s == schema.NodeStatusSkipped
}
