package schema

import "time"

// Event type constants for the run event stream.
const (
	EventWorkflowStarted   = "workflow.started"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowErrored   = "workflow.errored"
	EventWorkflowCancelled = "workflow.cancelled"

	EventNodeStarted   = "workflow.node.started"
	EventNodeCompleted = "workflow.node.completed"
	EventNodeErrored   = "workflow.node.errored"
	EventNodeSkipped   = "workflow.node.skipped"
	EventNodeWaiting   = "workflow.node.waiting"
	EventNodeIteration = "workflow.node.iteration"

	EventDebugPaused        = "debug.paused"
	EventDebugNodeCompleted = "debug.node_completed"
	EventDebugStopped       = "debug.stopped"

	EventLiveStarted            = "live.started"
	EventLiveIterationCompleted = "live.iteration.completed"
	EventLiveIterationError     = "live.iteration.error"
	EventLiveStopped            = "live.stopped"
)

// Event is the envelope every emitted event travels in. Seq is strictly
// increasing within a run; it is assigned by the event log, not the emitter.
type Event struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"ts"`
	RunID     string         `json:"run_id"`
	Source    string         `json:"source,omitempty"`
	Seq       int64          `json:"seq"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusErrored   RunStatus = "errored"
	RunStatusCancelled RunStatus = "cancelled"
)

// NodeStatus represents the lifecycle state of a node within a run.
type NodeStatus string

const (
	NodeStatusIdle      NodeStatus = "idle"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusErrored   NodeStatus = "errored"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusWaiting   NodeStatus = "waiting"
)
