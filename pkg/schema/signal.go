package schema

// DebugCommandType enumerates the commands a debug session accepts.
type DebugCommandType string

const (
	DebugContinue   DebugCommandType = "continue"
	DebugStep       DebugCommandType = "step"
	DebugStepOut    DebugCommandType = "step_out"
	DebugEditInput  DebugCommandType = "edit_input"
	DebugEditOutput DebugCommandType = "edit_output"
	DebugSkip       DebugCommandType = "skip"
	DebugRerun      DebugCommandType = "rerun"
	DebugStop       DebugCommandType = "stop"
)

// DebugCommand is a client-initiated instruction to a paused debug session.
type DebugCommand struct {
	Type   DebugCommandType `json:"type"`
	NodeID string           `json:"node_id,omitempty"`
	Value  any              `json:"value,omitempty"`
}

// ResumeSignal delivers a value to a node waiting on external input, such as
// an approval node.
type ResumeSignal struct {
	RunID   string `json:"run_id"`
	NodeID  string `json:"node_id"`
	Payload any    `json:"payload,omitempty"`
}

// StartLiveRequest configures repeated execution of a workflow.
type StartLiveRequest struct {
	WorkflowID    string         `json:"workflow_id"`
	Graph         *Graph         `json:"graph"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	IntervalMS    int            `json:"interval_ms,omitempty"`
	MaxIterations int            `json:"max_iterations,omitempty"`
	ErrorPolicy   string         `json:"error_policy,omitempty"`
}

// Live mode defaults and stop reasons.
const (
	LiveDefaultIntervalMS    = 5000
	LiveDefaultMaxIterations = 1000
	LiveErrorPolicySkip      = "skip"
	LiveErrorPolicyStop      = "stop"

	LiveStopUserStopped       = "user_stopped"
	LiveStopMaxIterations     = "max_iterations"
	LiveStopErrorPolicy       = "error_policy_stop"
	LiveStopConsecutiveErrors = "consecutive_errors"
)
