package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Run is the persisted representation of a workflow run.
type Run struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id,omitempty"`
	Graph       *schema.Graph    `json:"graph,omitempty"`
	Status      schema.RunStatus `json:"status"`
	Inputs      map[string]any   `json:"inputs,omitempty"`
	Outputs     json.RawMessage  `json:"outputs,omitempty"`
	Error       json.RawMessage  `json:"error,omitempty"`
	Ephemeral   bool             `json:"ephemeral,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Event is an immutable entry in the run event log.
type Event struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Source    string          `json:"source,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// NodeState is the materialized view of a node's state within a run,
// reconstructed by replaying the run's events.
type NodeState struct {
	RunID       string            `json:"run_id"`
	NodeID      string            `json:"node_id"`
	Status      schema.NodeStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	Iterations  int               `json:"iterations,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// ScheduledJob is a cron-triggered workflow execution.
type ScheduledJob struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	CronExpression string          `json:"cron_expression"`
	Graph          *schema.Graph   `json:"graph"`
	Inputs         json.RawMessage `json:"inputs,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status     *schema.RunStatus `json:"status,omitempty"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Since      *time.Time        `json:"since,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Outputs     json.RawMessage   `json:"outputs,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID  string     `json:"run_id,omitempty"`
	NodeID string     `json:"node_id,omitempty"`
	Type   string     `json:"event_type,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
