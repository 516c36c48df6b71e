package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/pkg/schema"
)

// maxConsecutiveErrors stops a live loop regardless of error policy.
const maxConsecutiveErrors = 5

// pollInterval is the granularity at which a sleeping loop notices a stop.
const pollInterval = 100 * time.Millisecond

// Runner executes one workflow run. *engine.Engine satisfies it.
type Runner interface {
	RunWithOptions(ctx context.Context, workflowID string, g *schema.Graph, inputs map[string]any, opts engine.RunOptions) (*schema.RunResult, error)
}

type liveLoop struct {
	stopped atomic.Bool
	done    chan struct{}
}

// Manager runs workflows on a fixed interval until stopped. One loop per
// workflow ID; runs are ephemeral, observable only through events.
type Manager struct {
	runner Runner
	hub    streaming.EventHub
	logger *slog.Logger

	mu    sync.Mutex
	loops map[string]*liveLoop
}

// NewManager creates a live-mode manager. hub may be nil.
func NewManager(runner Runner, hub streaming.EventHub, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner: runner,
		hub:    hub,
		logger: logger,
		loops:  make(map[string]*liveLoop),
	}
}

// Start begins a live loop for a workflow. A second start for a workflow
// whose loop is still running is a conflict.
func (m *Manager) Start(ctx context.Context, req schema.StartLiveRequest) error {
	if req.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow ID is required")
	}
	if req.Graph == nil {
		return schema.NewError(schema.ErrCodeValidation, "graph is required")
	}
	if req.IntervalMS <= 0 {
		req.IntervalMS = schema.LiveDefaultIntervalMS
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = schema.LiveDefaultMaxIterations
	}
	if req.ErrorPolicy == "" {
		req.ErrorPolicy = schema.LiveErrorPolicySkip
	}

	m.mu.Lock()
	if _, exists := m.loops[req.WorkflowID]; exists {
		m.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s is already live", req.WorkflowID)
	}
	loop := &liveLoop{done: make(chan struct{})}
	m.loops[req.WorkflowID] = loop
	m.mu.Unlock()

	go m.run(ctx, req, loop)
	return nil
}

// Stop signals a live loop to end. The loop notices within the poll
// interval and reports user_stopped.
func (m *Manager) Stop(workflowID string) error {
	m.mu.Lock()
	loop, ok := m.loops[workflowID]
	m.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s is not live", workflowID)
	}
	loop.stopped.Store(true)
	return nil
}

// Wait blocks until the workflow's loop has exited. Present for tests and
// orderly shutdown; returns immediately when no loop exists.
func (m *Manager) Wait(workflowID string) {
	m.mu.Lock()
	loop, ok := m.loops[workflowID]
	m.mu.Unlock()
	if ok {
		<-loop.done
	}
}

func (m *Manager) run(ctx context.Context, req schema.StartLiveRequest, loop *liveLoop) {
	defer func() {
		m.mu.Lock()
		delete(m.loops, req.WorkflowID)
		m.mu.Unlock()
		close(loop.done)
	}()

	m.emit(ctx, req.WorkflowID, "", schema.EventLiveStarted, map[string]any{
		"workflow_id":    req.WorkflowID,
		"interval_ms":    req.IntervalMS,
		"max_iterations": req.MaxIterations,
		"error_policy":   req.ErrorPolicy,
	})

	interval := time.Duration(req.IntervalMS) * time.Millisecond
	reason := schema.LiveStopMaxIterations
	consecutive := 0
	iterations := 0

runLoop:
	for i := 1; i <= req.MaxIterations; i++ {
		if loop.stopped.Load() || ctx.Err() != nil {
			reason = schema.LiveStopUserStopped
			break
		}

		iterations = i
		runID := uuid.New().String()
		result, err := m.runner.RunWithOptions(ctx, req.WorkflowID, req.Graph, req.Inputs,
			engine.RunOptions{RunID: runID, Ephemeral: true})

		failed := err != nil || result == nil || result.Status != schema.RunStatusCompleted
		if failed {
			errText := "run did not complete"
			if err != nil {
				errText = err.Error()
			} else if result != nil && result.Error != "" {
				errText = result.Error
			}
			consecutive++
			m.emit(ctx, req.WorkflowID, runID, schema.EventLiveIterationError, map[string]any{
				"workflow_id": req.WorkflowID,
				"iteration":   i,
				"run_id":      runID,
				"error":       errText,
			})
			m.logger.WarnContext(ctx, "live iteration failed",
				"workflow_id", req.WorkflowID, "iteration", i, "error", errText)
			if req.ErrorPolicy == schema.LiveErrorPolicyStop {
				reason = schema.LiveStopErrorPolicy
				break runLoop
			}
			if consecutive >= maxConsecutiveErrors {
				reason = schema.LiveStopConsecutiveErrors
				break runLoop
			}
		} else {
			consecutive = 0
			m.emit(ctx, req.WorkflowID, runID, schema.EventLiveIterationCompleted, map[string]any{
				"workflow_id": req.WorkflowID,
				"iteration":   i,
				"run_id":      runID,
				"outputs":     result.Outputs,
			})
		}

		if i < req.MaxIterations && !m.sleep(ctx, loop, interval) {
			reason = schema.LiveStopUserStopped
			break runLoop
		}
	}

	m.emit(ctx, req.WorkflowID, "", schema.EventLiveStopped, map[string]any{
		"workflow_id": req.WorkflowID,
		"reason":      reason,
		"iterations":  iterations,
	})
}

// sleep waits for the interval in short chunks so a stop lands promptly.
// Returns false when the loop should end.
func (m *Manager) sleep(ctx context.Context, loop *liveLoop, interval time.Duration) bool {
	deadline := time.Now().Add(interval)
	for time.Now().Before(deadline) {
		if loop.stopped.Load() || ctx.Err() != nil {
			return false
		}
		remaining := time.Until(deadline)
		if remaining > pollInterval {
			remaining = pollInterval
		}
		time.Sleep(remaining)
	}
	return !loop.stopped.Load() && ctx.Err() == nil
}

// emit publishes a live lifecycle event. runID is empty for loop-level
// events and carries the iteration's run ID otherwise.
func (m *Manager) emit(ctx context.Context, workflowID, runID, eventType string, payload map[string]any) {
	if m.hub == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{"workflow_id": workflowID}
	}
	_ = m.hub.Publish(ctx, schema.Event{
		EventID:   uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Source:    "live",
		Payload:   payload,
	})
}
