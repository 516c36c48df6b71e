package debug

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Session is a per-run debug controller. The engine consults it at node
// boundaries through the Gate interface; clients drive it with commands.
//
// A session pauses before a breakpointed node (or before every node after a
// step command) and emits debug.paused. While paused it accepts edit_input,
// edit_output, skip, stop, step_out, continue and step; edit_output records
// the supplied value as the node's output without executing it. After a
// stepped node completes it emits debug.node_completed and pauses again,
// accepting edit_output, rerun, step_out, continue and step. step_out inside
// a scope body runs the rest of the body without pausing and resumes
// stepping once the scope completes.
type Session struct {
	runID string
	hub   streaming.EventHub

	commands chan schema.DebugCommand

	mu          sync.Mutex
	breakpoints map[string]bool
	stepping    bool
	depth       int
	stepOutAt   int
}

// NewSession creates a debug session for a run. hub may be nil.
func NewSession(runID string, hub streaming.EventHub, breakpoints []string) *Session {
	s := &Session{
		runID:       runID,
		hub:         hub,
		commands:    make(chan schema.DebugCommand, 16),
		breakpoints: make(map[string]bool, len(breakpoints)),
		stepOutAt:   -1,
	}
	for _, id := range breakpoints {
		s.breakpoints[id] = true
	}
	return s
}

// Send queues a command for the session.
func (s *Session) Send(cmd schema.DebugCommand) error {
	select {
	case s.commands <- cmd:
		return nil
	default:
		return schema.NewError(schema.ErrCodeConflict, "debug command queue full")
	}
}

// SetBreakpoint adds a breakpoint on a node.
func (s *Session) SetBreakpoint(nodeID string) {
	s.mu.Lock()
	s.breakpoints[nodeID] = true
	s.mu.Unlock()
}

// ClearBreakpoint removes a breakpoint.
func (s *Session) ClearBreakpoint(nodeID string) {
	s.mu.Lock()
	delete(s.breakpoints, nodeID)
	s.mu.Unlock()
}

func (s *Session) pausesBefore(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepOutAt >= 0 {
		return false
	}
	return s.stepping || s.breakpoints[nodeID]
}

func (s *Session) setStepping(v bool) {
	s.mu.Lock()
	s.stepping = v
	s.mu.Unlock()
}

// EnterScope implements engine.ScopeObserver.
func (s *Session) EnterScope() {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
}

// ExitScope implements engine.ScopeObserver. Leaving the scope a step_out
// was issued in re-arms stepping.
func (s *Session) ExitScope() {
	s.mu.Lock()
	s.depth--
	if s.stepOutAt >= 0 && s.depth < s.stepOutAt {
		s.stepOutAt = -1
		s.stepping = true
	}
	s.mu.Unlock()
}

// stepOut runs the rest of the current scope body without pausing. At the
// top level it behaves like continue.
func (s *Session) stepOut() {
	s.mu.Lock()
	if s.depth > 0 {
		s.stepOutAt = s.depth
	}
	s.stepping = false
	s.mu.Unlock()
}

// BeforeNode implements engine.Gate.
func (s *Session) BeforeNode(ctx context.Context, nodeID string, input any) (engine.GateAction, any, error) {
	if !s.pausesBefore(nodeID) {
		return engine.GateRun, input, nil
	}

	s.emit(ctx, schema.EventDebugPaused, map[string]any{
		"node_id": nodeID,
		"phase":   "before",
		"input":   input,
	})

	for {
		select {
		case <-ctx.Done():
			return engine.GateStop, input, nil
		case cmd := <-s.commands:
			switch cmd.Type {
			case schema.DebugContinue:
				s.setStepping(false)
				return engine.GateRun, input, nil
			case schema.DebugStep:
				s.setStepping(true)
				return engine.GateRun, input, nil
			case schema.DebugEditInput:
				input = cmd.Value
			case schema.DebugEditOutput:
				return engine.GateInject, cmd.Value, nil
			case schema.DebugSkip:
				s.setStepping(false)
				return engine.GateSkip, input, nil
			case schema.DebugStepOut:
				s.stepOut()
				return engine.GateRun, input, nil
			case schema.DebugStop:
				s.emit(ctx, schema.EventDebugStopped, map[string]any{"node_id": nodeID})
				return engine.GateStop, input, nil
			}
			// rerun is an after-phase command; ignored here.
		}
	}
}

// AfterNode implements engine.Gate.
func (s *Session) AfterNode(ctx context.Context, nodeID string, output any) (any, bool, error) {
	s.mu.Lock()
	stepping := s.stepping
	s.mu.Unlock()
	if !stepping {
		return output, false, nil
	}

	s.emit(ctx, schema.EventDebugNodeCompleted, map[string]any{
		"node_id": nodeID,
		"output":  output,
	})

	for {
		select {
		case <-ctx.Done():
			return output, false, ctx.Err()
		case cmd := <-s.commands:
			switch cmd.Type {
			case schema.DebugContinue:
				s.setStepping(false)
				return output, false, nil
			case schema.DebugStep:
				return output, false, nil
			case schema.DebugEditOutput:
				output = cmd.Value
			case schema.DebugRerun:
				return output, true, nil
			case schema.DebugStepOut:
				s.stepOut()
				return output, false, nil
			case schema.DebugStop:
				s.emit(ctx, schema.EventDebugStopped, map[string]any{"node_id": nodeID})
				return output, false, schema.NewError(schema.ErrCodeCancelled, "run stopped").
					WithNode(nodeID).WithCause(context.Canceled)
			}
		}
	}
}

func (s *Session) emit(ctx context.Context, eventType string, payload map[string]any) {
	if s.hub == nil {
		return
	}
	_ = s.hub.Publish(ctx, schema.Event{
		EventID:   uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     s.runID,
		Source:    "debug",
		Payload:   payload,
	})
}
