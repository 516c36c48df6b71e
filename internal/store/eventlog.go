package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run sequence.
// Uses BEGIN IMMEDIATE to ensure sequence correctness under concurrency.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	// BEGIN IMMEDIATE acquires a write lock immediately to prevent concurrent writers
	// from interleaving sequence reads and writes.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// Acquire write lock by executing a write-intent statement.
	// In WAL mode, BeginTx alone may start a deferred transaction.
	// We use an immediate-mode write to force lock acquisition.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	// Clean up the noop row.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload := nullRaw(event.Payload)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, node_id, event_type, payload, source, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, nullStr(event.NodeID), event.Type, payload, nullStr(event.Source), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// ReplayEvents replays all events for a run and returns the reconstructed node states.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*NodeState, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	if len(events) == 0 {
		return make(map[string]*NodeState), nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	states := make(map[string]*NodeState)

	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		ns, ok := states[e.NodeID]
		if !ok {
			ns = &NodeState{
				RunID:  runID,
				NodeID: e.NodeID,
				Status: schema.NodeStatusIdle,
			}
			states[e.NodeID] = ns
		}

		switch e.Type {
		case schema.EventNodeStarted:
			ns.Status = schema.NodeStatusRunning
			ts := e.Timestamp
			ns.StartedAt = &ts

		case schema.EventNodeCompleted:
			ns.Status = schema.NodeStatusCompleted
			ts := e.Timestamp
			ns.CompletedAt = &ts
			ns.Output = e.Payload
			if ns.StartedAt != nil {
				ns.DurationMs = ts.Sub(*ns.StartedAt).Milliseconds()
			}

		case schema.EventNodeErrored:
			ns.Status = schema.NodeStatusErrored
			ns.Error = e.Payload

		case schema.EventNodeSkipped:
			ns.Status = schema.NodeStatusSkipped

		case schema.EventNodeWaiting:
			ns.Status = schema.NodeStatusWaiting

		case schema.EventNodeIteration:
			ns.Iterations++
		}
	}

	return states, nil
}

// Record persists a streamed event, assigning its sequence. It adapts the
// envelope used on the hub to the log's row shape, so the log can be attached
// to an EventHub subscription as the durable sink.
func (el *EventLog) Record(ctx context.Context, ev schema.Event) (*Event, error) {
	var payload json.RawMessage
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		payload = b
	}

	nodeID, _ := ev.Payload["node_id"].(string)

	row := &Event{
		EventID:   ev.EventID,
		RunID:     ev.RunID,
		NodeID:    nodeID,
		Type:      ev.Type,
		Payload:   payload,
		Source:    ev.Source,
		Timestamp: ev.Timestamp,
	}
	if err := el.AppendEvent(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}
