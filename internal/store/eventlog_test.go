package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_AppendAssignsSequence(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	for i := 1; i <= 5; i++ {
		e := &Event{EventID: uuid.New().String(), RunID: runID, Type: "tick"}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i), e.Sequence)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestEventLog_ConcurrentAppendsNoGaps(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				errs <- el.AppendEvent(ctx, &Event{
					EventID: uuid.New().String(), RunID: runID, Type: "tick",
				})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events, err := el.GetEvents(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, events, writers*perWriter)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventLog_ReplayEmptyRun(t *testing.T) {
	el, _ := newTestEventLog(t)

	states, err := el.ReplayEvents(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestEventLog_ReplayReconstructsNodeStates(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	append := func(typ, nodeID string, payload json.RawMessage) {
		require.NoError(t, el.AppendEvent(ctx, &Event{
			EventID: uuid.New().String(), RunID: runID, NodeID: nodeID, Type: typ, Payload: payload,
		}))
	}

	append(schema.EventWorkflowStarted, "", nil)
	append(schema.EventNodeStarted, "n1", nil)
	append(schema.EventNodeCompleted, "n1", json.RawMessage(`{"value":"done"}`))
	append(schema.EventNodeStarted, "n2", nil)
	append(schema.EventNodeErrored, "n2", json.RawMessage(`{"error":"boom"}`))
	append(schema.EventNodeSkipped, "n3", nil)
	append(schema.EventNodeIteration, "loop1", nil)
	append(schema.EventNodeIteration, "loop1", nil)

	states, err := el.ReplayEvents(ctx, runID)
	require.NoError(t, err)

	require.Contains(t, states, "n1")
	assert.Equal(t, schema.NodeStatusCompleted, states["n1"].Status)
	assert.JSONEq(t, `{"value":"done"}`, string(states["n1"].Output))
	require.NotNil(t, states["n1"].StartedAt)
	require.NotNil(t, states["n1"].CompletedAt)

	assert.Equal(t, schema.NodeStatusErrored, states["n2"].Status)
	assert.JSONEq(t, `{"error":"boom"}`, string(states["n2"].Error))

	assert.Equal(t, schema.NodeStatusSkipped, states["n3"].Status)
	assert.Equal(t, 2, states["loop1"].Iterations)
}

func TestEventLog_Record(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	row, err := el.Record(ctx, schema.Event{
		EventID: uuid.New().String(),
		Type:    schema.EventNodeCompleted,
		RunID:   runID,
		Source:  "engine",
		Payload: map[string]any{"node_id": "n1", "value": "ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Sequence)
	assert.Equal(t, "n1", row.NodeID)

	events, err := el.GetEvents(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "engine", events[0].Source)
	assert.Contains(t, string(events[0].Payload), `"value":"ok"`)
}
