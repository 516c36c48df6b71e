package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func testGraph() *schema.Graph {
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "in", Type: schema.NodeTypeInput, Data: map[string]any{"name": "topic"}},
			{ID: "out", Type: schema.NodeTypeOutput, Data: map[string]any{"name": "result"}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "in", Target: "out"},
		},
	}
}

func seedRun(t *testing.T, s *LibSQLStore) *Run {
	t.Helper()
	run := &Run{
		ID:     uuid.New().String(),
		Graph:  testGraph(),
		Status: schema.RunStatusPending,
		Inputs: map[string]any{"topic": "go"},
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

// --- Run Tests ---

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		Graph:      testGraph(),
		Status:     schema.RunStatusPending,
		Inputs:     map[string]any{"topic": "databases"},
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, schema.RunStatusPending, got.Status)
	assert.Equal(t, "databases", got.Inputs["topic"])
	require.NotNil(t, got.Graph)
	assert.Len(t, got.Graph.Nodes, 2)
	assert.Len(t, got.Graph.Edges, 1)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
	fErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, fErr.Code)
}

func TestUpdateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, s)

	now := time.Now().UTC()
	status := schema.RunStatusCompleted
	err := s.UpdateRun(ctx, run.ID, RunUpdate{
		Status:      &status,
		Outputs:     json.RawMessage(`{"result":"ok"}`),
		CompletedAt: &now,
	})
	require.NoError(t, err)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
	assert.JSONEq(t, `{"result":"ok"}`, string(got.Outputs))
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	status := schema.RunStatusActive
	err := s.UpdateRun(context.Background(), "missing", RunUpdate{Status: &status})
	require.Error(t, err)
}

func TestListRuns_FilterByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := seedRun(t, s)
	r2 := seedRun(t, s)

	status := schema.RunStatusActive
	require.NoError(t, s.UpdateRun(ctx, r2.ID, RunUpdate{Status: &status}))

	pending := schema.RunStatusPending
	runs, err := s.ListRuns(ctx, RunFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, r1.ID, runs[0].ID)
}

func TestDeleteRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, s)

	require.NoError(t, s.DeleteRun(ctx, run.ID))
	_, err := s.GetRun(ctx, run.ID)
	require.Error(t, err)
}

// --- Event Tests ---

func TestAppendEvent_AssignsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID := uuid.New().String()

	for i := 1; i <= 3; i++ {
		e := &Event{
			EventID: uuid.New().String(),
			RunID:   runID,
			Type:    schema.EventNodeStarted,
			NodeID:  "n1",
		}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i), e.Sequence)
	}
}

func TestAppendEvent_SequencesIndependentPerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1 := &Event{EventID: uuid.New().String(), RunID: "run-a", Type: "tick"}
	e2 := &Event{EventID: uuid.New().String(), RunID: "run-b", Type: "tick"}
	require.NoError(t, s.AppendEvent(ctx, e1))
	require.NoError(t, s.AppendEvent(ctx, e2))

	assert.Equal(t, int64(1), e1.Sequence)
	assert.Equal(t, int64(1), e2.Sequence)
}

func TestGetEvents_OrderedBySequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID := uuid.New().String()

	types := []string{schema.EventWorkflowStarted, schema.EventNodeStarted, schema.EventNodeCompleted}
	for _, typ := range types {
		require.NoError(t, s.AppendEvent(ctx, &Event{
			EventID: uuid.New().String(), RunID: runID, Type: typ,
		}))
	}

	events, err := s.GetEvents(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.Equal(t, types[i], e.Type)
	}

	// Since filter.
	events, err = s.GetEvents(ctx, runID, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventNodeCompleted, events[0].Type)
}

func TestGetEventsByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID := uuid.New().String()

	require.NoError(t, s.AppendEvent(ctx, &Event{EventID: uuid.New().String(), RunID: runID, Type: schema.EventNodeStarted, NodeID: "n1"}))
	require.NoError(t, s.AppendEvent(ctx, &Event{EventID: uuid.New().String(), RunID: runID, Type: schema.EventNodeCompleted, NodeID: "n1"}))

	events, err := s.GetEventsByType(ctx, schema.EventNodeCompleted, EventFilter{RunID: runID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "n1", events[0].NodeID)
}

// --- Scheduled Job Tests ---

func TestScheduledJobCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &ScheduledJob{
		ID:             uuid.New().String(),
		WorkflowID:     "wf-cron",
		CronExpression: "*/5 * * * *",
		Graph:          testGraph(),
		Inputs:         json.RawMessage(`{"topic":"news"}`),
		Enabled:        true,
	}
	require.NoError(t, s.CreateScheduledJob(ctx, job))

	got, err := s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", got.CronExpression)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.Graph)
	assert.Len(t, got.Graph.Nodes, 2)

	disabled := false
	now := time.Now().UTC()
	require.NoError(t, s.UpdateScheduledJob(ctx, job.ID, ScheduledJobUpdate{
		Enabled:       &disabled,
		LastRunAt:     &now,
		LastRunStatus: "completed",
	}))

	got, err = s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "completed", got.LastRunStatus)

	enabled := true
	jobs, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	require.NoError(t, s.DeleteScheduledJob(ctx, job.ID))
	_, err = s.GetScheduledJob(ctx, job.ID)
	require.Error(t, err)
}
