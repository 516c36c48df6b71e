package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"validation", schema.NewError(schema.ErrCodeValidation, "bad config"), false},
		{"scope structure", schema.NewError(schema.ErrCodeScopeStructure, "no exit"), false},
		{"circular ref", schema.NewError(schema.ErrCodeCircularRef, "cycle"), false},
		{"not found", schema.NewError(schema.ErrCodeNotFound, "missing"), false},
		{"flow cancelled", schema.NewError(schema.ErrCodeCancelled, "stopped"), false},
		{"flow timeout", schema.NewError(schema.ErrCodeTimeout, "node timed out"), true},
		{"wrapped cancel", schema.NewError(schema.ErrCodeExecutor, "x").WithCause(context.Canceled), false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"service unavailable", errors.New("503 Service Unavailable"), true},
		{"too many requests", errors.New("429 Too Many Requests"), true},
		{"unknown", errors.New("something odd happened"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestComputeBackoff(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, time.Duration(0), ComputeBackoff(0, 3, time.Second))
	assert.Equal(t, base, ComputeBackoff(base, 0, 0))
	assert.Equal(t, 200*time.Millisecond, ComputeBackoff(base, 1, 0))
	assert.Equal(t, 800*time.Millisecond, ComputeBackoff(base, 3, 0))
	assert.Equal(t, 500*time.Millisecond, ComputeBackoff(base, 5, 500*time.Millisecond))
}

func TestWaitForBackoff(t *testing.T) {
	require.NoError(t, WaitForBackoff(context.Background(), 0))
	require.NoError(t, WaitForBackoff(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForBackoff(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
