package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestInputExecutorResolution(t *testing.T) {
	exec := &InputExecutor{}
	ctx := context.Background()

	t.Run("by name", func(t *testing.T) {
		ec := &ExecutionContext{Inputs: map[string]any{"query": "hello"}}
		node := &schema.Node{ID: "in1", Type: schema.NodeTypeInput, Data: map[string]any{"name": "query"}}
		result, err := exec.Execute(ctx, ec, node, nil)
		require.NoError(t, err)
		assert.Equal(t, "hello", result.Value)
	})

	t.Run("by node id", func(t *testing.T) {
		ec := &ExecutionContext{Inputs: map[string]any{"in1": 42}}
		node := &schema.Node{ID: "in1", Type: schema.NodeTypeInput}
		result, err := exec.Execute(ctx, ec, node, nil)
		require.NoError(t, err)
		assert.Equal(t, 42, result.Value)
	})

	t.Run("default input key", func(t *testing.T) {
		ec := &ExecutionContext{Inputs: map[string]any{"input": "fallthrough"}}
		node := &schema.Node{ID: "in1", Type: schema.NodeTypeInput}
		result, err := exec.Execute(ctx, ec, node, nil)
		require.NoError(t, err)
		assert.Equal(t, "fallthrough", result.Value)
	})

	t.Run("baked-in default", func(t *testing.T) {
		ec := &ExecutionContext{Inputs: map[string]any{}}
		node := &schema.Node{ID: "in1", Type: schema.NodeTypeInput, Data: map[string]any{"value": "preset"}}
		result, err := exec.Execute(ctx, ec, node, nil)
		require.NoError(t, err)
		assert.Equal(t, "preset", result.Value)
	})
}

func TestOutputAndExitPassThrough(t *testing.T) {
	ctx := context.Background()
	ec := &ExecutionContext{}

	out, err := (&OutputExecutor{}).Execute(ctx, ec, &schema.Node{ID: "out"}, "done")
	require.NoError(t, err)
	assert.Equal(t, "done", out.Value)

	exit, err := (&ExitExecutor{}).Execute(ctx, ec, &schema.Node{ID: "exit"}, map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": 1}, exit.Value)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&TransformExecutor{}))
	assert.True(t, r.Has(schema.NodeTypeTransform))

	exec, err := r.Get(schema.NodeTypeTransform)
	require.NoError(t, err)
	assert.Equal(t, schema.NodeTypeTransform, exec.Type())

	_, err = r.Get("nope")
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

func TestRegistryRejectsDuplicatesAndNil(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&TransformExecutor{}))

	err := r.Register(&TransformExecutor{})
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeConflict, fe.Code)

	require.Error(t, r.Register(nil))
}

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&TransformExecutor{}))
	require.NoError(t, r.Register(&InputExecutor{}))
	require.NoError(t, r.Register(&OutputExecutor{}))

	types := r.Types()
	assert.Equal(t, []string{schema.NodeTypeInput, schema.NodeTypeOutput, schema.NodeTypeTransform}, types)
}

func TestBuiltinRegistryCoversCoreTypes(t *testing.T) {
	r := NewBuiltinRegistry()
	for _, typ := range []string{
		schema.NodeTypeInput, schema.NodeTypeOutput, schema.NodeTypeExit,
		schema.NodeTypeTransform, schema.NodeTypeRouter, schema.NodeTypeLoop,
		schema.NodeTypeIterator, schema.NodeTypeAggregator, schema.NodeTypeErrorHandler,
		schema.NodeTypeApproval, schema.NodeTypeSubworkflow, schema.NodeTypeHTTP,
		schema.NodeTypeValidate, schema.NodeTypeFileRead, schema.NodeTypeFileWrite,
		schema.NodeTypeFileGlob, schema.NodeTypeShell,
	} {
		assert.True(t, r.Has(typ), "missing executor for %s", typ)
	}
	assert.False(t, r.Has(schema.NodeTypeLLM))
	assert.False(t, r.Has(schema.NodeTypeTool))
}
