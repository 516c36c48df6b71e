package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestGoJQ_Identity(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{"name": "flowgraph"}
	out, err := e.Evaluate(context.Background(), ".", data)
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "flowgraph", m["name"])
}

func TestGoJQ_FieldAccess(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{"result": map[string]any{"count": 3.0}}
	out, err := e.Evaluate(context.Background(), ".result.count", data)
	require.NoError(t, err)
	assert.Equal(t, 3.0, out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{"items": []any{"a", "b"}}
	out, err := e.Evaluate(context.Background(), ".items[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_EvaluateValue_BareString(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.EvaluateValue(context.Background(), `. + "!"`, "done")
	require.NoError(t, err)
	assert.Equal(t, "done!", out)
}

func TestGoJQ_EvaluateValue_Increment(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.EvaluateValue(context.Background(), `tonumber + 1 | tostring`, "5")
	require.NoError(t, err)
	assert.Equal(t, "6", out)
}

func TestGoJQ_EvaluateValue_NormalizesInts(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.EvaluateValue(context.Background(), `map(. * 2)`, []any{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{2.0, 4.0, 6.0}, out)
}

func TestGoJQ_EvaluateAll(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{"items": []any{1.0}}
	out, err := e.EvaluateAll(context.Background(), ".items[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0}, out)
}

func TestGoJQ_JSONPathStyleExtraction(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{
		"data": map[string]any{
			"repos": []any{
				map[string]any{"name": "a"},
				map[string]any{"name": "b"},
			},
		},
	}
	out, err := e.Evaluate(context.Background(), `[.data.repos[].name]`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.[`, map[string]any{})
	require.Error(t, err)
	fErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, fErr.Code)
}

func TestGoJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()

	// Iterating a string as an array.
	_, err := e.Evaluate(context.Background(), `.name[]`, map[string]any{"name": "x"})
	require.Error(t, err)
	fErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecutor, fErr.Code)
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `env | length`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQ_EmptyExpression(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestGoJQ_Name(t *testing.T) {
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}
