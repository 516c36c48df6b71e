package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("nodes[0].type", ErrCodeValidation, "unknown node type")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "nodes[0].type", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "unknown node type", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("nodes[1]", ErrCodeValidation, "orphan node")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("nodes[0]", ErrCodeCircularRef, "err2")
	r2.AddWarning("nodes[1]", ErrCodeValidation, "warn2")

	r1.Merge(r2)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_MergeNil(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err")
	r.Merge(nil)
	assert.Len(t, r.Errors, 1)
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("nodes[0].type", ErrCodeValidation, "unknown node type")

	err := r.ToError()
	require.NotNil(t, err)

	fErr, ok := err.(*FlowError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, fErr.Code)
	assert.Equal(t, "unknown node type", fErr.Message)
	assert.Equal(t, 1, fErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err1")
	r.AddError("/", ErrCodeValidation, "err2")
	r.AddWarning("/", ErrCodeValidation, "warn1")

	err := r.ToError()
	require.NotNil(t, err)

	fErr, ok := err.(*FlowError)
	require.True(t, ok)
	assert.Contains(t, fErr.Message, "2 errors")
	assert.Equal(t, 2, fErr.Details["error_count"])
	assert.Equal(t, 1, fErr.Details["warning_count"])
}

func TestGraph_RoundTrip(t *testing.T) {
	raw := []byte(`{
		"nodes": [
			{"id": "in", "type": "input", "data": {"name": "topic"}},
			{"id": "out", "type": "output", "data": {"name": "result"}}
		],
		"edges": [
			{"id": "e1", "source": "in", "target": "out"}
		]
	}`)

	g, err := ParseGraph(raw)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)

	assert.Equal(t, "output", g.Edges[0].SourceHandleOf())
	assert.Equal(t, "input", g.Edges[0].TargetHandleOf())
	assert.Equal(t, "topic", g.NodeByID("in").String("name", ""))
	assert.Nil(t, g.NodeByID("missing"))
}

func TestParseGraph_Invalid(t *testing.T) {
	_, err := ParseGraph([]byte(`{"nodes": `))
	require.Error(t, err)
	fErr, ok := err.(*FlowError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, fErr.Code)
}

func TestNode_DataAccessors(t *testing.T) {
	n := Node{ID: "loop1", Type: NodeTypeLoop, Data: map[string]any{
		"maxIterations":      float64(7),
		"feedbackMode":       "append",
		"stabilityThreshold": 0.9,
	}}

	assert.Equal(t, 7, n.Int("maxIterations", 5))
	assert.Equal(t, 5, n.Int("missing", 5))
	assert.Equal(t, "append", n.String("feedbackMode", "replace"))
	assert.Equal(t, "replace", n.String("maxIterations", "replace"))
	assert.InDelta(t, 0.9, n.Float("stabilityThreshold", 0.95), 1e-9)
}
