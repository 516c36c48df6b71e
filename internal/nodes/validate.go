package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowgraph/pkg/schema"
)

// ValidateExecutor checks the incoming value against a JSON Schema from the
// node data. Compiled schemas are cached by their source text.
type ValidateExecutor struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func (e *ValidateExecutor) Type() string { return schema.NodeTypeValidate }

func (e *ValidateExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	raw, ok := node.Data["schema"]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "validate node requires a schema").WithNode(node.ID)
	}

	schemaBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "marshal schema: %s", err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	compiled, err := e.getOrCompile(string(schemaBytes))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid schema: %s", err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "serialize input: %s", err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "schema validation failed: %s", err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	// Valid input passes through unchanged.
	return &Result{Value: input}, nil
}

// getOrCompile returns a cached compiled schema or compiles and caches one.
func (e *ValidateExecutor) getOrCompile(key string) (*jsonschema.Schema, error) {
	e.mu.RLock()
	if e.cache != nil {
		if cached, ok := e.cache[key]; ok {
			e.mu.RUnlock()
			return cached, nil
		}
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cache == nil {
		e.cache = make(map[string]*jsonschema.Schema)
	}
	if cached, ok := e.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Unique URL per dynamic schema to avoid compiler resource collisions.
	url := fmt.Sprintf("flowgraph://node-schema/%d", len(e.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	e.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a value through JSON so numbers become
// json.Number, which the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
