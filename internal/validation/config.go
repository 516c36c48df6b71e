package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowgraph/pkg/schema"
)

// nodeConfigSchemas holds the JSON Schema for each node type's data, keyed
// by node type. Types absent from the map accept any data.
var nodeConfigSchemas = map[string]string{
	schema.NodeTypeTransform: `{
		"type": "object",
		"properties": {
			"expression": { "type": "string" }
		}
	}`,
	schema.NodeTypeRouter: `{
		"type": "object",
		"properties": {
			"mode": { "type": "string", "enum": ["pattern", "llm"] },
			"engine": { "type": "string", "enum": ["expr", "cel"] },
			"model": { "type": "string" },
			"branches": {
				"type": "array",
				"minItems": 1,
				"items": {
					"anyOf": [
						{ "type": "string" },
						{
							"type": "object",
							"properties": {
								"name": { "type": "string" },
								"condition": { "type": "string" }
							},
							"anyOf": [
								{ "required": ["name"] },
								{ "required": ["condition"] }
							]
						}
					]
				}
			}
		},
		"required": ["branches"]
	}`,
	schema.NodeTypeLoop: `{
		"type": "object",
		"properties": {
			"maxIterations": { "type": "integer", "minimum": 1, "maximum": 50 },
			"exitCondition": { "type": "string", "enum": ["max_iterations", "evaluator", "stable_output"] },
			"feedbackMode": { "type": "string", "enum": ["replace", "append"] },
			"condition": { "type": "string" },
			"engine": { "type": "string", "enum": ["expr", "cel"] },
			"stabilityThreshold": { "type": "number", "minimum": 0, "maximum": 1 }
		}
	}`,
	schema.NodeTypeIterator: `{
		"type": "object",
		"properties": {
			"expression": { "type": "string" }
		}
	}`,
	schema.NodeTypeAggregator: `{
		"type": "object",
		"properties": {
			"strategy": { "type": "string", "enum": ["array", "concat", "merge"] },
			"separator": { "type": "string" }
		}
	}`,
	schema.NodeTypeErrorHandler: `{
		"type": "object",
		"properties": {
			"retryCount": { "type": "integer", "minimum": 0 },
			"fallback": {}
		}
	}`,
	schema.NodeTypeApproval: `{
		"type": "object",
		"properties": {
			"message": { "type": "string" },
			"timeoutMS": { "type": "integer", "minimum": 0 }
		}
	}`,
	schema.NodeTypeSubworkflow: `{
		"type": "object",
		"properties": {
			"workflowId": { "type": "string" },
			"workflow_id": { "type": "string" }
		}
	}`,
	schema.NodeTypeLLM: `{
		"type": "object",
		"properties": {
			"prompt": { "type": "string" },
			"model": { "type": "string" }
		}
	}`,
	schema.NodeTypeTool: `{
		"type": "object",
		"properties": {
			"tool": { "type": "string", "minLength": 1 },
			"arguments": { "type": "object" }
		},
		"required": ["tool"]
	}`,
	schema.NodeTypeHTTP: `{
		"type": "object",
		"properties": {
			"url": { "type": "string", "minLength": 1 },
			"method": { "type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"] },
			"headers": { "type": "object" },
			"timeout": { "type": "string" },
			"bodyEncoding": { "type": "string", "enum": ["json", "form", "text"] }
		},
		"required": ["url"]
	}`,
	schema.NodeTypeValidate: `{
		"type": "object",
		"properties": {
			"schema": { "type": "object" }
		},
		"required": ["schema"]
	}`,
	schema.NodeTypeFileRead: `{
		"type": "object",
		"properties": {
			"path": { "type": "string" },
			"mode": { "type": "string", "enum": ["text", "json", "csv", "binary"] },
			"maxSize": { "type": "number", "minimum": 0 },
			"csvDelimiter": { "type": "string", "maxLength": 1 },
			"csvHasHeader": { "type": "boolean" }
		}
	}`,
	schema.NodeTypeFileWrite: `{
		"type": "object",
		"properties": {
			"path": { "type": "string" },
			"mode": { "type": "string", "enum": ["text", "json", "csv"] },
			"writeMode": { "type": "string", "enum": ["overwrite", "append"] },
			"createDirs": { "type": "boolean" },
			"jsonPretty": { "type": "boolean" },
			"csvDelimiter": { "type": "string", "maxLength": 1 }
		}
	}`,
	schema.NodeTypeFileGlob: `{
		"type": "object",
		"properties": {
			"directory": { "type": "string" },
			"pattern": { "type": "string" },
			"recursive": { "type": "boolean" },
			"mode": { "type": "string", "enum": ["text", "json", "csv", "binary"] },
			"maxFiles": { "type": "integer", "minimum": 1 },
			"maxSize": { "type": "number", "minimum": 0 },
			"sortBy": { "type": "string", "enum": ["name", "size", "modified"] },
			"sortOrder": { "type": "string", "enum": ["asc", "desc"] }
		}
	}`,
	schema.NodeTypeShell: `{
		"type": "object",
		"properties": {
			"command": { "type": "string" },
			"shell": { "type": "string" },
			"timeout": { "type": "integer", "minimum": 1 },
			"workingDir": { "type": "string" },
			"envVars": { "type": "object" }
		}
	}`,
}

// ConfigValidator validates node data against per-type JSON Schemas.
// Compiled schemas are cached per type.
type ConfigValidator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewConfigValidator creates a ConfigValidator.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{compiled: make(map[string]*jsonschema.Schema, len(nodeConfigSchemas))}
}

func (cv *ConfigValidator) validateGraph(g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	for i, n := range g.Nodes {
		if err := cv.ValidateNode(&n); err != nil {
			result.AddError(fmt.Sprintf("/nodes/%d/data", i), schema.ErrCodeValidation,
				fmt.Sprintf("node %s: %s", n.ID, err.Error()))
		}
	}
	return result
}

// ValidateNode checks one node's data against its type schema. Types
// without a schema pass.
func (cv *ConfigValidator) ValidateNode(n *schema.Node) error {
	source, ok := nodeConfigSchemas[n.Type]
	if !ok {
		return nil
	}

	compiled, err := cv.getOrCompile(n.Type, source)
	if err != nil {
		return err
	}

	// Round-trip through JSON so numbers validate as json.Number.
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal node data: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode node data: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("invalid %s config: %s", n.Type, strings.Join(collectViolations(verr), "; "))
		}
		return err
	}
	return nil
}

func (cv *ConfigValidator) getOrCompile(nodeType, source string) (*jsonschema.Schema, error) {
	cv.mu.RLock()
	compiled, ok := cv.compiled[nodeType]
	cv.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	cv.mu.Lock()
	defer cv.mu.Unlock()
	if compiled, ok = cv.compiled[nodeType]; ok {
		return compiled, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse %s config schema: %w", nodeType, err)
	}

	url := fmt.Sprintf("flowgraph://node-config/%s", nodeType)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add %s config schema: %w", nodeType, err)
	}
	compiled, err = compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s config schema: %w", nodeType, err)
	}

	cv.compiled[nodeType] = compiled
	return compiled, nil
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
