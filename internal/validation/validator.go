package validation

import (
	"github.com/rendis/flowgraph/pkg/schema"
)

// DefaultMaxScopeDepth bounds how deeply scope nodes may nest inside each
// other's bodies.
const DefaultMaxScopeDepth = 3

// GraphValidator runs the three-stage validation pipeline:
// 1. Structural (node/edge integrity, cycles, scope pairing and depth)
// 2. Config (per-node-type JSON Schema on node data)
// 3. Template (unknown and circular references)
type GraphValidator struct {
	config        *ConfigValidator
	maxScopeDepth int
}

// ValidatorOption configures a GraphValidator.
type ValidatorOption func(*GraphValidator)

// WithMaxScopeDepth overrides the scope nesting bound.
func WithMaxScopeDepth(n int) ValidatorOption {
	return func(gv *GraphValidator) {
		if n > 0 {
			gv.maxScopeDepth = n
		}
	}
}

// NewGraphValidator creates a GraphValidator.
func NewGraphValidator(opts ...ValidatorOption) *GraphValidator {
	gv := &GraphValidator{
		config:        NewConfigValidator(),
		maxScopeDepth: DefaultMaxScopeDepth,
	}
	for _, opt := range opts {
		opt(gv)
	}
	return gv
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: config and template stages assume a
// well-formed graph.
func (gv *GraphValidator) Validate(g *schema.Graph) *schema.ValidationResult {
	if g == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "graph is nil")
		return r
	}

	result := validateStructural(g, gv.maxScopeDepth)
	if !result.Valid() {
		return result
	}

	result.Merge(gv.config.validateGraph(g))
	result.Merge(validateTemplates(g))
	return result
}

// ValidateGraph returns a FlowError when the graph is invalid, nil
// otherwise.
func (gv *GraphValidator) ValidateGraph(g *schema.Graph) error {
	return gv.Validate(g).ToError()
}
