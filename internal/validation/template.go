package validation

import (
	"fmt"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// validateTemplates checks {{...}} references in node data: unknown node
// references are errors, as are reference cycles.
func validateTemplates(g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	known := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		known[n.ID] = true
	}
	// The run's initial inputs are addressable alongside node outputs.
	known["inputs"] = true

	for i, n := range g.Nodes {
		for ref := range expressions.DataRefs(n.Data) {
			if ref == n.ID {
				result.AddError(fmt.Sprintf("/nodes/%d/data", i), schema.ErrCodeCircularRef,
					fmt.Sprintf("node %s references its own output", n.ID))
				continue
			}
			if !known[ref] {
				result.AddError(fmt.Sprintf("/nodes/%d/data", i), schema.ErrCodeValidation,
					fmt.Sprintf("node %s references unknown node %s", n.ID, ref))
			}
		}
	}

	if err := expressions.DetectCircularRefs(g.Nodes); err != nil {
		result.AddError("/nodes", schema.ErrCodeCircularRef, err.Error())
	}

	return result
}
