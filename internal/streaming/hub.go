package streaming

import (
	"context"

	"github.com/rendis/flowgraph/pkg/schema"
)

// EventFilter specifies which events a subscriber wants to receive.
// TypePrefixes match on prefix, so "workflow.node." selects all node events.
type EventFilter struct {
	RunID        string   `json:"run_id,omitempty"`
	TypePrefixes []string `json:"type_prefixes,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event schema.Event) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.Event, func(), error)
}
