// Package sources feeds values from outside the graph into api and streaming nodes.
package sources

import (
	"context"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
)

// ValueSink accepts new producer values. The propagator implements it.
type ValueSink interface {
	SetNodeValue(ctx context.Context, nodeID string, value any) error
}

// NodeLookup finds the current version of a node.
type NodeLookup interface {
	Node(id string) (*models.Node, bool)
}
