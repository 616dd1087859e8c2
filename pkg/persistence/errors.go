package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
)

var (
	// ErrGraphNotFound indicates no graph is stored under the requested identifier.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrInvalidGraph indicates a snapshot that cannot be stored.
	ErrInvalidGraph = errors.New("invalid graph")
)

// GraphError wraps storage failures with the operation and graph they concern.
type GraphError struct {
	Op      string // Operation being performed (e.g., "GraphByID", "SaveGraph")
	GraphID string
	Err     error
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("%s operation failed for graph %s: %v", e.Op, e.GraphID, e.Err)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

func (e *GraphError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewGraphError(op, graphID string, err error) *GraphError {
	return &GraphError{
		Op:      op,
		GraphID: graphID,
		Err:     err,
	}
}

// IsGraphNotFound checks if an error indicates a graph was not found.
func IsGraphNotFound(err error) bool {
	return errors.Is(err, ErrGraphNotFound)
}

// Prepare checks a snapshot before storage and stamps its timestamps.
func Prepare(graph *models.GraphSnapshot, now time.Time) error {
	if graph == nil || graph.ID == "" {
		return ErrInvalidGraph
	}

	if graph.CreatedAt.IsZero() {
		graph.CreatedAt = now
	}

	graph.UpdatedAt = now

	return nil
}
