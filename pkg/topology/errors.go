package topology

import (
	"errors"
	"fmt"
)

var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrEdgeNotFound      = errors.New("edge not found")
	ErrDuplicateNode     = errors.New("duplicate node ID")
	ErrInvalidEdge       = errors.New("invalid edge")
	ErrCycleDetected     = errors.New("cycle detected in graph")
	ErrIncompatibleTypes = errors.New("incompatible types")
	ErrUnknownHandle     = errors.New("unknown target handle")
	ErrUnsupportedTarget = errors.New("node does not accept incoming edges")
	ErrUnknownFormula    = errors.New("unknown formula")
	ErrConflictingEdge   = errors.New("target handle already has an incoming edge")
)

// ConnectionError wraps a rejected connection with the edge it concerned.
type ConnectionError struct {
	Source string
	Target string
	Handle string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("cannot connect %s to %s:%s: %v", e.Source, e.Target, e.Handle, e.Err)
	}

	return fmt.Sprintf("cannot connect %s to %s: %v", e.Source, e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionRejected reports whether err rejected an edge during validation.
func IsConnectionRejected(err error) bool {
	var connErr *ConnectionError

	return errors.As(err, &connErr)
}
