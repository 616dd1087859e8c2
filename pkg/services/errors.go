// Package services coordinates the propagator, the value sources and persistence behind
// the operations the HTTP API and the CLI expose.
package services

import (
	"errors"
	"fmt"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/propagation"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrFetchingDisabled = errors.New("api fetching is not configured")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should be reported as HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, topology.ErrDuplicateNode) ||
		errors.Is(err, topology.ErrInvalidEdge) ||
		errors.Is(err, propagation.ErrNotProducer) ||
		errors.Is(err, propagation.ErrNotFormula)
}

// IsNotFoundError checks if an error refers to a missing node or edge.
func IsNotFoundError(err error) bool {
	return errors.Is(err, topology.ErrNodeNotFound) ||
		errors.Is(err, topology.ErrEdgeNotFound)
}

func NewValidationError(op, message string, err error) *ServiceError {
	if err == nil {
		err = ErrInvalidRequest
	}

	return &ServiceError{
		Op:      op,
		Message: message,
		Err:     fmt.Errorf("%w: %w", ErrInvalidRequest, err),
	}
}
