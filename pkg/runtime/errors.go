package runtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNoContext indicates an operation targeted a node without a live execution context.
	ErrNoContext = errors.New("no execution context")

	// ErrNoFormula indicates a node could not be resolved to a formula definition.
	ErrNoFormula = errors.New("no formula definition")

	// ErrExecutionTimeout indicates a run was abandoned after exceeding the execution timeout.
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrNotInitialized indicates the manager was used before Initialize or after Dispose.
	ErrNotInitialized = errors.New("execution manager not initialized")
)

// NoContextError is returned when a node has no live execution context.
type NoContextError struct {
	NodeID string
}

func (e *NoContextError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, ErrNoContext)
}

func (e *NoContextError) Is(target error) bool {
	return target == ErrNoContext
}

// NoFormulaError is returned when a node's formula could not be resolved.
type NoFormulaError struct {
	NodeID    string
	FormulaID string
}

func (e *NoFormulaError) Error() string {
	if e.FormulaID != "" {
		return fmt.Sprintf("node %s: %v: %s", e.NodeID, ErrNoFormula, e.FormulaID)
	}

	return fmt.Sprintf("node %s: %v", e.NodeID, ErrNoFormula)
}

func (e *NoFormulaError) Is(target error) bool {
	return target == ErrNoFormula
}

func IsNoContext(err error) bool {
	return errors.Is(err, ErrNoContext)
}

func IsNoFormula(err error) bool {
	return errors.Is(err, ErrNoFormula)
}
