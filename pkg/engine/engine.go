// Package engine evaluates formula definitions against input snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
)

var (
	// ErrMissingInput indicates a required input has no value and no default.
	ErrMissingInput = errors.New("missing required input")

	// ErrNoEvaluator indicates a definition carries no compute function.
	ErrNoEvaluator = errors.New("formula has no evaluate function")
)

// Evaluator computes a formula result. Implementations must be safe for concurrent use and
// must not keep state between calls.
type Evaluator interface {
	Evaluate(ctx context.Context, def *models.FormulaDefinition, inputs map[string]any) (any, error)
}

// EvaluationError is a failed computation. Its message is the underlying failure, verbatim.
type EvaluationError struct {
	FormulaID string
	Err       error
}

func (e *EvaluationError) Error() string {
	return e.Err.Error()
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsEvaluationError reports whether err is a failed computation.
func IsEvaluationError(err error) bool {
	var evalErr *EvaluationError

	return errors.As(err, &evalErr)
}

// FuncEvaluator runs a definition's Evaluate function after filling defaults and checking
// required inputs and input schemas.
type FuncEvaluator struct{}

func NewFuncEvaluator() *FuncEvaluator {
	return &FuncEvaluator{}
}

func (e *FuncEvaluator) Evaluate(ctx context.Context, def *models.FormulaDefinition, inputs map[string]any) (result any, err error) {
	if def == nil || def.Evaluate == nil {
		return nil, &EvaluationError{Err: ErrNoEvaluator}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prepared, err := PrepareInputs(def, inputs)
	if err != nil {
		return nil, &EvaluationError{FormulaID: def.ID, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &EvaluationError{FormulaID: def.ID, Err: fmt.Errorf("formula panicked: %v", r)}
		}
	}()

	result, err = def.Evaluate(ctx, prepared)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}

		return nil, &EvaluationError{FormulaID: def.ID, Err: err}
	}

	return result, nil
}

// PrepareInputs copies inputs, fills declared defaults and validates required inputs and
// schemas. Keys that are not declared pass through untouched.
func PrepareInputs(def *models.FormulaDefinition, inputs map[string]any) (map[string]any, error) {
	prepared := maps.Clone(inputs)
	if prepared == nil {
		prepared = make(map[string]any, len(def.Inputs))
	}

	for _, in := range def.Inputs {
		value, ok := prepared[in.Key]
		if !ok || value == nil {
			if in.Default != nil {
				prepared[in.Key] = in.Default

				continue
			}

			if in.Required {
				return nil, fmt.Errorf("%w: %s", ErrMissingInput, in.Key)
			}

			continue
		}

		if err := models.ValidateSchema(in.Schema, value); err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Key, err)
		}
	}

	return prepared, nil
}
