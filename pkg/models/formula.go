package models

import "context"

// EvaluateFunc computes a formula result from its input values.
// Implementations must not retain state between calls.
type EvaluateFunc func(ctx context.Context, inputs map[string]any) (any, error)

// InputDescriptor declares one input of a formula.
type InputDescriptor struct {
	Key      string         `json:"key"                validate:"required"`
	Type     ValueType      `json:"type"               validate:"required"`
	Required bool           `json:"required"`
	Default  any            `json:"default,omitempty"`
	Schema   map[string]any `json:"schema,omitempty"` // Optional JSON Schema for the accepted values
}

// OutputDescriptor declares one output key of a formula.
type OutputDescriptor struct {
	Key  string    `json:"key"  validate:"required"`
	Type ValueType `json:"type" validate:"required"`
}

// FormulaDefinition describes a computation resolved by id from the formula repository.
type FormulaDefinition struct {
	ID          string             `json:"id"          validate:"required"`
	Name        string             `json:"name"        validate:"required"`
	Description string             `json:"description"`
	Inputs      []InputDescriptor  `json:"inputs"      validate:"dive"`
	Outputs     []OutputDescriptor `json:"outputs"     validate:"dive"`
	Evaluate    EvaluateFunc       `json:"-"`
}

// Input returns the descriptor for an input key.
func (f *FormulaDefinition) Input(key string) (InputDescriptor, bool) {
	for _, in := range f.Inputs {
		if in.Key == key {
			return in, true
		}
	}

	return InputDescriptor{}, false
}

// Output returns the descriptor for an output key.
func (f *FormulaDefinition) Output(key string) (OutputDescriptor, bool) {
	for _, out := range f.Outputs {
		if out.Key == key {
			return out, true
		}
	}

	return OutputDescriptor{}, false
}
