package topology

import (
	"errors"
	"fmt"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/fieldpath"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
)

// FormulaLookup resolves formula definitions by id.
type FormulaLookup interface {
	Lookup(id string) (*models.FormulaDefinition, bool)
}

// handleSpec is what a target handle declares about the values it accepts.
type handleSpec struct {
	valueType models.ValueType
	schema    map[string]any
}

// SourceType returns the type of the value an edge would carry out of source, along with
// the value itself when one is currently known.
func SourceType(source *models.Node, sourceHandle string, formulas FormulaLookup) (models.ValueType, any, bool) {
	value, ok := fieldpath.ResolvePath(source.Value(), sourceHandle)
	if ok && value != nil {
		return models.ValueTypeOf(value), value, true
	}

	if data, isFormula := source.Data.(models.FormulaData); isFormula && formulas != nil {
		if def, found := formulas.Lookup(data.FormulaID); found {
			if sourceHandle == "" && len(def.Outputs) == 1 {
				return def.Outputs[0].Type, nil, false
			}

			if out, declared := def.Output(sourceHandle); declared {
				return out.Type, nil, false
			}
		}
	}

	return models.ValueTypeAny, nil, false
}

func targetSpec(target *models.Node, targetHandle string, formulas FormulaLookup) (handleSpec, error) {
	switch data := target.Data.(type) {
	case models.InputData:
		return handleSpec{valueType: data.ValueType}, nil
	case models.FormulaData:
		if formulas == nil {
			return handleSpec{valueType: models.ValueTypeAny}, nil
		}

		def, found := formulas.Lookup(data.FormulaID)
		if !found || len(def.Inputs) == 0 {
			return handleSpec{valueType: models.ValueTypeAny}, nil
		}

		in, declared := def.Input(targetHandle)
		if !declared {
			return handleSpec{}, fmt.Errorf("%w: formula %s has no input %q", ErrUnknownHandle, def.ID, targetHandle)
		}

		return handleSpec{valueType: in.Type, schema: in.Schema}, nil
	case models.APIData, models.StreamingData:
		return handleSpec{}, fmt.Errorf("%w: %s node", ErrUnsupportedTarget, target.Type)
	default:
		return handleSpec{valueType: models.ValueTypeAny}, nil
	}
}

// CheckCompatibility verifies that the value carried by edge out of source is acceptable to
// the target handle. Values that are already known are also checked against the handle's
// JSON Schema, if it declares one.
func CheckCompatibility(source, target *models.Node, edge models.Edge, formulas FormulaLookup) error {
	spec, err := targetSpec(target, edge.TargetHandle, formulas)
	if err != nil {
		return &ConnectionError{Source: edge.Source, Target: edge.Target, Handle: edge.TargetHandle, Err: err}
	}

	actual, value, known := SourceType(source, edge.SourceHandle, formulas)

	if !spec.valueType.Accepts(actual) {
		return &ConnectionError{
			Source: edge.Source,
			Target: edge.Target,
			Handle: edge.TargetHandle,
			Err:    fmt.Errorf("%w: %s does not accept %s", ErrIncompatibleTypes, spec.valueType, actual),
		}
	}

	if known && len(spec.schema) > 0 {
		if err := models.ValidateSchema(spec.schema, value); err != nil {
			return &ConnectionError{
				Source: edge.Source,
				Target: edge.Target,
				Handle: edge.TargetHandle,
				Err:    errors.Join(ErrIncompatibleTypes, err),
			}
		}
	}

	return nil
}
