package formulas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/fieldpath"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/template"
)

var (
	ErrNotANumber     = errors.New("value is not a number")
	ErrDivisionByZero = errors.New("division by zero")
)

var numberSchema = map[string]any{"type": "number"}

// Builtins returns fresh copies of the formulas shipped with the playground.
func Builtins() []*models.FormulaDefinition {
	return []*models.FormulaDefinition{
		{
			ID:          "sum",
			Name:        "Sum",
			Description: "Adds every numeric input. Array inputs are flattened.",
			Outputs:     []models.OutputDescriptor{{Key: "result", Type: models.ValueTypeNumber}},
			Evaluate:    evaluateSum,
		},
		{
			ID:          "product",
			Name:        "Product",
			Description: "Multiplies every numeric input. Array inputs are flattened.",
			Outputs:     []models.OutputDescriptor{{Key: "result", Type: models.ValueTypeNumber}},
			Evaluate:    evaluateProduct,
		},
		{
			ID:          "multiply",
			Name:        "Multiply",
			Description: "a × b",
			Inputs: []models.InputDescriptor{
				{Key: "a", Type: models.ValueTypeNumber, Required: true, Schema: numberSchema},
				{Key: "b", Type: models.ValueTypeNumber, Required: true, Schema: numberSchema},
			},
			Outputs:  []models.OutputDescriptor{{Key: "result", Type: models.ValueTypeNumber}},
			Evaluate: evaluateMultiply,
		},
		{
			ID:          "divide",
			Name:        "Divide",
			Description: "a ÷ b",
			Inputs: []models.InputDescriptor{
				{Key: "a", Type: models.ValueTypeNumber, Required: true, Schema: numberSchema},
				{Key: "b", Type: models.ValueTypeNumber, Required: true, Schema: numberSchema},
			},
			Outputs:  []models.OutputDescriptor{{Key: "result", Type: models.ValueTypeNumber}},
			Evaluate: evaluateDivide,
		},
		{
			ID:          "percentage",
			Name:        "Percentage",
			Description: "value as a percentage of total",
			Inputs: []models.InputDescriptor{
				{Key: "value", Type: models.ValueTypeNumber, Required: true, Schema: numberSchema},
				{Key: "total", Type: models.ValueTypeNumber, Required: true, Schema: numberSchema},
				{Key: "precision", Type: models.ValueTypeNumber, Default: 2.0, Schema: map[string]any{
					"type": "integer", "minimum": 0, "maximum": 10,
				}},
			},
			Outputs:  []models.OutputDescriptor{{Key: "result", Type: models.ValueTypeNumber}},
			Evaluate: evaluatePercentage,
		},
		{
			ID:          "concat",
			Name:        "Concatenate",
			Description: "Joins items with separator.",
			Inputs: []models.InputDescriptor{
				{Key: "items", Type: models.ValueTypeArray, Required: true},
				{Key: "separator", Type: models.ValueTypeString, Default: ""},
			},
			Outputs:  []models.OutputDescriptor{{Key: "result", Type: models.ValueTypeString}},
			Evaluate: evaluateConcat,
		},
		{
			ID:          "pick",
			Name:        "Pick",
			Description: "Selects the value at path inside source.",
			Inputs: []models.InputDescriptor{
				{Key: "source", Type: models.ValueTypeAny, Required: true},
				{Key: "path", Type: models.ValueTypeString, Required: true, Schema: map[string]any{
					"type": "string", "minLength": 1,
				}},
			},
			Outputs:  []models.OutputDescriptor{{Key: "result", Type: models.ValueTypeAny}},
			Evaluate: evaluatePick,
		},
		{
			ID:          "format",
			Name:        "Format",
			Description: "Renders the template input as a Go text template over every other input.",
			Outputs:     []models.OutputDescriptor{{Key: "result", Type: models.ValueTypeAny}},
			Evaluate:    evaluateFormat,
		},
	}
}

func evaluateSum(_ context.Context, inputs map[string]any) (any, error) {
	values, err := collectNumbers(inputs)
	if err != nil {
		return nil, err
	}

	var total float64
	for _, v := range values {
		total += v
	}

	return total, nil
}

func evaluateProduct(_ context.Context, inputs map[string]any) (any, error) {
	values, err := collectNumbers(inputs)
	if err != nil {
		return nil, err
	}

	if len(values) == 0 {
		return 0.0, nil
	}

	total := 1.0
	for _, v := range values {
		total *= v
	}

	return total, nil
}

func evaluateMultiply(_ context.Context, inputs map[string]any) (any, error) {
	a, b, err := operands(inputs, "a", "b")
	if err != nil {
		return nil, err
	}

	return a * b, nil
}

func evaluateDivide(_ context.Context, inputs map[string]any) (any, error) {
	a, b, err := operands(inputs, "a", "b")
	if err != nil {
		return nil, err
	}

	if b == 0 {
		return nil, ErrDivisionByZero
	}

	return a / b, nil
}

func evaluatePercentage(_ context.Context, inputs map[string]any) (any, error) {
	value, total, err := operands(inputs, "value", "total")
	if err != nil {
		return nil, err
	}

	if total == 0 {
		return nil, ErrDivisionByZero
	}

	precision, err := toNumber(inputs["precision"])
	if err != nil {
		return nil, fmt.Errorf("precision: %w", err)
	}

	scale := 1.0
	for range int(precision) {
		scale *= 10
	}

	pct := value / total * 100

	return float64(int64(pct*scale+sign(pct)*0.5)) / scale, nil
}

func evaluateConcat(_ context.Context, inputs map[string]any) (any, error) {
	items, ok := inputs["items"].([]any)
	if !ok {
		return nil, fmt.Errorf("items: expected array, got %s", models.ValueTypeOf(inputs["items"]))
	}

	separator, _ := inputs["separator"].(string)
	parts := make([]string, 0, len(items))

	for _, item := range items {
		switch v := item.(type) {
		case nil:
			continue
		case string:
			parts = append(parts, v)
		case map[string]any, []any:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}

			parts = append(parts, string(raw))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}

	return strings.Join(parts, separator), nil
}

func evaluatePick(_ context.Context, inputs map[string]any) (any, error) {
	path, _ := inputs["path"].(string)

	value, ok := fieldpath.ResolvePath(inputs["source"], path)
	if !ok {
		return nil, fmt.Errorf("path %q not found", path)
	}

	return value, nil
}

func evaluateFormat(_ context.Context, inputs map[string]any) (any, error) {
	tmpl, ok := inputs["template"].(string)
	if !ok {
		return nil, fmt.Errorf("template: expected string, got %s", models.ValueTypeOf(inputs["template"]))
	}

	data := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if k != "template" {
			data[k] = v
		}
	}

	return template.Render(tmpl, data)
}

// collectNumbers gathers every input value in key order, flattening arrays. Nil values are skipped.
func collectNumbers(inputs map[string]any) ([]float64, error) {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	var values []float64

	var add func(key string, v any) error

	add = func(key string, v any) error {
		switch val := v.(type) {
		case nil:
			return nil
		case []any:
			for _, item := range val {
				if err := add(key, item); err != nil {
					return err
				}
			}

			return nil
		default:
			n, err := toNumber(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}

			values = append(values, n)

			return nil
		}
	}

	for _, k := range keys {
		if err := add(k, inputs[k]); err != nil {
			return nil, err
		}
	}

	return values, nil
}

func operands(inputs map[string]any, left, right string) (float64, float64, error) {
	a, err := toNumber(inputs[left])
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", left, err)
	}

	b, err := toNumber(inputs[right])
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", right, err)
	}

	return a, b, nil
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotANumber, n)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrNotANumber, v)
	}
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}

	return 1
}
