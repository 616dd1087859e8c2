package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaValidation indicates a value does not satisfy a JSON Schema.
var ErrSchemaValidation = errors.New("schema validation failed")

// ValidateSchema checks value against a JSON Schema document. An empty schema accepts everything.
func ValidateSchema(schema map[string]any, value any) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(value))
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrSchemaValidation, strings.Join(messages, "; "))
	}

	return nil
}
