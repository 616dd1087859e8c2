// Package template renders Go text templates for api node requests and the format formula.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Render executes templateStr against data and decodes the output: JSON objects and arrays,
// numbers and booleans come back typed, anything else as a string.
func Render(templateStr string, data any) (any, error) {
	result, err := Expand(templateStr, data)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// Expand executes templateStr against data and returns the raw output.
func Expand(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("playground").
		Option("missingkey=zero").
		Funcs(funcs()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// NeedsTemplating reports whether input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RequestData is the data api node paths and bodies are rendered with.
func RequestData(nodeID string) map[string]any {
	return map[string]any{
		"env":  envVars(),
		"node": map[string]any{"id": nodeID},
	}
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"unix": func() int64 {
			return time.Now().Unix()
		},
		"json": func(v any) (string, error) {
			raw, err := json.Marshal(v)

			return string(raw), err
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}

			num := make([]byte, 1)
			if _, err := rand.Read(num); err != nil {
				return 0
			}

			return int(num[0]) % max
		},
	}
}

func envVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if ok {
			envMap[key] = value
		}
	}

	return envMap
}
