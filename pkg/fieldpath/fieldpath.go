// Package fieldpath addresses values inside decoded JSON documents with dot-delimited paths.
//
// Array elements are addressed positionally, so "data.items.0.price" selects the price of the
// first item. Paths are produced by ExtractFieldPaths and consumed by ResolvePath.
package fieldpath

import (
	"sort"
	"strconv"
	"strings"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
)

const (
	// Separator delimits path segments.
	Separator = "."

	// MaxDepth bounds how deep ExtractFieldPaths descends.
	MaxDepth = 16
)

// Split breaks a path into its segments. The empty path has no segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}

	return strings.Split(path, Separator)
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, Separator)
}

// ExtractFieldPaths enumerates the paths of a value.
//
// Object keys are visited in sorted order and every intermediate path is listed before the
// paths beneath it. Arrays are not unrolled: the first element stands in for the shape of
// the whole array, so one representative path (index 0) is produced per array.
func ExtractFieldPaths(value any) []string {
	var paths []string

	walk(value, nil, 0, &paths)

	return paths
}

func walk(value any, prefix []string, depth int, paths *[]string) {
	if depth >= MaxDepth {
		return
	}

	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			next := append(append([]string(nil), prefix...), k)
			*paths = append(*paths, Join(next...))
			walk(v[k], next, depth+1, paths)
		}
	case []any:
		if len(v) == 0 {
			return
		}

		next := append(append([]string(nil), prefix...), "0")
		*paths = append(*paths, Join(next...))
		walk(v[0], next, depth+1, paths)
	}
}

// ResolvePath follows path through value. It reports false when any segment is missing,
// indexes out of range, or traverses a scalar. The empty path resolves to value itself.
func ResolvePath(value any, path string) (any, bool) {
	current := value

	for _, segment := range Split(path) {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}

			current = v[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// TypeAt returns the value type found at path, or ValueTypeAny when the path does not resolve.
func TypeAt(value any, path string) models.ValueType {
	resolved, ok := ResolvePath(value, path)
	if !ok {
		return models.ValueTypeAny
	}

	return models.ValueTypeOf(resolved)
}
