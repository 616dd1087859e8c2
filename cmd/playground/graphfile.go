package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var ErrMissingGraphFile = errors.New("graph file argument is required")

// LoadGraphFile reads a graph snapshot from a .json, .yaml or .yml file. Graphs without an
// id are named after the file and edges without an id get a generated one.
func LoadGraphFile(path string) (*models.GraphSnapshot, error) {
	if path == "" {
		return nil, ErrMissingGraphFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse graph file %s: %w", path, err)
		}
	}

	var graph models.GraphSnapshot
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("failed to parse graph file %s: %w", path, err)
	}

	if graph.ID == "" {
		graph.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	for i := range graph.Edges {
		if graph.Edges[i].ID == "" {
			graph.Edges[i].ID = uuid.NewString()
		}
	}

	return &graph, nil
}

// yamlToJSON re-encodes YAML so the graph goes through the same decoding as API payloads.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	return json.Marshal(doc)
}
