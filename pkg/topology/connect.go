package topology

import (
	"fmt"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/google/uuid"
)

// Connect validates and adds an edge. Validation failures leave the store untouched.
//
// Input and output nodes accept a single incoming edge and formula inputs a single edge per
// handle: connecting another edge there atomically replaces the existing one. Array and
// object aggregators accept any number of edges. Connecting an edge identical to an
// existing one returns the existing edge without changes.
func (s *Store) Connect(edge models.Edge) (ConnectResult, error) {
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}

	if err := s.validate.Struct(edge); err != nil {
		return ConnectResult{}, fmt.Errorf("%w: %w", ErrInvalidEdge, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.nodeLocked(edge.Source)
	if !ok {
		return ConnectResult{}, &ConnectionError{Source: edge.Source, Target: edge.Target, Err: ErrNodeNotFound}
	}

	target, ok := s.nodeLocked(edge.Target)
	if !ok {
		return ConnectResult{}, &ConnectionError{Source: edge.Source, Target: edge.Target, Err: ErrNodeNotFound}
	}

	for _, existing := range s.edges {
		if existing.ID == edge.ID {
			return ConnectResult{}, fmt.Errorf("%w: duplicate edge id %s", ErrInvalidEdge, edge.ID)
		}

		if sameEndpoints(existing, edge) {
			return ConnectResult{Edge: existing}, nil
		}
	}

	if err := CheckCompatibility(source, target, edge, s.formulas); err != nil {
		return ConnectResult{}, err
	}

	remaining := make([]models.Edge, 0, len(s.edges)+1)

	var replaced []models.Edge

	for _, existing := range s.edges {
		if replaces(target, edge, existing) {
			replaced = append(replaced, existing)

			continue
		}

		remaining = append(remaining, existing)
	}

	if hasPath(remaining, edge.Target, edge.Source) {
		return ConnectResult{}, &ConnectionError{Source: edge.Source, Target: edge.Target, Handle: edge.TargetHandle, Err: ErrCycleDetected}
	}

	s.edges = append(remaining, edge)

	changes := make([]models.EdgeChange, 0, len(replaced)+1)
	for _, old := range replaced {
		changes = append(changes, models.EdgeChange{Type: models.EdgeRemoved, Edge: old})
	}

	changes = append(changes, models.EdgeChange{Type: models.EdgeAdded, Edge: edge})

	return ConnectResult{Edge: edge, Replaced: replaced, Changes: changes}, nil
}

// Disconnect removes an edge by id.
func (s *Store) Disconnect(edgeID string) (models.EdgeChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, edge := range s.edges {
		if edge.ID != edgeID {
			continue
		}

		s.edges = append(s.edges[:i:i], s.edges[i+1:]...)

		return models.EdgeChange{Type: models.EdgeRemoved, Edge: edge}, nil
	}

	return models.EdgeChange{}, fmt.Errorf("%w: %s", ErrEdgeNotFound, edgeID)
}

func (s *Store) nodeLocked(id string) (*models.Node, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}

	return s.nodes[i], true
}

func sameEndpoints(a, b models.Edge) bool {
	return a.Source == b.Source && a.SourceHandle == b.SourceHandle &&
		a.Target == b.Target && a.TargetHandle == b.TargetHandle
}

// replaces reports whether connecting edge into target evicts existing.
func replaces(target *models.Node, edge, existing models.Edge) bool {
	if existing.Target != edge.Target {
		return false
	}

	switch target.Type {
	case models.NodeTypeInput, models.NodeTypeOutput:
		return true
	case models.NodeTypeFormula:
		return existing.InputKey() == edge.InputKey()
	default:
		return false
	}
}
