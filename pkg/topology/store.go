// Package topology owns the live node and edge collections of a formula graph and derives
// dependency sets from them.
package topology

import (
	"fmt"
	"sync"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Store holds the graph topology. Edges keep their insertion order, which is the order
// downstream nodes are notified in and the order array aggregators concatenate in.
type Store struct {
	formulas FormulaLookup
	validate *validator.Validate

	mu    sync.RWMutex
	nodes []*models.Node
	index map[string]int
	edges []models.Edge
}

// ConnectResult describes the outcome of Connect.
type ConnectResult struct {
	Edge     models.Edge
	Replaced []models.Edge
	Changes  []models.EdgeChange
}

func NewStore(formulas FormulaLookup) *Store {
	return &Store{
		formulas: formulas,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		index:    make(map[string]int),
	}
}

// SetNodes replaces the node collection. Edges that reference removed nodes are dropped and
// reported as removals.
func (s *Store) SetNodes(nodes []*models.Node) ([]models.EdgeChange, error) {
	index := make(map[string]int, len(nodes))
	copied := make([]*models.Node, 0, len(nodes))

	for _, node := range nodes {
		if err := s.validate.Struct(node); err != nil {
			return nil, fmt.Errorf("invalid node %s: %w", node.ID, err)
		}

		if _, exists := index[node.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
		}

		clone, err := withPayload(node)
		if err != nil {
			return nil, err
		}

		index[node.ID] = len(copied)
		copied = append(copied, clone)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = copied
	s.index = index

	kept := make([]models.Edge, 0, len(s.edges))

	var changes []models.EdgeChange

	for _, edge := range s.edges {
		if s.hasNodeLocked(edge.Source) && s.hasNodeLocked(edge.Target) {
			kept = append(kept, edge)

			continue
		}

		changes = append(changes, models.EdgeChange{Type: models.EdgeRemoved, Edge: edge})
	}

	s.edges = kept

	return changes, nil
}

// SetEdges replaces the edge collection and returns the resulting changes. Every edge is
// validated like Connect, except that two edges competing for a single-edge target reject the
// batch instead of replacing each other. The result must stay acyclic. An edge resubmitted with
// its stored id and endpoints keeps its stored animation flag.
func (s *Store) SetEdges(edges []models.Edge) ([]models.EdgeChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[string]models.Edge, len(s.edges))
	for _, edge := range s.edges {
		stored[edge.ID] = edge
	}

	seen := make(map[string]struct{}, len(edges))
	copied := make([]models.Edge, 0, len(edges))

	for _, edge := range edges {
		if edge.ID == "" {
			edge.ID = uuid.NewString()
		}

		if err := s.validate.Struct(edge); err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrInvalidEdge, edge.ID, err)
		}

		if _, dup := seen[edge.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate edge id %s", ErrInvalidEdge, edge.ID)
		}

		source, ok := s.nodeLocked(edge.Source)
		if !ok {
			return nil, fmt.Errorf("%w: edge %s references unknown node", ErrNodeNotFound, edge.ID)
		}

		target, ok := s.nodeLocked(edge.Target)
		if !ok {
			return nil, fmt.Errorf("%w: edge %s references unknown node", ErrNodeNotFound, edge.ID)
		}

		for _, prior := range copied {
			if replaces(target, edge, prior) {
				return nil, &ConnectionError{
					Source: edge.Source,
					Target: edge.Target,
					Handle: edge.TargetHandle,
					Err:    fmt.Errorf("%w: edge %s conflicts with edge %s", ErrConflictingEdge, edge.ID, prior.ID),
				}
			}
		}

		if err := CheckCompatibility(source, target, edge, s.formulas); err != nil {
			return nil, err
		}

		if old, ok := stored[edge.ID]; ok && sameEndpoints(old, edge) {
			edge.Animated = old.Animated
		}

		seen[edge.ID] = struct{}{}
		copied = append(copied, edge)
	}

	if _, err := TopologicalOrder(s.nodes, copied); err != nil {
		return nil, err
	}

	changes := DiffEdges(s.edges, copied)
	s.edges = copied

	return changes, nil
}

// Nodes returns copies of all nodes in insertion order.
func (s *Store) Nodes() []*models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*models.Node, len(s.nodes))
	for i, node := range s.nodes {
		nodes[i] = node.Clone()
	}

	return nodes
}

// Edges returns a copy of the edge list.
func (s *Store) Edges() []models.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Edge(nil), s.edges...)
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (*models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, false
	}

	return s.nodes[i].Clone(), true
}

// Edge returns the edge with the given id.
func (s *Store) Edge(id string) (models.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, edge := range s.edges {
		if edge.ID == id {
			return edge, true
		}
	}

	return models.Edge{}, false
}

// Dependencies derives the dependency set of a node from the current edges.
func (s *Store) Dependencies(nodeID string) models.Dependencies {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return DependenciesOf(s.edges, nodeID)
}

// AddNode appends a node.
func (s *Store) AddNode(node *models.Node) error {
	if err := s.validate.Struct(node); err != nil {
		return fmt.Errorf("invalid node %s: %w", node.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasNodeLocked(node.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}

	clone, err := withPayload(node)
	if err != nil {
		return err
	}

	s.index[node.ID] = len(s.nodes)
	s.nodes = append(s.nodes, clone)

	return nil
}

// RemoveNode deletes a node together with its edges and reports the removed edges.
func (s *Store) RemoveNode(id string) ([]models.EdgeChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasNodeLocked(id) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	nodes := make([]*models.Node, 0, len(s.nodes)-1)
	index := make(map[string]int, len(s.nodes)-1)

	for _, node := range s.nodes {
		if node.ID == id {
			continue
		}

		index[node.ID] = len(nodes)
		nodes = append(nodes, node)
	}

	s.nodes = nodes
	s.index = index

	var changes []models.EdgeChange

	kept := make([]models.Edge, 0, len(s.edges))

	for _, edge := range s.edges {
		if edge.Source == id || edge.Target == id {
			changes = append(changes, models.EdgeChange{Type: models.EdgeRemoved, Edge: edge})

			continue
		}

		kept = append(kept, edge)
	}

	s.edges = kept

	return changes, nil
}

// UpdateNodeData replaces a node's payload. The payload variant must match the node type.
func (s *Store) UpdateNodeData(id string, data models.NodeData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	if data.NodeType() != s.nodes[i].Type {
		return fmt.Errorf("payload type %s does not match node %s of type %s", data.NodeType(), id, s.nodes[i].Type)
	}

	updated := s.nodes[i].Clone()
	updated.Data = data
	s.nodes[i] = updated

	return nil
}

// SetNodeValue replaces the value carried by a node's payload and returns the updated node.
func (s *Store) SetNodeValue(id string, value any) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	updated := s.nodes[i].Clone()
	updated.Data = updated.Data.WithValue(value)
	s.nodes[i] = updated

	return updated.Clone(), nil
}

// SetAnimated flags every edge into target as animated or not.
func (s *Store) SetAnimated(target string, animated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.edges {
		if s.edges[i].Target == target {
			s.edges[i].Animated = animated
		}
	}
}

// withPayload clones node, filling in the empty payload for its type when it has none.
func withPayload(node *models.Node) (*models.Node, error) {
	clone := node.Clone()
	if clone.Data != nil {
		if clone.Data.NodeType() != clone.Type {
			return nil, fmt.Errorf("payload type %s does not match node %s of type %s", clone.Data.NodeType(), clone.ID, clone.Type)
		}

		return clone, nil
	}

	data, err := models.EmptyData(clone.Type)
	if err != nil {
		return nil, err
	}

	clone.Data = data

	return clone, nil
}

func (s *Store) hasNodeLocked(id string) bool {
	_, ok := s.index[id]

	return ok
}
