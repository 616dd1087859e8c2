package topology

import "github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"

// DependenciesOf derives the dependency set of a node from an edge list. Both sides keep
// the order of the edge list.
func DependenciesOf(edges []models.Edge, nodeID string) models.Dependencies {
	deps := models.Dependencies{
		InputNodes:  []models.EdgeRef{},
		OutputNodes: []models.EdgeRef{},
	}

	for _, edge := range edges {
		if edge.Target == nodeID {
			deps.InputNodes = append(deps.InputNodes, models.EdgeRef{
				EdgeID:       edge.ID,
				NodeID:       edge.Source,
				SourceHandle: edge.SourceHandle,
				TargetHandle: edge.TargetHandle,
			})
		}

		if edge.Source == nodeID {
			deps.OutputNodes = append(deps.OutputNodes, models.EdgeRef{
				EdgeID:       edge.ID,
				NodeID:       edge.Target,
				SourceHandle: edge.SourceHandle,
				TargetHandle: edge.TargetHandle,
			})
		}
	}

	return deps
}

// IncomingEdges returns the edges targeting nodeID in list order.
func IncomingEdges(edges []models.Edge, nodeID string) []models.Edge {
	var incoming []models.Edge

	for _, edge := range edges {
		if edge.Target == nodeID {
			incoming = append(incoming, edge)
		}
	}

	return incoming
}

// OutgoingEdges returns the edges leaving nodeID in list order.
func OutgoingEdges(edges []models.Edge, nodeID string) []models.Edge {
	var outgoing []models.Edge

	for _, edge := range edges {
		if edge.Source == nodeID {
			outgoing = append(outgoing, edge)
		}
	}

	return outgoing
}

// AffectedNodes returns the sources and targets of the changed edges, deduplicated, in
// order of first appearance.
func AffectedNodes(changes []models.EdgeChange) []string {
	seen := make(map[string]struct{}, len(changes)*2)

	var affected []string

	for _, change := range changes {
		for _, id := range []string{change.Edge.Source, change.Edge.Target} {
			if id == "" {
				continue
			}

			if _, ok := seen[id]; ok {
				continue
			}

			seen[id] = struct{}{}
			affected = append(affected, id)
		}
	}

	return affected
}

// DiffEdges computes the changes that turn before into after, matching edges by id.
func DiffEdges(before, after []models.Edge) []models.EdgeChange {
	previous := make(map[string]models.Edge, len(before))
	for _, edge := range before {
		previous[edge.ID] = edge
	}

	current := make(map[string]struct{}, len(after))

	var changes []models.EdgeChange

	for _, edge := range after {
		current[edge.ID] = struct{}{}

		old, existed := previous[edge.ID]
		if existed && sameEndpoints(old, edge) {
			continue
		}

		if existed {
			changes = append(changes, models.EdgeChange{Type: models.EdgeRemoved, Edge: old})
		}

		changes = append(changes, models.EdgeChange{Type: models.EdgeAdded, Edge: edge})
	}

	for _, edge := range before {
		if _, ok := current[edge.ID]; !ok {
			changes = append(changes, models.EdgeChange{Type: models.EdgeRemoved, Edge: edge})
		}
	}

	return changes
}

// hasPath reports whether to is reachable from from following edges forward.
func hasPath(edges []models.Edge, from, to string) bool {
	adjacency := make(map[string][]string)
	for _, edge := range edges {
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
	}

	visited := map[string]bool{}
	stack := []string{from}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == to {
			return true
		}

		if visited[current] {
			continue
		}

		visited[current] = true
		stack = append(stack, adjacency[current]...)
	}

	return false
}

// TopologicalOrder orders node ids so every edge points forward. It fails with
// ErrCycleDetected when the edges contain a cycle.
func TopologicalOrder(nodes []*models.Node, edges []models.Edge) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	adjacency := make(map[string][]string)

	for _, node := range nodes {
		inDegree[node.ID] = 0
	}

	for _, edge := range edges {
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		inDegree[edge.Target]++
	}

	var queue []string

	for _, node := range nodes {
		if inDegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	order := make([]string, 0, len(nodes))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, next := range adjacency[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, ErrCycleDetected
	}

	return order, nil
}
