// Package testutil provides graph builders shared by tests.
package testutil

import (
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/google/uuid"
)

func InputNode(id string, value any) *models.Node {
	return models.NewNode(id, models.InputData{Value: value})
}

func FormulaNode(id, formulaID string) *models.Node {
	return models.NewNode(id, models.FormulaData{FormulaID: formulaID})
}

func OutputNode(id string) *models.Node {
	return models.NewNode(id, models.OutputData{})
}

func ArrayNode(id string) *models.Node {
	return models.NewNode(id, models.ArrayData{Value: []any{}})
}

func ObjectNode(id string) *models.Node {
	return models.NewNode(id, models.ObjectData{Value: map[string]any{}})
}

// Edge connects source to target with a generated id, delivering under targetHandle.
func Edge(source, target, targetHandle string) models.Edge {
	return models.Edge{
		ID:           uuid.NewString(),
		Source:       source,
		Target:       target,
		TargetHandle: targetHandle,
	}
}

// CreateTestGraph returns a graph computing total = price * qty with total auto-running,
// overridable like the node builders.
func CreateTestGraph(overrides ...func(*models.GraphSnapshot)) *models.GraphSnapshot {
	graph := &models.GraphSnapshot{
		ID:   uuid.NewString(),
		Name: "Test Graph",
		Nodes: []*models.Node{
			InputNode("price", 12.5),
			InputNode("qty", 4.0),
			FormulaNode("total", "multiply"),
			OutputNode("out"),
		},
		Edges: []models.Edge{
			Edge("price", "total", "a"),
			Edge("qty", "total", "b"),
			Edge("total", "out", ""),
		},
		AutoRun: []string{"total"},
	}

	for _, override := range overrides {
		override(graph)
	}

	return graph
}

// WithGraphID sets the graph identifier.
func WithGraphID(id string) func(*models.GraphSnapshot) {
	return func(g *models.GraphSnapshot) {
		g.ID = id
	}
}
