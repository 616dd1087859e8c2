// Package persistence stores graph snapshots so a playground can be saved and restored.
package persistence

import (
	"context"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
)

type Persistence interface {
	Graphs(ctx context.Context) ([]*models.GraphSnapshot, error)
	SaveGraph(ctx context.Context, graph *models.GraphSnapshot) error
	GraphByID(ctx context.Context, id string) (*models.GraphSnapshot, error)
	DeleteGraph(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
