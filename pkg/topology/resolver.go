package topology

import (
	"context"
	"log/slog"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
)

// DependencyRefresher stores refreshed dependency sets. The execution runtime implements it.
type DependencyRefresher interface {
	UpdateNodeDependencies(ctx context.Context, nodeID string, deps models.Dependencies)
}

// Resolver turns edge changes into dependency refreshes. It never triggers execution.
type Resolver struct {
	logger    *slog.Logger
	store     *Store
	refresher DependencyRefresher
}

func NewResolver(logger *slog.Logger, store *Store, refresher DependencyRefresher) *Resolver {
	return &Resolver{
		logger:    logger.With("module", "dependency_resolver"),
		store:     store,
		refresher: refresher,
	}
}

// OnEdgesChanged refreshes the dependency set of every node touched by changes and returns
// the affected node ids.
func (r *Resolver) OnEdgesChanged(ctx context.Context, changes []models.EdgeChange) []string {
	affected := AffectedNodes(changes)
	if len(affected) == 0 {
		return nil
	}

	edges := r.store.Edges()

	for _, id := range affected {
		r.refresher.UpdateNodeDependencies(ctx, id, DependenciesOf(edges, id))
	}

	r.logger.DebugContext(ctx, "Refreshed dependencies", "changes", len(changes), "nodes", affected)

	return affected
}
