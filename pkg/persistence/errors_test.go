package persistence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		err := persistence.NewGraphError("GraphByID", "graph-123", persistence.ErrGraphNotFound)

		assert.True(t, persistence.IsGraphNotFound(err))
		assert.True(t, errors.Is(err, persistence.ErrGraphNotFound))
		assert.False(t, persistence.IsGraphNotFound(persistence.NewGraphError("SaveGraph", "g", persistence.ErrInvalidGraph)))
	})

	t.Run("graph error contains context", func(t *testing.T) {
		err := persistence.NewGraphError("DeleteGraph", "graph-123", persistence.ErrGraphNotFound)

		assert.Contains(t, err.Error(), "DeleteGraph")
		assert.Contains(t, err.Error(), "graph-123")
		assert.Contains(t, err.Error(), "graph not found")
	})
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)

	graph := &models.GraphSnapshot{ID: "g", CreatedAt: created}
	require.NoError(t, persistence.Prepare(graph, now))
	assert.Equal(t, created, graph.CreatedAt)
	assert.Equal(t, now, graph.UpdatedAt)

	fresh := &models.GraphSnapshot{ID: "h"}
	require.NoError(t, persistence.Prepare(fresh, now))
	assert.Equal(t, now, fresh.CreatedAt)

	assert.ErrorIs(t, persistence.Prepare(&models.GraphSnapshot{}, now), persistence.ErrInvalidGraph)
	assert.ErrorIs(t, persistence.Prepare(nil, now), persistence.ErrInvalidGraph)
}
