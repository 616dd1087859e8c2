package redis_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*redis.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	container, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(container))
	})

	endpoint, err := container.Endpoint(ctx, "redis")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := redis.NewPersistence(ctx, logger, endpoint)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, p.Close(ctx))
	})

	return p, ctx
}

func TestRedisPersistence(t *testing.T) {
	p, ctx := setupRedis(t)

	require.NoError(t, p.HealthCheck(ctx))

	first := &models.GraphSnapshot{
		ID:    "first",
		Name:  "First",
		Nodes: []*models.Node{models.NewNode("a", models.InputData{Value: "x"})},
	}
	require.NoError(t, p.SaveGraph(ctx, first))

	second := &models.GraphSnapshot{ID: "second", Name: "Second"}
	require.NoError(t, p.SaveGraph(ctx, second))

	loaded, err := p.GraphByID(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, "First", loaded.Name)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, models.InputData{Value: "x"}, loaded.Nodes[0].Data)

	renamed := &models.GraphSnapshot{ID: "first", Name: "Renamed"}
	require.NoError(t, p.SaveGraph(ctx, renamed))
	assert.True(t, first.CreatedAt.Equal(renamed.CreatedAt))

	graphs, err := p.Graphs(ctx)
	require.NoError(t, err)
	require.Len(t, graphs, 2)
	assert.Equal(t, "Renamed", graphs[0].Name)
	assert.Equal(t, "second", graphs[1].ID)

	require.NoError(t, p.DeleteGraph(ctx, "first"))
	assert.True(t, persistence.IsGraphNotFound(p.DeleteGraph(ctx, "first")))

	_, err = p.GraphByID(ctx, "first")
	assert.True(t, persistence.IsGraphNotFound(err))
}

func TestRedisPersistence_InvalidURL(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	_, err := redis.NewPersistence(t.Context(), logger, "not-a-redis-url")
	assert.Error(t, err)
}
