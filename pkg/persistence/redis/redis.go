// Package redis provides Redis persistence for graph snapshots.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const (
	graphKeyPrefix = "playground:graph:"
	graphIndexKey  = "playground:graphs" // Sorted set of graph IDs scored by creation time
)

// Persistence implements the persistence layer on top of Redis.
type Persistence struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPersistence connects to the Redis server described by a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Persistence{
		client: client,
		logger: logger.With("module", "redis_persistence"),
	}, nil
}

// Close closes the Redis client.
func (p *Persistence) Close(_ context.Context) error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

// HealthCheck pings the Redis server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Graphs returns all graphs ordered by creation time.
func (p *Persistence) Graphs(ctx context.Context) ([]*models.GraphSnapshot, error) {
	ids, err := p.client.ZRange(ctx, graphIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}

	graphs := make([]*models.GraphSnapshot, 0, len(ids))

	for _, id := range ids {
		graph, err := p.GraphByID(ctx, id)
		if persistence.IsGraphNotFound(err) {
			p.logger.WarnContext(ctx, "Graph index references missing graph", "graph_id", id)

			continue
		}

		if err != nil {
			return nil, err
		}

		graphs = append(graphs, graph)
	}

	return graphs, nil
}

// SaveGraph stores a graph document and indexes it. The original creation time is kept on overwrite.
func (p *Persistence) SaveGraph(ctx context.Context, graph *models.GraphSnapshot) error {
	if err := persistence.Prepare(graph, time.Now().UTC()); err != nil {
		return persistence.NewGraphError("SaveGraph", "", err)
	}

	existing, err := p.GraphByID(ctx, graph.ID)
	switch {
	case err == nil:
		graph.CreatedAt = existing.CreatedAt
	case !persistence.IsGraphNotFound(err):
		return persistence.NewGraphError("SaveGraph", graph.ID, err)
	}

	document, err := json.Marshal(graph)
	if err != nil {
		return persistence.NewGraphError("SaveGraph", graph.ID, err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, graphKeyPrefix+graph.ID, document, 0)
		pipe.ZAdd(ctx, graphIndexKey, redis.Z{
			Score:  float64(graph.CreatedAt.UnixMilli()),
			Member: graph.ID,
		})

		return nil
	})
	if err != nil {
		return persistence.NewGraphError("SaveGraph", graph.ID, err)
	}

	return nil
}

// GraphByID returns a graph by its ID.
func (p *Persistence) GraphByID(ctx context.Context, id string) (*models.GraphSnapshot, error) {
	document, err := p.client.Get(ctx, graphKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewGraphError("GraphByID", id, persistence.ErrGraphNotFound)
	}

	if err != nil {
		return nil, persistence.NewGraphError("GraphByID", id, err)
	}

	var graph models.GraphSnapshot
	if err := json.Unmarshal(document, &graph); err != nil {
		return nil, persistence.NewGraphError("GraphByID", id, fmt.Errorf("failed to decode graph: %w", err))
	}

	return &graph, nil
}

// DeleteGraph removes a graph and its index entry.
func (p *Persistence) DeleteGraph(ctx context.Context, id string) error {
	var deleted *redis.IntCmd

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, graphKeyPrefix+id)
		pipe.ZRem(ctx, graphIndexKey, id)

		return nil
	})
	if err != nil {
		return persistence.NewGraphError("DeleteGraph", id, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewGraphError("DeleteGraph", id, persistence.ErrGraphNotFound)
	}

	return nil
}
