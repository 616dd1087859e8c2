// Package postgresql provides PostgreSQL persistence for graph snapshots.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")

	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger,
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Graphs returns all graphs ordered by creation time.
func (p *Persistence) Graphs(ctx context.Context) ([]*models.GraphSnapshot, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, document, created_at, updated_at
		FROM graphs
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query graphs: %w", err)
	}

	defer func() { _ = rows.Close() }()

	graphs := make([]*models.GraphSnapshot, 0)

	for rows.Next() {
		graph, err := scanGraph(rows)
		if err != nil {
			return nil, err
		}

		graphs = append(graphs, graph)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate graphs: %w", err)
	}

	return graphs, nil
}

// SaveGraph upserts a graph. The original creation time is preserved on overwrite.
func (p *Persistence) SaveGraph(ctx context.Context, graph *models.GraphSnapshot) error {
	if err := persistence.Prepare(graph, time.Now().UTC()); err != nil {
		return persistence.NewGraphError("SaveGraph", "", err)
	}

	document, err := json.Marshal(graph)
	if err != nil {
		return persistence.NewGraphError("SaveGraph", graph.ID, err)
	}

	err = p.db.QueryRowContext(ctx, `
		INSERT INTO graphs (id, name, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		graph.ID, graph.Name, document, graph.CreatedAt, graph.UpdatedAt,
	).Scan(&graph.CreatedAt)
	if err != nil {
		return persistence.NewGraphError("SaveGraph", graph.ID, err)
	}

	p.logger.DebugContext(ctx, "Saved graph", "graph_id", graph.ID, "nodes", len(graph.Nodes), "edges", len(graph.Edges))

	return nil
}

// GraphByID returns a graph by its ID.
func (p *Persistence) GraphByID(ctx context.Context, id string) (*models.GraphSnapshot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, document, created_at, updated_at
		FROM graphs
		WHERE id = $1`, id)

	graph, err := scanGraph(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewGraphError("GraphByID", id, persistence.ErrGraphNotFound)
	}

	if err != nil {
		return nil, persistence.NewGraphError("GraphByID", id, err)
	}

	return graph, nil
}

// DeleteGraph removes a graph by its ID.
func (p *Persistence) DeleteGraph(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, "DELETE FROM graphs WHERE id = $1", id)
	if err != nil {
		return persistence.NewGraphError("DeleteGraph", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewGraphError("DeleteGraph", id, err)
	}

	if affected == 0 {
		return persistence.NewGraphError("DeleteGraph", id, persistence.ErrGraphNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGraph(row scanner) (*models.GraphSnapshot, error) {
	var (
		id        string
		document  []byte
		createdAt time.Time
		updatedAt time.Time
	)

	if err := row.Scan(&id, &document, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var graph models.GraphSnapshot
	if err := json.Unmarshal(document, &graph); err != nil {
		return nil, fmt.Errorf("failed to decode graph %s: %w", id, err)
	}

	graph.ID = id
	graph.CreatedAt = createdAt.UTC()
	graph.UpdatedAt = updatedAt.UTC()

	return &graph, nil
}
