package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/propagation"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/sources"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
)

const defaultGraphID = "default"

// GraphNotifier is told about persisted graph changes.
type GraphNotifier interface {
	GraphSaved(graph *models.GraphSnapshot)
	GraphDeleted(graphID string)
}

// Playground owns the single live graph of a process.
type Playground struct {
	logger      *slog.Logger
	propagator  *propagation.Propagator
	persistence persistence.Persistence

	streams  *sources.StreamBinder
	poller   *sources.Poller
	fetcher  *sources.APIFetcher
	notifier GraphNotifier

	mu        sync.RWMutex
	graphID   string
	graphName string
}

func NewPlayground(logger *slog.Logger, propagator *propagation.Propagator, persistence persistence.Persistence) *Playground {
	return &Playground{
		logger:      logger.With("module", "playground"),
		propagator:  propagator,
		persistence: persistence,
		graphID:     defaultGraphID,
	}
}

// WithSources attaches the producers that feed api and streaming nodes. Any of them may be nil.
func (p *Playground) WithSources(streams *sources.StreamBinder, poller *sources.Poller, fetcher *sources.APIFetcher) *Playground {
	p.streams = streams
	p.poller = poller
	p.fetcher = fetcher

	return p
}

func (p *Playground) WithNotifier(notifier GraphNotifier) *Playground {
	p.notifier = notifier

	return p
}

func (p *Playground) Propagator() *propagation.Propagator {
	return p.propagator
}

// GraphID returns the identifier the live graph is saved under.
func (p *Playground) GraphID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.graphID
}

// Graph captures the live graph.
func (p *Playground) Graph() *models.GraphSnapshot {
	p.mu.RLock()
	id, name := p.graphID, p.graphName
	p.mu.RUnlock()

	return p.propagator.Snapshot(id, name)
}

// ReplaceGraph swaps in a new node and edge collection. Edges are applied after nodes so that
// edges touching removed nodes are dropped first.
func (p *Playground) ReplaceGraph(ctx context.Context, nodes []*models.Node, edges []models.Edge) error {
	if err := p.propagator.SyncNodes(ctx, nodes); err != nil {
		return fmt.Errorf("failed to replace nodes: %w", err)
	}

	if err := p.propagator.SetEdges(ctx, edges); err != nil {
		return fmt.Errorf("failed to replace edges: %w", err)
	}

	p.syncSources(ctx)

	return nil
}

// AddNode adds a node to the live graph.
func (p *Playground) AddNode(ctx context.Context, node *models.Node) error {
	if node == nil {
		return NewValidationError("AddNode", "node is required", nil)
	}

	if err := p.propagator.AddNode(ctx, node); err != nil {
		return err
	}

	p.syncSources(ctx)

	return nil
}

// RemoveNode deletes a node with its edges, then releases its stream subscription and
// refresh schedule.
func (p *Playground) RemoveNode(ctx context.Context, nodeID string) error {
	if err := p.propagator.RemoveNode(ctx, nodeID); err != nil {
		return err
	}

	if p.streams != nil {
		p.streams.Release(ctx, nodeID)
	}

	p.syncSources(ctx)

	return nil
}

// Connect validates and adds an edge.
func (p *Playground) Connect(ctx context.Context, edge models.Edge) (topology.ConnectResult, error) {
	return p.propagator.Connect(ctx, edge)
}

func (p *Playground) Disconnect(ctx context.Context, edgeID string) error {
	return p.propagator.Disconnect(ctx, edgeID)
}

// SetNodeValue edits a producer node's value.
func (p *Playground) SetNodeValue(ctx context.Context, nodeID string, value any) error {
	return p.propagator.SetNodeValue(ctx, nodeID, value)
}

// RefreshNode fetches an api node now.
func (p *Playground) RefreshNode(ctx context.Context, nodeID string) (any, error) {
	if p.fetcher == nil {
		return nil, ErrFetchingDisabled
	}

	return p.fetcher.Refresh(ctx, nodeID)
}

// Graphs lists the stored graphs.
func (p *Playground) Graphs(ctx context.Context) ([]*models.GraphSnapshot, error) {
	return p.persistence.Graphs(ctx)
}

// Save stores the live graph under id and makes id the live graph's identity.
func (p *Playground) Save(ctx context.Context, id, name string) (*models.GraphSnapshot, error) {
	if id == "" {
		return nil, NewValidationError("Save", "graph ID is required", nil)
	}

	snapshot := p.propagator.Snapshot(id, name)

	if err := p.persistence.SaveGraph(ctx, snapshot); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.graphID, p.graphName = id, name
	p.mu.Unlock()

	if p.notifier != nil {
		p.notifier.GraphSaved(snapshot)
	}

	p.logger.InfoContext(ctx, "Graph saved", "graph_id", id, "nodes", len(snapshot.Nodes), "edges", len(snapshot.Edges))

	return snapshot, nil
}

// Load replaces the live graph with a stored one.
func (p *Playground) Load(ctx context.Context, id string) (*models.GraphSnapshot, error) {
	snapshot, err := p.persistence.GraphByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := p.Restore(ctx, snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

// Restore replaces the live graph with snapshot.
func (p *Playground) Restore(ctx context.Context, snapshot *models.GraphSnapshot) error {
	if snapshot == nil {
		return NewValidationError("Restore", "graph is required", nil)
	}

	if err := p.propagator.Load(ctx, snapshot); err != nil {
		return err
	}

	p.mu.Lock()
	p.graphID, p.graphName = snapshot.ID, snapshot.Name
	p.mu.Unlock()

	p.syncSources(ctx)

	return nil
}

// Delete removes a stored graph. The live graph is left untouched.
func (p *Playground) Delete(ctx context.Context, id string) error {
	if err := p.persistence.DeleteGraph(ctx, id); err != nil {
		return err
	}

	if p.notifier != nil {
		p.notifier.GraphDeleted(id)
	}

	return nil
}

// HealthCheck checks the health of the persistence layer.
func (p *Playground) HealthCheck(ctx context.Context) (string, bool) {
	if p.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := p.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (p *Playground) syncSources(ctx context.Context) {
	nodes := p.propagator.Store().Nodes()

	if p.streams != nil {
		p.streams.Sync(ctx, nodes)
	}

	if p.poller != nil {
		if err := p.poller.Sync(nodes); err != nil {
			p.logger.WarnContext(ctx, "Some api schedules were rejected", "error", err)
		}
	}
}

// IsGraphNotFound reports whether err refers to a missing stored graph.
func IsGraphNotFound(err error) bool {
	return errors.Is(err, persistence.ErrGraphNotFound)
}
