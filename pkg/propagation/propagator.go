// Package propagation moves values through a formula graph. It applies topology edits,
// keeps execution contexts bound to formula nodes and recomputes the values of input,
// output, object and array nodes whenever something upstream changes.
package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/fieldpath"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/runtime"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
)

var (
	ErrNotProducer = errors.New("node does not accept manual values")
	ErrNotFormula  = errors.New("node is not a formula node")
)

// Propagator composes the topology store with the execution runtime. Graph edits and value
// changes are processed one at a time.
type Propagator struct {
	logger   *slog.Logger
	store    *topology.Store
	resolver *topology.Resolver
	manager  *runtime.Manager
	formulas topology.FormulaLookup

	mu sync.Mutex
}

// NewPropagator wires the store and the manager together. Formula results are written back
// into their nodes and forwarded downstream, and edges into running formulas are animated.
func NewPropagator(logger *slog.Logger, store *topology.Store, manager *runtime.Manager, formulas topology.FormulaLookup) *Propagator {
	p := &Propagator{
		logger:   logger.With("module", "propagator"),
		store:    store,
		manager:  manager,
		formulas: formulas,
	}
	p.resolver = topology.NewResolver(logger, store, manager)

	manager.OnResult(p.HandleResult)
	manager.States().Subscribe(p.HandleState)

	return p
}

func (p *Propagator) Store() *topology.Store {
	return p.store
}

func (p *Propagator) Manager() *runtime.Manager {
	return p.manager
}

// SyncNodes replaces the node collection. Contexts are created for new formula nodes,
// rebound when a node's formula changes and disposed for nodes that are gone.
func (p *Propagator) SyncNodes(ctx context.Context, nodes []*models.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.syncNodesLocked(ctx, nodes)
}

func (p *Propagator) syncNodesLocked(ctx context.Context, nodes []*models.Node) error {
	previous := p.store.Nodes()

	removed, err := p.store.SetNodes(nodes)
	if err != nil {
		return err
	}

	for _, old := range previous {
		current, ok := p.store.Node(old.ID)
		if !ok || current.Type != models.NodeTypeFormula {
			p.manager.DisposeContext(ctx, old.ID)
		}
	}

	p.applyEdgeChangesLocked(ctx, removed)

	for _, node := range p.store.Nodes() {
		if node.Type != models.NodeTypeFormula {
			continue
		}

		if err := p.bindLocked(ctx, node); err != nil {
			p.logger.WarnContext(ctx, "Formula node left without context", "node_id", node.ID, "error", err)
		}
	}

	p.logger.InfoContext(ctx, "Nodes synchronized", "nodes", len(nodes), "dropped_edges", len(removed))

	return nil
}

// SetEdges replaces the edge collection.
func (p *Propagator) SetEdges(ctx context.Context, edges []models.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.setEdgesLocked(ctx, edges)
}

func (p *Propagator) setEdgesLocked(ctx context.Context, edges []models.Edge) error {
	changes, err := p.store.SetEdges(edges)
	if err != nil {
		return err
	}

	p.applyEdgeChangesLocked(ctx, changes)

	return nil
}

// AddNode adds a single node and binds it when it is a formula node. A formula node whose
// formula is unknown is still added and left unresolved, as SyncNodes does.
func (p *Propagator) AddNode(ctx context.Context, node *models.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.AddNode(node); err != nil {
		return err
	}

	added, ok := p.store.Node(node.ID)
	if !ok || added.Type != models.NodeTypeFormula {
		return nil
	}

	if err := p.bindLocked(ctx, added); err != nil {
		p.logger.WarnContext(ctx, "Formula node left without context", "node_id", node.ID, "error", err)
	}

	return nil
}

// RemoveNode deletes a node with its edges and disposes its context.
func (p *Propagator) RemoveNode(ctx context.Context, nodeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	changes, err := p.store.RemoveNode(nodeID)
	if err != nil {
		return err
	}

	p.manager.DisposeContext(ctx, nodeID)
	p.applyEdgeChangesLocked(ctx, changes)

	return nil
}

// Connect validates and adds an edge, then delivers the source's current value along it.
func (p *Propagator) Connect(ctx context.Context, edge models.Edge) (topology.ConnectResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result, err := p.store.Connect(edge)
	if err != nil {
		p.logger.InfoContext(ctx, "Connection rejected", "source", edge.Source, "target", edge.Target, "error", err)

		return result, err
	}

	p.applyEdgeChangesLocked(ctx, result.Changes)

	return result, nil
}

// Disconnect removes an edge and recomputes what it fed.
func (p *Propagator) Disconnect(ctx context.Context, edgeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	change, err := p.store.Disconnect(edgeID)
	if err != nil {
		return err
	}

	p.applyEdgeChangesLocked(ctx, []models.EdgeChange{change})

	return nil
}

// ApplyEdgeChanges reacts to edge changes made directly on the store.
func (p *Propagator) ApplyEdgeChanges(ctx context.Context, changes []models.EdgeChange) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.applyEdgeChangesLocked(ctx, changes)
}

// SetNodeValue records a new value on a producer node and propagates it downstream.
// API and streaming nodes also refresh their per-field handles.
func (p *Propagator) SetNodeValue(ctx context.Context, nodeID string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, ok := p.store.Node(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", topology.ErrNodeNotFound, nodeID)
	}

	if !node.Type.IsProducer() {
		return fmt.Errorf("%w: %s is a %s node", ErrNotProducer, nodeID, node.Type)
	}

	data := node.Data.WithValue(value)

	switch d := data.(type) {
	case models.APIData:
		d.Handles = fieldpath.ExtractFieldPaths(value)
		data = d
	case models.StreamingData:
		d.Handles = fieldpath.ExtractFieldPaths(value)
		data = d
	}

	if err := p.store.UpdateNodeData(nodeID, data); err != nil {
		return err
	}

	p.propagateLocked(ctx, nodeID, value)

	return nil
}

// BindFormula points a formula node at another formula and rebinds its context.
func (p *Propagator) BindFormula(ctx context.Context, nodeID, formulaID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, ok := p.store.Node(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", topology.ErrNodeNotFound, nodeID)
	}

	data, isFormula := node.Data.(models.FormulaData)
	if !isFormula {
		return fmt.Errorf("%w: %s", ErrNotFormula, nodeID)
	}

	data.FormulaID = formulaID
	if err := p.store.UpdateNodeData(nodeID, data); err != nil {
		return err
	}

	node.Data = data

	return p.bindLocked(ctx, node)
}

// HandleResult writes a formula result into its node and forwards it downstream. It is
// installed as the runtime's result handler.
func (p *Propagator) HandleResult(ctx context.Context, nodeID string, result any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.store.SetNodeValue(nodeID, result); err != nil {
		p.logger.DebugContext(ctx, "Dropping result of removed node", "node_id", nodeID)

		return
	}

	p.propagateLocked(ctx, nodeID, result)
}

// HandleState animates the edges into a formula node while it is auto-running.
func (p *Propagator) HandleState(state models.NodeState) {
	p.store.SetAnimated(state.NodeID, state.IsAutoRunning)
}

// Load replaces the whole graph with a snapshot. Every existing context is disposed first, so
// auto-run flags, staged inputs and results only come from the snapshot.
func (p *Propagator) Load(ctx context.Context, snapshot *models.GraphSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, node := range p.store.Nodes() {
		if node.Type == models.NodeTypeFormula {
			p.manager.DisposeContext(ctx, node.ID)
		}
	}

	if err := p.syncNodesLocked(ctx, snapshot.Nodes); err != nil {
		return fmt.Errorf("failed to load nodes: %w", err)
	}

	if err := p.setEdgesLocked(ctx, snapshot.Edges); err != nil {
		return fmt.Errorf("failed to load edges: %w", err)
	}

	for _, id := range snapshot.AutoRun {
		if err := p.manager.StartAutoRun(ctx, id); err != nil {
			p.logger.WarnContext(ctx, "Failed to restore auto-run", "node_id", id, "error", err)
		}
	}

	p.logger.InfoContext(ctx, "Graph loaded", "graph_id", snapshot.ID, "nodes", len(snapshot.Nodes), "edges", len(snapshot.Edges))

	return nil
}

// Snapshot captures the current graph, including which formula nodes are auto-running.
func (p *Propagator) Snapshot(id, name string) *models.GraphSnapshot {
	nodes := p.store.Nodes()

	var autoRun []string

	for _, node := range nodes {
		if state, ok := p.manager.State(node.ID); ok && state.IsAutoRunning {
			autoRun = append(autoRun, node.ID)
		}
	}

	return &models.GraphSnapshot{
		ID:      id,
		Name:    name,
		Nodes:   nodes,
		Edges:   p.store.Edges(),
		AutoRun: autoRun,
	}
}

func (p *Propagator) bindLocked(ctx context.Context, node *models.Node) error {
	data, _ := node.Data.(models.FormulaData)

	def, ok := p.formulas.Lookup(data.FormulaID)
	if !ok {
		return p.manager.MarkUnresolved(ctx, node.ID, data.FormulaID)
	}

	current, bound := p.manager.Definition(node.ID)
	if bound && current == def {
		return nil
	}

	if err := p.manager.CreateContext(ctx, node.ID, def); err != nil {
		return err
	}

	deps := p.store.Dependencies(node.ID)
	p.manager.UpdateNodeDependencies(ctx, node.ID, deps)

	inputs := make(map[string]any, len(deps.InputNodes))

	for _, edge := range topology.IncomingEdges(p.store.Edges(), node.ID) {
		if value, resolved := p.edgeValue(edge); resolved {
			inputs[edge.InputKey()] = value
		}
	}

	if len(inputs) == 0 {
		return nil
	}

	return p.manager.UpdateInputs(ctx, node.ID, inputs)
}

func (p *Propagator) applyEdgeChangesLocked(ctx context.Context, changes []models.EdgeChange) {
	if len(changes) == 0 {
		return
	}

	p.resolver.OnEdgesChanged(ctx, changes)

	var recompute []string

	for _, change := range changes {
		target, ok := p.store.Node(change.Edge.Target)
		if !ok {
			continue
		}

		if target.Type == models.NodeTypeFormula {
			if change.Type == models.EdgeAdded {
				p.deliverLocked(ctx, change.Edge)
			}

			continue
		}

		if !slices.Contains(recompute, target.ID) {
			recompute = append(recompute, target.ID)
		}
	}

	for _, id := range recompute {
		p.recomputeLocked(ctx, id)
	}
}

// deliverLocked stages the value an edge currently carries on its formula target.
func (p *Propagator) deliverLocked(ctx context.Context, edge models.Edge) {
	if !p.manager.HasContext(edge.Target) {
		return
	}

	value, ok := p.edgeValue(edge)
	if !ok {
		return
	}

	if err := p.manager.UpdateInputs(ctx, edge.Target, map[string]any{edge.InputKey(): value}); err != nil {
		p.logger.WarnContext(ctx, "Failed to deliver edge value", "edge_id", edge.ID, "error", err)
	}
}

// propagateLocked forwards a node's new value to formula contexts through the runtime and
// recomputes every other direct dependent, recursively.
func (p *Propagator) propagateLocked(ctx context.Context, nodeID string, value any) {
	p.manager.NotifyUpstreamChange(ctx, nodeID, value)

	var dependents []string

	for _, edge := range topology.OutgoingEdges(p.store.Edges(), nodeID) {
		target, ok := p.store.Node(edge.Target)
		if !ok || target.Type == models.NodeTypeFormula || slices.Contains(dependents, target.ID) {
			continue
		}

		dependents = append(dependents, target.ID)
	}

	for _, id := range dependents {
		p.recomputeLocked(ctx, id)
	}
}

// recomputeLocked derives a non-formula node's value from its incoming edges, stores it and
// propagates it when it is a new value.
func (p *Propagator) recomputeLocked(ctx context.Context, nodeID string) {
	node, ok := p.store.Node(nodeID)
	if !ok {
		return
	}

	incoming := topology.IncomingEdges(p.store.Edges(), nodeID)

	var value any

	switch node.Type {
	case models.NodeTypeArray:
		items := []any{}

		for _, edge := range incoming {
			v, resolved := p.edgeValue(edge)
			if !resolved || v == nil {
				continue
			}

			if nested, isArray := v.([]any); isArray {
				items = append(items, nested...)
			} else {
				items = append(items, v)
			}
		}

		value = items
	case models.NodeTypeObject:
		fields := map[string]any{}

		for _, edge := range incoming {
			if v, resolved := p.edgeValue(edge); resolved {
				fields[edge.InputKey()] = v
			}
		}

		value = fields
	case models.NodeTypeOutput, models.NodeTypeInput:
		var resolved bool

		if len(incoming) > 0 {
			value, resolved = p.edgeValue(incoming[len(incoming)-1])
		}

		// A disconnected input keeps its manual value.
		if !resolved && node.Type == models.NodeTypeInput {
			return
		}
	default:
		return
	}

	updated, err := p.store.SetNodeValue(nodeID, value)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to store recomputed value", "node_id", nodeID, "error", err)

		return
	}

	p.logger.DebugContext(ctx, "Recomputed node value", "node_id", nodeID, "type", node.Type, "inputs", len(incoming))
	p.propagateLocked(ctx, nodeID, updated.Value())
}

// edgeValue is what an edge carries out of its source right now.
func (p *Propagator) edgeValue(edge models.Edge) (any, bool) {
	source, ok := p.store.Node(edge.Source)
	if !ok {
		return nil, false
	}

	var outputs []models.OutputDescriptor

	if data, isFormula := source.Data.(models.FormulaData); isFormula {
		if def, found := p.formulas.Lookup(data.FormulaID); found {
			outputs = def.Outputs
		}
	}

	return runtime.HandleValue(source.Value(), edge.SourceHandle, outputs)
}
