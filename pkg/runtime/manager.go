// Package runtime maintains one execution context per formula node and schedules its
// recomputation as upstream values change.
//
// Execution is single-flight per node: a trigger that arrives while a run is in flight marks
// the context dirty, and exactly one follow-up run starts with the latest staged inputs once
// the in-flight run completes. Results are applied newest-first by run generation; runs that
// were abandoned (timeout, redefinition, disposal) never write their result.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/engine"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/fieldpath"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/jonboulle/clockwork"
)

const DefaultExecutionTimeout = 30 * time.Second

// ResultHandler receives every successfully applied formula result.
type ResultHandler func(ctx context.Context, nodeID string, result any)

// Config tunes scheduling. Zero values select the defaults.
type Config struct {
	// Debounce delays auto-run executions caused by input updates. Zero runs immediately.
	Debounce time.Duration

	// ExecutionTimeout abandons runs that take longer. Negative disables the timeout.
	ExecutionTimeout time.Duration

	Clock clockwork.Clock
}

type Manager struct {
	logger    *slog.Logger
	evaluator engine.Evaluator
	states    *StateStore
	clock     clockwork.Clock
	debounce  time.Duration
	timeout   time.Duration

	version atomic.Uint64
	wg      sync.WaitGroup

	mu           sync.RWMutex
	initialized  bool
	baseCtx      context.Context
	cancelBase   context.CancelFunc
	contexts     map[string]*executionContext
	dependencies map[string]models.Dependencies
	unresolved   map[string]string
	onResult     ResultHandler
}

func NewManager(logger *slog.Logger, evaluator engine.Evaluator, states *StateStore, config Config) *Manager {
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	timeout := config.ExecutionTimeout
	if timeout == 0 {
		timeout = DefaultExecutionTimeout
	}

	m := &Manager{
		logger:       logger.With("module", "execution_manager"),
		evaluator:    evaluator,
		states:       states,
		clock:        clock,
		debounce:     config.Debounce,
		timeout:      timeout,
		contexts:     make(map[string]*executionContext),
		dependencies: make(map[string]models.Dependencies),
		unresolved:   make(map[string]string),
	}
	m.onResult = m.NotifyUpstreamChange

	return m
}

// OnResult replaces the handler invoked with each applied result. By default results are
// forwarded downstream with NotifyUpstreamChange.
func (m *Manager) OnResult(handler ResultHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onResult = handler
}

// States exposes the per-node projection.
func (m *Manager) States() *StateStore {
	return m.states
}

func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	m.baseCtx, m.cancelBase = context.WithCancel(context.WithoutCancel(ctx))
	m.initialized = true

	m.logger.InfoContext(ctx, "Execution manager initialized", "debounce", m.debounce, "timeout", m.timeout)

	return nil
}

// Dispose tears down every context and waits for in-flight runs to return, or for ctx.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()

	if !m.initialized {
		m.mu.Unlock()

		return nil
	}

	m.initialized = false
	ids := make([]string, 0, len(m.contexts))

	for id := range m.contexts {
		ids = append(ids, id)
	}

	m.mu.Unlock()

	for _, id := range ids {
		m.DisposeContext(ctx, id)
	}

	m.mu.Lock()
	m.cancelBase()
	m.dependencies = make(map[string]models.Dependencies)
	m.unresolved = make(map[string]string)
	m.mu.Unlock()

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.WarnContext(ctx, "Gave up waiting for in-flight executions")

		return ctx.Err()
	}
}

// CreateContext binds a formula definition to a node. Calling it again with the same
// definition is a no-op; a different definition disposes the old context first. A nil
// definition records the node as unresolved and returns NoFormulaError.
func (m *Manager) CreateContext(ctx context.Context, nodeID string, def *models.FormulaDefinition) error {
	return m.createContext(ctx, nodeID, "", def)
}

// MarkUnresolved records that nodeID references a formula that could not be resolved.
func (m *Manager) MarkUnresolved(ctx context.Context, nodeID, formulaID string) error {
	return m.createContext(ctx, nodeID, formulaID, nil)
}

func (m *Manager) createContext(ctx context.Context, nodeID, formulaID string, def *models.FormulaDefinition) error {
	m.mu.Lock()

	if !m.initialized {
		m.mu.Unlock()

		return ErrNotInitialized
	}

	existing, exists := m.contexts[nodeID]
	if exists && def != nil && existing.def == def {
		m.mu.Unlock()

		return nil
	}

	if def == nil {
		m.unresolved[nodeID] = formulaID
	} else {
		delete(m.unresolved, nodeID)
	}

	m.mu.Unlock()

	if exists {
		m.logger.InfoContext(ctx, "Replacing execution context", "node_id", nodeID)
		m.disposeContext(ctx, nodeID, false)
	}

	if def == nil {
		m.logger.WarnContext(ctx, "Formula could not be resolved", "node_id", nodeID, "formula_id", formulaID)

		return &NoFormulaError{NodeID: nodeID, FormulaID: formulaID}
	}

	ec := newExecutionContext(nodeID, def)

	m.mu.Lock()
	m.contexts[nodeID] = ec
	m.mu.Unlock()

	ec.mu.Lock()
	state := ec.stateLocked(m.version.Add(1))
	ec.mu.Unlock()

	m.states.set(state)

	m.logger.DebugContext(ctx, "Execution context created", "node_id", nodeID, "formula_id", def.ID)

	return nil
}

// Definition returns the formula bound to a node.
func (m *Manager) Definition(nodeID string) (*models.FormulaDefinition, bool) {
	ec, ok := m.context(nodeID)
	if !ok {
		return nil, false
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	return ec.def, true
}

// HasContext reports whether a live context exists for nodeID.
func (m *Manager) HasContext(nodeID string) bool {
	_, ok := m.context(nodeID)

	return ok
}

// UpdateInputs merges partial into the staged inputs. Auto-running contexts schedule an
// execution; others only stage the snapshot.
func (m *Manager) UpdateInputs(ctx context.Context, nodeID string, partial map[string]any) error {
	ec, err := m.lookup(nodeID)
	if err != nil {
		return err
	}

	ec.mu.Lock()

	if ec.disposed {
		ec.mu.Unlock()

		return &NoContextError{NodeID: nodeID}
	}

	maps.Copy(ec.inputValues, partial)
	state := ec.stateLocked(m.version.Add(1))
	autoRun := ec.autoRun

	var launch func()

	if autoRun {
		launch = m.scheduleLocked(ec)
	}

	ec.mu.Unlock()

	m.states.set(state)

	if launch != nil {
		launch()
	}

	m.logger.DebugContext(ctx, "Inputs updated", "node_id", nodeID, "keys", len(partial), "auto_run", autoRun)

	return nil
}

// scheduleLocked starts a run now, or after the debounce delay when one is configured.
func (m *Manager) scheduleLocked(ec *executionContext) func() {
	if m.debounce <= 0 {
		return m.startLocked(ec)
	}

	if ec.debounce != nil {
		ec.debounce.Stop()
	}

	var timer clockwork.Timer

	timer = m.clock.AfterFunc(m.debounce, func() {
		ec.mu.Lock()

		if ec.debounce != timer {
			ec.mu.Unlock()

			return
		}

		ec.debounce = nil
		m.triggerLocked(ec)
	})
	ec.debounce = timer

	return nil
}

// StartAutoRun enables auto-run and immediately executes once with the staged inputs.
// Starting an already auto-running context does nothing.
func (m *Manager) StartAutoRun(ctx context.Context, nodeID string) error {
	ec, err := m.lookup(nodeID)
	if err != nil {
		return err
	}

	ec.mu.Lock()

	if ec.autoRun || ec.disposed {
		ec.mu.Unlock()

		return nil
	}

	ec.autoRun = true
	m.logger.InfoContext(ctx, "Auto-run started", "node_id", nodeID)
	m.triggerLocked(ec)

	return nil
}

// StopAutoRun disables auto-run and drops a pending debounced execution. A run already in
// flight completes normally.
func (m *Manager) StopAutoRun(ctx context.Context, nodeID string) error {
	ec, err := m.lookup(nodeID)
	if err != nil {
		return err
	}

	ec.mu.Lock()

	if !ec.autoRun || ec.disposed {
		ec.mu.Unlock()

		return nil
	}

	ec.autoRun = false

	if ec.debounce != nil {
		ec.debounce.Stop()
		ec.debounce = nil
	}

	state := ec.stateLocked(m.version.Add(1))
	waiters := ec.takeWaitersLocked()
	ec.mu.Unlock()

	m.states.set(state)
	release(waiters)
	m.logger.InfoContext(ctx, "Auto-run stopped", "node_id", nodeID)

	return nil
}

// ExecuteNode triggers an execution regardless of auto-run. The run completes
// asynchronously; use Await to wait for it.
func (m *Manager) ExecuteNode(ctx context.Context, nodeID string) error {
	m.mu.RLock()
	formulaID, unresolved := m.unresolved[nodeID]
	m.mu.RUnlock()

	if unresolved {
		return &NoFormulaError{NodeID: nodeID, FormulaID: formulaID}
	}

	ec, err := m.lookup(nodeID)
	if err != nil {
		return err
	}

	m.logger.DebugContext(ctx, "Manual execution requested", "node_id", nodeID)

	ec.mu.Lock()
	m.triggerLocked(ec)

	return nil
}

// Await blocks until nodeID has no run in flight or pending, then returns its state. A
// successful result has already been passed to the result handler when Await returns.
func (m *Manager) Await(ctx context.Context, nodeID string) (models.NodeState, error) {
	ec, err := m.lookup(nodeID)
	if err != nil {
		return models.NodeState{}, err
	}

	ec.mu.Lock()

	if !ec.busy() || ec.disposed {
		state := ec.currentStateLocked()
		ec.mu.Unlock()

		return state, nil
	}

	ch := make(chan struct{})
	ec.waiters = append(ec.waiters, ch)
	ec.mu.Unlock()

	select {
	case <-ch:
		ec.mu.Lock()
		defer ec.mu.Unlock()

		return ec.currentStateLocked(), nil
	case <-ctx.Done():
		return models.NodeState{}, ctx.Err()
	}
}

// triggerLocked starts a run or marks the context dirty. It is entered with ec.mu held and
// releases it.
func (m *Manager) triggerLocked(ec *executionContext) {
	if ec.disposed {
		ec.mu.Unlock()

		return
	}

	launch := m.startLocked(ec)
	state := ec.stateLocked(m.version.Add(1))
	waiters := ec.takeWaitersLocked()
	ec.mu.Unlock()

	m.states.set(state)
	release(waiters)

	if launch != nil {
		launch()
	}
}

// startLocked claims the single-flight slot and returns the function that launches the run,
// or nil when the context is disposed or already running.
func (m *Manager) startLocked(ec *executionContext) func() {
	if ec.disposed {
		return nil
	}

	if ec.running() {
		ec.dirty = true

		return nil
	}

	m.mu.RLock()
	baseCtx := m.baseCtx
	m.mu.RUnlock()

	if baseCtx == nil {
		return nil
	}

	ec.generation++
	gen := ec.generation
	ec.active = gen
	ec.dirty = false
	ec.status = models.ExecutionStatusRunning

	runCtx, cancel := context.WithCancel(baseCtx)
	ec.cancel = cancel

	if m.timeout > 0 {
		ec.timeout = m.clock.AfterFunc(m.timeout, func() { m.abandon(ec, gen, ErrExecutionTimeout) })
	}

	def := ec.def
	inputs := maps.Clone(ec.inputValues)
	m.wg.Add(1)

	return func() {
		go m.run(runCtx, ec, def, gen, inputs)
	}
}

func (m *Manager) run(ctx context.Context, ec *executionContext, def *models.FormulaDefinition, gen uint64, inputs map[string]any) {
	defer m.wg.Done()

	result, err := m.evaluator.Evaluate(engine.WithNodeID(ctx, ec.nodeID), def, inputs)

	m.complete(ec, gen, result, err)
}

func (m *Manager) complete(ec *executionContext, gen uint64, result any, err error) {
	ec.mu.Lock()

	if ec.disposed || ec.active != gen || gen <= ec.applied {
		ec.mu.Unlock()
		m.logger.Debug("Discarding stale execution result", "node_id", ec.nodeID, "generation", gen)

		return
	}

	ec.finishRunLocked()
	ec.applied = gen
	now := m.clock.Now()
	ec.lastExecutionTime = &now

	if err != nil {
		ec.status = models.ExecutionStatusError
		ec.errorMessage = err.Error()
	} else {
		ec.status = models.ExecutionStatusSuccess
		ec.errorMessage = ""
		ec.lastResult = result
	}

	waiters, next := m.followUpLocked(ec)

	// The follow-up starts only after this result has been handed on, so deliveries keep run order.
	defer func() {
		release(waiters)
		next()
	}()

	if err != nil {
		m.logger.Warn("Formula execution failed", "node_id", ec.nodeID, "error", err)

		return
	}

	m.mu.RLock()
	handler := m.onResult
	baseCtx := m.baseCtx
	m.mu.RUnlock()

	m.logger.Debug("Formula execution succeeded", "node_id", ec.nodeID, "generation", gen)

	if handler != nil && baseCtx != nil {
		handler(baseCtx, ec.nodeID, result)
	}
}

// abandon releases a run that exceeded its timeout. Its result, if it ever arrives, is dropped.
func (m *Manager) abandon(ec *executionContext, gen uint64, reason error) {
	ec.mu.Lock()

	if ec.disposed || ec.active != gen {
		ec.mu.Unlock()

		return
	}

	ec.finishRunLocked()
	ec.status = models.ExecutionStatusError
	ec.errorMessage = fmt.Sprintf("%v after %s", reason, m.timeout)

	m.logger.Warn("Abandoned execution", "node_id", ec.nodeID, "generation", gen, "reason", reason)
	waiters, next := m.followUpLocked(ec)
	release(waiters)
	next()
}

// followUpLocked publishes the finished state and claims the slot for the queued follow-up
// run, if any. It is entered with ec.mu held and releases it. The caller releases the returned
// waiters and calls next to launch the follow-up once the finished result has been handed on.
func (m *Manager) followUpLocked(ec *executionContext) ([]chan struct{}, func()) {
	finished := ec.stateLocked(m.version.Add(1))

	var (
		launch  func()
		started models.NodeState
	)

	if ec.dirty {
		launch = m.startLocked(ec)
		if launch != nil {
			started = ec.stateLocked(m.version.Add(1))
		}
	}

	waiters := ec.takeWaitersLocked()
	ec.mu.Unlock()

	m.states.set(finished)

	next := func() {
		if launch != nil {
			m.states.set(started)
			launch()
		}
	}

	return waiters, next
}

// NotifyUpstreamChange forwards a producer's new value to every downstream context, in edge
// order. An edge with a source handle forwards the sub-value it selects, and nothing when it
// does not resolve.
func (m *Manager) NotifyUpstreamChange(ctx context.Context, nodeID string, value any) {
	m.mu.RLock()
	deps := m.dependencies[nodeID]

	var outputs []models.OutputDescriptor
	if source, ok := m.contexts[nodeID]; ok {
		outputs = source.def.Outputs
	}

	m.mu.RUnlock()

	for _, ref := range deps.OutputNodes {
		if !m.HasContext(ref.NodeID) {
			continue
		}

		forwarded, ok := HandleValue(value, ref.SourceHandle, outputs)
		if !ok {
			m.logger.DebugContext(ctx, "Source handle did not resolve", "node_id", nodeID, "handle", ref.SourceHandle, "target", ref.NodeID)

			continue
		}

		key := ref.TargetHandle
		if key == "" {
			key = nodeID
		}

		if err := m.UpdateInputs(ctx, ref.NodeID, map[string]any{key: forwarded}); err != nil {
			m.logger.WarnContext(ctx, "Failed to forward upstream change", "node_id", nodeID, "target", ref.NodeID, "error", err)
		}
	}
}

// HandleValue selects what an edge carries out of a value. The empty handle selects the whole
// value. A handle naming a declared output of a formula with a non-object result selects the
// result itself.
func HandleValue(value any, handle string, outputs []models.OutputDescriptor) (any, bool) {
	if resolved, ok := fieldpath.ResolvePath(value, handle); ok {
		return resolved, true
	}

	if _, isObject := value.(map[string]any); isObject {
		return nil, false
	}

	for _, out := range outputs {
		if out.Key == handle {
			return value, true
		}
	}

	return nil, false
}

// UpdateNodeDependencies stores a node's refreshed dependency set. Input keys that were fed
// by edges which no longer exist are dropped from the staged inputs.
func (m *Manager) UpdateNodeDependencies(ctx context.Context, nodeID string, deps models.Dependencies) {
	m.mu.Lock()
	previous := m.dependencies[nodeID]

	if len(deps.InputNodes) == 0 && len(deps.OutputNodes) == 0 {
		delete(m.dependencies, nodeID)
	} else {
		m.dependencies[nodeID] = deps
	}

	ec, ok := m.contexts[nodeID]
	m.mu.Unlock()

	if !ok {
		return
	}

	current := deps.InputKeys()

	var stale []string

	for key := range previous.InputKeys() {
		if _, kept := current[key]; !kept {
			stale = append(stale, key)
		}
	}

	if len(stale) == 0 {
		return
	}

	ec.mu.Lock()

	if ec.disposed {
		ec.mu.Unlock()

		return
	}

	for _, key := range stale {
		delete(ec.inputValues, key)
	}

	state := ec.stateLocked(m.version.Add(1))
	ec.mu.Unlock()

	m.states.set(state)
	m.logger.DebugContext(ctx, "Pruned disconnected inputs", "node_id", nodeID, "keys", stale)
}

// Dependencies returns the stored dependency set of a node.
func (m *Manager) Dependencies(nodeID string) (models.Dependencies, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deps, ok := m.dependencies[nodeID]

	return deps, ok
}

// State returns the projection of a node.
func (m *Manager) State(nodeID string) (models.NodeState, bool) {
	return m.states.Get(nodeID)
}

// DisposeContext cancels pending work and removes all bookkeeping for a node. It is safe to
// call repeatedly.
func (m *Manager) DisposeContext(ctx context.Context, nodeID string) {
	m.disposeContext(ctx, nodeID, true)
}

func (m *Manager) disposeContext(ctx context.Context, nodeID string, forget bool) {
	m.mu.Lock()
	ec, ok := m.contexts[nodeID]
	delete(m.contexts, nodeID)

	if forget {
		delete(m.dependencies, nodeID)
		delete(m.unresolved, nodeID)
	}

	m.mu.Unlock()

	if !ok {
		return
	}

	ec.mu.Lock()
	ec.disposed = true
	ec.dirty = false
	ec.finishRunLocked()
	ec.stopTimersLocked()
	waiters := ec.takeWaitersLocked()
	ec.mu.Unlock()

	m.states.remove(nodeID, m.version.Add(1))
	release(waiters)
	m.logger.DebugContext(ctx, "Execution context disposed", "node_id", nodeID)
}

func (m *Manager) context(nodeID string) (*executionContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ec, ok := m.contexts[nodeID]

	return ec, ok
}

func (m *Manager) lookup(nodeID string) (*executionContext, error) {
	ec, ok := m.context(nodeID)
	if !ok {
		return nil, &NoContextError{NodeID: nodeID}
	}

	return ec, nil
}
