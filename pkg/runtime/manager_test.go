package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/engine"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingFormula multiplies input x by 10 and records every call.
type recordingFormula struct {
	mu    sync.Mutex
	calls []map[string]any
	block func(inputs map[string]any) <-chan struct{}
	fail  error
}

func (f *recordingFormula) definition(id string) *models.FormulaDefinition {
	return &models.FormulaDefinition{
		ID:      id,
		Name:    id,
		Outputs: []models.OutputDescriptor{{Key: "result", Type: models.ValueTypeNumber}},
		Evaluate: func(_ context.Context, inputs map[string]any) (any, error) {
			f.mu.Lock()
			f.calls = append(f.calls, inputs)
			block := f.block
			fail := f.fail
			f.mu.Unlock()

			if block != nil {
				if gate := block(inputs); gate != nil {
					<-gate
				}
			}

			if fail != nil {
				return nil, fail
			}

			x, _ := inputs["x"].(float64)

			return x * 10, nil
		},
	}
}

func (f *recordingFormula) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func (f *recordingFormula) lastCall() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[len(f.calls)-1]
}

func newTestManager(t *testing.T, config Config) *Manager {
	t.Helper()

	if config.Clock == nil {
		config.Clock = clockwork.NewFakeClock()
	}

	m := NewManager(slog.Default(), engine.NewFuncEvaluator(), NewStateStore(), config)
	require.NoError(t, m.Initialize(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = m.Dispose(ctx)
	})

	return m
}

func awaitState(t *testing.T, m *Manager, nodeID string) models.NodeState {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := m.Await(ctx, nodeID)
	require.NoError(t, err)

	return state
}

func TestManager_StartAutoRunExecutesOnceWithStagedInputs(t *testing.T) {
	ctx := context.Background()
	formula := &recordingFormula{}
	m := newTestManager(t, Config{})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 3.0}))

	assert.Equal(t, 0, formula.callCount())

	state, ok := m.State("f")
	require.True(t, ok)
	assert.Equal(t, models.ExecutionStatusIdle, state.Status)
	assert.Equal(t, map[string]any{"x": 3.0}, state.InputValues)

	require.NoError(t, m.StartAutoRun(ctx, "f"))

	state = awaitState(t, m, "f")
	m.wg.Wait()

	assert.Equal(t, 1, formula.callCount())
	assert.Equal(t, models.ExecutionStatusSuccess, state.Status)
	assert.Equal(t, 30.0, state.LastResult)
	assert.True(t, state.IsAutoRunning)
	assert.NotNil(t, state.LastExecutionTime)

	// Starting again is not another trigger.
	require.NoError(t, m.StartAutoRun(ctx, "f"))
	m.wg.Wait()
	assert.Equal(t, 1, formula.callCount())
}

func TestManager_UpdateInputsStagesUntilManualTrigger(t *testing.T) {
	ctx := context.Background()
	formula := &recordingFormula{}
	m := newTestManager(t, Config{})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 1.0}))
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 2.0, "y": "kept"}))

	assert.Equal(t, 0, formula.callCount())

	require.NoError(t, m.ExecuteNode(ctx, "f"))

	state := awaitState(t, m, "f")
	assert.Equal(t, 20.0, state.LastResult)
	assert.Equal(t, map[string]any{"x": 2.0, "y": "kept"}, formula.lastCall())
}

func TestManager_AutoRunRecomputesOnEveryUpdate(t *testing.T) {
	ctx := context.Background()
	formula := &recordingFormula{}
	m := newTestManager(t, Config{})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))
	require.NoError(t, m.StartAutoRun(ctx, "f"))
	awaitState(t, m, "f")

	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 4.0}))
	state := awaitState(t, m, "f")

	assert.Equal(t, 40.0, state.LastResult)

	require.NoError(t, m.StopAutoRun(ctx, "f"))
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 5.0}))
	m.wg.Wait()

	state, _ = m.State("f")
	assert.Equal(t, 40.0, state.LastResult)
	assert.False(t, state.IsAutoRunning)
	assert.Equal(t, 2, formula.callCount())
}

func TestManager_SingleFlightQueuesOneFollowUp(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	started := make(chan struct{}, 8)

	var once sync.Once

	formula := &recordingFormula{}
	formula.block = func(map[string]any) <-chan struct{} {
		started <- struct{}{}

		var wait <-chan struct{}

		once.Do(func() { wait = gate })

		return wait
	}

	m := newTestManager(t, Config{})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 1.0}))
	require.NoError(t, m.ExecuteNode(ctx, "f"))

	<-started

	for range 3 {
		require.NoError(t, m.ExecuteNode(ctx, "f"))
	}

	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 7.0}))

	state, _ := m.State("f")
	assert.Equal(t, models.ExecutionStatusRunning, state.Status)
	assert.Equal(t, 1, formula.callCount())

	close(gate)

	state = awaitState(t, m, "f")
	m.wg.Wait()

	assert.Equal(t, 2, formula.callCount())
	assert.Equal(t, map[string]any{"x": 7.0}, formula.lastCall())
	assert.Equal(t, 70.0, state.LastResult)
	assert.Equal(t, models.ExecutionStatusSuccess, state.Status)
}

func TestManager_FollowUpStartsAfterResultIsDelivered(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	started := make(chan float64, 4)

	formula := &recordingFormula{}
	formula.block = func(inputs map[string]any) <-chan struct{} {
		x, _ := inputs["x"].(float64)
		started <- x

		if x == 1 {
			return gate
		}

		return nil
	}

	m := newTestManager(t, Config{})

	var (
		mu            sync.Mutex
		delivered     []any
		callsAtResult []int
	)

	m.OnResult(func(_ context.Context, _ string, result any) {
		if result == 10.0 {
			// A follow-up launched early would start evaluating here.
			select {
			case <-started:
			case <-time.After(50 * time.Millisecond):
			}
		}

		mu.Lock()
		defer mu.Unlock()

		delivered = append(delivered, result)
		callsAtResult = append(callsAtResult, formula.callCount())
	})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 1.0}))
	require.NoError(t, m.ExecuteNode(ctx, "f"))
	assert.Equal(t, 1.0, <-started)

	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 2.0}))
	require.NoError(t, m.ExecuteNode(ctx, "f"))

	close(gate)

	state := awaitState(t, m, "f")
	m.wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []any{10.0, 20.0}, delivered)
	assert.Equal(t, []int{1, 2}, callsAtResult)
	assert.Equal(t, 20.0, state.LastResult)
}

func TestManager_AbandonedRunNeverOverwritesNewerResult(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	started := make(chan float64, 4)

	formula := &recordingFormula{}
	formula.block = func(inputs map[string]any) <-chan struct{} {
		x, _ := inputs["x"].(float64)
		started <- x

		if x == 1 {
			return release
		}

		return nil
	}

	m := newTestManager(t, Config{Clock: clock, ExecutionTimeout: time.Second})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 1.0}))
	require.NoError(t, m.StartAutoRun(ctx, "f"))
	assert.Equal(t, 1.0, <-started)

	// S2 is staged while S1 is in flight.
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 2.0}))

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	assert.Equal(t, 2.0, <-started)

	state := awaitState(t, m, "f")
	assert.Equal(t, models.ExecutionStatusSuccess, state.Status)
	assert.Equal(t, 20.0, state.LastResult)

	// S1 finishes last and must be dropped.
	close(release)
	m.wg.Wait()

	final, ok := m.State("f")
	require.True(t, ok)
	assert.Equal(t, 20.0, final.LastResult)
	assert.Equal(t, models.ExecutionStatusSuccess, final.Status)
	assert.Equal(t, state.Version, final.Version)
}

func TestManager_TimeoutWithoutFollowUpReportsError(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	formula := &recordingFormula{block: func(map[string]any) <-chan struct{} { return release }}
	m := newTestManager(t, Config{Clock: clock, ExecutionTimeout: time.Second})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("slow")))
	require.NoError(t, m.ExecuteNode(ctx, "f"))

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	state := awaitState(t, m, "f")
	assert.Equal(t, models.ExecutionStatusError, state.Status)
	assert.Contains(t, state.ErrorMessage, ErrExecutionTimeout.Error())

	close(release)
	m.wg.Wait()

	state, _ = m.State("f")
	assert.Equal(t, models.ExecutionStatusError, state.Status)
	assert.Nil(t, state.LastResult)
}

func TestManager_EvaluationErrorIsIsolated(t *testing.T) {
	ctx := context.Background()
	failing := &recordingFormula{}
	healthy := &recordingFormula{}
	m := newTestManager(t, Config{})

	require.NoError(t, m.CreateContext(ctx, "bad", failing.definition("bad")))
	require.NoError(t, m.CreateContext(ctx, "good", healthy.definition("good")))

	require.NoError(t, m.UpdateInputs(ctx, "bad", map[string]any{"x": 1.0}))
	require.NoError(t, m.ExecuteNode(ctx, "bad"))
	assert.Equal(t, 10.0, awaitState(t, m, "bad").LastResult)

	failing.mu.Lock()
	failing.fail = errors.New("division by zero")
	failing.mu.Unlock()

	require.NoError(t, m.ExecuteNode(ctx, "bad"))
	require.NoError(t, m.ExecuteNode(ctx, "good"))

	bad := awaitState(t, m, "bad")
	good := awaitState(t, m, "good")

	assert.Equal(t, models.ExecutionStatusError, bad.Status)
	assert.Equal(t, "division by zero", bad.ErrorMessage)
	assert.Equal(t, 10.0, bad.LastResult)
	assert.Equal(t, models.ExecutionStatusSuccess, good.Status)
}

func TestManager_ErrorsForMissingContexts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	err := m.ExecuteNode(ctx, "ghost")
	assert.True(t, IsNoContext(err))

	var noCtx *NoContextError
	require.True(t, errors.As(err, &noCtx))
	assert.Equal(t, "ghost", noCtx.NodeID)

	assert.True(t, IsNoContext(m.UpdateInputs(ctx, "ghost", map[string]any{"x": 1})))
	assert.True(t, IsNoContext(m.StartAutoRun(ctx, "ghost")))
	assert.True(t, IsNoContext(m.StopAutoRun(ctx, "ghost")))

	err = m.MarkUnresolved(ctx, "f", "deleted-formula")
	assert.True(t, IsNoFormula(err))

	err = m.ExecuteNode(ctx, "f")
	assert.True(t, IsNoFormula(err))
	assert.Contains(t, err.Error(), "deleted-formula")

	err = m.CreateContext(ctx, "g", nil)
	assert.ErrorIs(t, err, ErrNoFormula)
}

func TestManager_CreateContextIdempotenceAndSwitching(t *testing.T) {
	ctx := context.Background()
	first := &recordingFormula{}
	second := &recordingFormula{}
	m := newTestManager(t, Config{})
	def := first.definition("one")

	require.NoError(t, m.CreateContext(ctx, "f", def))
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 1.0}))
	require.NoError(t, m.CreateContext(ctx, "f", def))

	state, _ := m.State("f")
	assert.Equal(t, map[string]any{"x": 1.0}, state.InputValues)

	require.NoError(t, m.CreateContext(ctx, "f", second.definition("two")))

	state, _ = m.State("f")
	assert.Empty(t, state.InputValues)
	assert.Equal(t, models.ExecutionStatusIdle, state.Status)

	current, ok := m.Definition("f")
	require.True(t, ok)
	assert.Equal(t, "two", current.ID)

	// A node that loses its formula drops its context.
	assert.True(t, IsNoFormula(m.MarkUnresolved(ctx, "f", "two")))
	assert.False(t, m.HasContext("f"))
}

func TestManager_DisposeContextTwice(t *testing.T) {
	ctx := context.Background()
	formula := &recordingFormula{}
	m := newTestManager(t, Config{})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))
	m.UpdateNodeDependencies(ctx, "f", models.Dependencies{
		InputNodes: []models.EdgeRef{{EdgeID: "e1", NodeID: "a"}},
	})

	assert.NotPanics(t, func() {
		m.DisposeContext(ctx, "f")
		m.DisposeContext(ctx, "f")
	})

	assert.False(t, m.HasContext("f"))

	_, ok := m.Dependencies("f")
	assert.False(t, ok)

	_, ok = m.State("f")
	assert.False(t, ok)

	assert.True(t, IsNoContext(m.ExecuteNode(ctx, "f")))
}

func TestManager_DisposeCancelsPendingDebounce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	formula := &recordingFormula{}
	m := newTestManager(t, Config{Clock: clock, Debounce: 100 * time.Millisecond, ExecutionTimeout: -1})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))
	require.NoError(t, m.StartAutoRun(ctx, "f"))
	awaitState(t, m, "f")

	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 1.0}))
	m.DisposeContext(ctx, "f")

	clock.Advance(time.Second)
	m.wg.Wait()

	assert.Equal(t, 1, formula.callCount())

	_, ok := m.State("f")
	assert.False(t, ok)
}

func TestManager_DebounceCoalescesUpdates(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	formula := &recordingFormula{}
	m := newTestManager(t, Config{Clock: clock, Debounce: 100 * time.Millisecond, ExecutionTimeout: -1})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))
	require.NoError(t, m.StartAutoRun(ctx, "f"))
	awaitState(t, m, "f")

	for _, x := range []float64{1, 2, 3} {
		require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": x}))
		clock.Advance(50 * time.Millisecond)
	}

	assert.Equal(t, 1, formula.callCount())

	clock.Advance(100 * time.Millisecond)

	require.Eventually(t, func() bool { return formula.callCount() == 2 }, time.Second, 5*time.Millisecond)

	state := awaitState(t, m, "f")
	assert.Equal(t, 30.0, state.LastResult)
}

func TestManager_NotifyUpstreamChangeUsesHandles(t *testing.T) {
	ctx := context.Background()
	formula := &recordingFormula{}
	m := newTestManager(t, Config{})

	require.NoError(t, m.CreateContext(ctx, "f1", formula.definition("one")))
	require.NoError(t, m.CreateContext(ctx, "f2", formula.definition("two")))

	m.UpdateNodeDependencies(ctx, "api", models.Dependencies{
		OutputNodes: []models.EdgeRef{
			{EdgeID: "e1", NodeID: "f1", SourceHandle: "data.price", TargetHandle: "x"},
			{EdgeID: "e2", NodeID: "f2", SourceHandle: "data.missing", TargetHandle: "x"},
			{EdgeID: "e3", NodeID: "f2"},
			{EdgeID: "e4", NodeID: "no-context"},
		},
	})

	payload := map[string]any{"data": map[string]any{"price": 12.5}}
	m.NotifyUpstreamChange(ctx, "api", payload)

	s1, _ := m.State("f1")
	s2, _ := m.State("f2")

	assert.Equal(t, map[string]any{"x": 12.5}, s1.InputValues)
	assert.Equal(t, map[string]any{"api": payload}, s2.InputValues)
	assert.Equal(t, 0, formula.callCount())
}

func TestManager_ResultsChainDownstream(t *testing.T) {
	ctx := context.Background()
	formula := &recordingFormula{}
	m := newTestManager(t, Config{})

	require.NoError(t, m.CreateContext(ctx, "f1", formula.definition("one")))
	require.NoError(t, m.CreateContext(ctx, "f2", formula.definition("two")))

	deps := models.Dependencies{OutputNodes: []models.EdgeRef{{EdgeID: "e1", NodeID: "f2", SourceHandle: "result", TargetHandle: "x"}}}
	m.UpdateNodeDependencies(ctx, "f1", deps)

	require.NoError(t, m.StartAutoRun(ctx, "f2"))
	awaitState(t, m, "f2")

	require.NoError(t, m.UpdateInputs(ctx, "f1", map[string]any{"x": 2.0}))
	require.NoError(t, m.ExecuteNode(ctx, "f1"))
	awaitState(t, m, "f1")

	require.Eventually(t, func() bool {
		state, _ := m.State("f2")

		return state.LastResult == 200.0
	}, time.Second, 5*time.Millisecond)
}

func TestManager_UpdateNodeDependenciesPrunesDisconnectedInputs(t *testing.T) {
	ctx := context.Background()
	formula := &recordingFormula{}
	m := newTestManager(t, Config{})

	require.NoError(t, m.CreateContext(ctx, "f", formula.definition("times10")))

	m.UpdateNodeDependencies(ctx, "f", models.Dependencies{InputNodes: []models.EdgeRef{
		{EdgeID: "e1", NodeID: "a", TargetHandle: "x"},
		{EdgeID: "e2", NodeID: "b", TargetHandle: "y"},
	}})
	require.NoError(t, m.UpdateInputs(ctx, "f", map[string]any{"x": 1.0, "y": 2.0, "manual": true}))

	m.UpdateNodeDependencies(ctx, "f", models.Dependencies{InputNodes: []models.EdgeRef{
		{EdgeID: "e1", NodeID: "a", TargetHandle: "x"},
	}})

	state, _ := m.State("f")
	assert.Equal(t, map[string]any{"x": 1.0, "manual": true}, state.InputValues)
}

func TestManager_NotInitialized(t *testing.T) {
	m := NewManager(slog.Default(), engine.NewFuncEvaluator(), NewStateStore(), Config{Clock: clockwork.NewFakeClock()})

	err := m.CreateContext(context.Background(), "f", (&recordingFormula{}).definition("x"))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, m.Dispose(context.Background()))
}

func TestHandleValue(t *testing.T) {
	outputs := []models.OutputDescriptor{{Key: "result"}}

	testCases := []struct {
		name     string
		value    any
		handle   string
		expected any
		ok       bool
	}{
		{name: "empty handle", value: 5.0, expected: 5.0, ok: true},
		{name: "field path", value: map[string]any{"a": map[string]any{"b": 1.0}}, handle: "a.b", expected: 1.0, ok: true},
		{name: "missing field", value: map[string]any{"a": 1.0}, handle: "b", ok: false},
		{name: "declared output of scalar", value: 7.0, handle: "result", expected: 7.0, ok: true},
		{name: "unknown handle on scalar", value: 7.0, handle: "other", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := HandleValue(tc.value, tc.handle, outputs)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, got)
		})
	}
}
