package services_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/engine"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/formulas"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/mocks"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence/file"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/propagation"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/runtime"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/services"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/sources"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/streaming"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/testutil"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	saved   []string
	deleted []string
}

func (n *recordingNotifier) GraphSaved(graph *models.GraphSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.saved = append(n.saved, graph.ID)
}

func (n *recordingNotifier) GraphDeleted(graphID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.deleted = append(n.deleted, graphID)
}

func newPropagator(t *testing.T) *propagation.Propagator {
	t.Helper()

	repo := formulas.NewDefaultRepository(slog.Default())
	manager := runtime.NewManager(slog.Default(), engine.NewFuncEvaluator(), runtime.NewStateStore(), runtime.Config{ExecutionTimeout: -1})
	require.NoError(t, manager.Initialize(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = manager.Dispose(ctx)
	})

	return propagation.NewPropagator(slog.Default(), topology.NewStore(repo), manager, repo)
}

func newPlayground(t *testing.T, store persistence.Persistence) *services.Playground {
	t.Helper()

	return services.NewPlayground(slog.Default(), newPropagator(t), store)
}

func TestPlayground_SaveAndLoad(t *testing.T) {
	ctx := t.Context()
	store := file.NewPersistence(t.TempDir())
	notifier := &recordingNotifier{}

	source := newPlayground(t, store).WithNotifier(notifier)
	graph := testutil.CreateTestGraph()
	require.NoError(t, source.ReplaceGraph(ctx, graph.Nodes, graph.Edges))
	require.NoError(t, source.Propagator().Manager().StartAutoRun(ctx, "total"))

	saved, err := source.Save(ctx, "pricing", "Pricing")
	require.NoError(t, err)
	assert.Equal(t, []string{"total"}, saved.AutoRun)
	assert.Equal(t, "pricing", source.GraphID())
	assert.Equal(t, []string{"pricing"}, notifier.saved)

	target := newPlayground(t, store)
	loaded, err := target.Load(ctx, "pricing")
	require.NoError(t, err)
	assert.Equal(t, "Pricing", loaded.Name)
	assert.Equal(t, "pricing", target.GraphID())

	state, err := target.Propagator().Manager().Await(ctx, "total")
	require.NoError(t, err)
	assert.True(t, state.IsAutoRunning)
	assert.Equal(t, models.ExecutionStatusSuccess, state.Status)
	assert.InDelta(t, 50.0, state.LastResult, 1e-9)

	live := target.Graph()
	assert.Equal(t, "pricing", live.ID)
	assert.Len(t, live.Nodes, 4)
	assert.Len(t, live.Edges, 3)
}

func TestPlayground_Errors(t *testing.T) {
	ctx := t.Context()
	p := newPlayground(t, file.NewPersistence(t.TempDir()))

	_, err := p.Save(ctx, "", "unnamed")
	assert.True(t, services.IsValidationError(err))

	_, err = p.Load(ctx, "missing")
	assert.True(t, services.IsGraphNotFound(err))

	_, err = p.RefreshNode(ctx, "api")
	assert.ErrorIs(t, err, services.ErrFetchingDisabled)

	err = p.Restore(ctx, nil)
	assert.True(t, services.IsValidationError(err))

	err = p.Disconnect(ctx, "nope")
	assert.True(t, services.IsNotFoundError(err))

	require.NoError(t, p.ReplaceGraph(ctx, []*models.Node{testutil.FormulaNode("f", "sum")}, nil))
	err = p.SetNodeValue(ctx, "f", 1.0)
	assert.True(t, services.IsValidationError(err))
}

func TestPlayground_ConnectGeneratesEdgeID(t *testing.T) {
	ctx := t.Context()
	p := newPlayground(t, file.NewPersistence(t.TempDir()))

	require.NoError(t, p.ReplaceGraph(ctx, []*models.Node{
		testutil.InputNode("a", 1.0),
		testutil.InputNode("b", nil),
	}, nil))

	result, err := p.Connect(ctx, models.Edge{Source: "a", Target: "b"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Edge.ID)

	node, ok := p.Propagator().Store().Node("b")
	require.True(t, ok)
	assert.Equal(t, 1.0, node.Value())
}

func TestPlayground_ReplaceGraphSchedulesPolling(t *testing.T) {
	ctx := t.Context()
	propagator := newPropagator(t)
	fetcher := sources.NewAPIFetcher(slog.Default(), "http://127.0.0.1:1", propagator.Store(), propagator)
	poller := sources.NewPoller(slog.Default(), fetcher)

	p := services.NewPlayground(slog.Default(), propagator, file.NewPersistence(t.TempDir())).
		WithSources(nil, poller, fetcher)

	nodes := []*models.Node{
		models.NewNode("prices", models.APIData{Path: "/prices", Schedule: "@every 1m"}),
		models.NewNode("broken", models.APIData{Path: "/broken", Schedule: "not a schedule"}),
	}

	require.NoError(t, p.ReplaceGraph(ctx, nodes, nil))
	assert.Equal(t, 1, poller.Jobs())

	require.NoError(t, p.ReplaceGraph(ctx, nil, nil))
	assert.Equal(t, 0, poller.Jobs())
}

func TestPlayground_AddAndRemoveStreamingNode(t *testing.T) {
	ctx := t.Context()

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	mux := streaming.NewMultiplexer(slog.Default(), streaming.NewWatermillDialer(slog.Default(), pubSub), "memory")
	require.NoError(t, mux.Initialize(ctx))

	defer func() { _ = mux.Dispose(context.Background()) }()

	propagator := newPropagator(t)
	binder := sources.NewStreamBinder(slog.Default(), mux, propagator)

	p := services.NewPlayground(slog.Default(), propagator, file.NewPersistence(t.TempDir())).
		WithSources(binder, nil, nil)

	require.NoError(t, p.AddNode(ctx, models.NewNode("ticker", models.StreamingData{Topic: "prices"})))
	assert.Equal(t, 1, mux.Subscribers("prices"))

	err := p.AddNode(ctx, nil)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))

	require.NoError(t, p.RemoveNode(ctx, "ticker"))
	assert.Equal(t, 0, mux.Subscribers("prices"))
	assert.Equal(t, 0, mux.TopicCount())

	require.ErrorIs(t, p.RemoveNode(ctx, "ticker"), topology.ErrNodeNotFound)
}

func TestPlayground_DeleteNotifies(t *testing.T) {
	ctx := t.Context()
	store := &mocks.MockPersistence{}
	store.On("DeleteGraph", mock.Anything, "old").Return(nil)
	store.On("DeleteGraph", mock.Anything, "gone").Return(persistence.NewGraphError("DeleteGraph", "gone", persistence.ErrGraphNotFound))

	notifier := &recordingNotifier{}
	p := newPlayground(t, store).WithNotifier(notifier)

	require.NoError(t, p.Delete(ctx, "old"))
	assert.True(t, services.IsGraphNotFound(p.Delete(ctx, "gone")))
	assert.Equal(t, []string{"old"}, notifier.deleted)

	store.AssertExpectations(t)
}

func TestPlayground_HealthCheck(t *testing.T) {
	ctx := t.Context()
	store := &mocks.MockPersistence{}
	store.On("HealthCheck", mock.Anything).Return(nil).Once()
	store.On("HealthCheck", mock.Anything).Return(assert.AnError).Once()

	p := newPlayground(t, store)

	message, ok := p.HealthCheck(ctx)
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)

	message, ok = p.HealthCheck(ctx)
	assert.False(t, ok)
	assert.Contains(t, message, "unhealthy")
}
