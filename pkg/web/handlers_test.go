package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/engine"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/formulas"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence/file"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/propagation"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/runtime"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/services"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/streaming"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/testutil"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreams struct {
	status   streaming.Status
	endpoint string
}

func (f *fakeStreams) Status() streaming.Status { return f.status }
func (f *fakeStreams) Endpoint() string         { return f.endpoint }
func (f *fakeStreams) TopicCount() int          { return 0 }

func (f *fakeStreams) SetEndpoint(_ context.Context, endpoint string) error {
	f.endpoint = endpoint
	f.status = streaming.StatusConnected

	return nil
}

func setupTestApp(t *testing.T) (*fiber.App, *services.Playground) {
	t.Helper()

	repo := formulas.NewDefaultRepository(slog.Default())
	manager := runtime.NewManager(slog.Default(), engine.NewFuncEvaluator(), runtime.NewStateStore(), runtime.Config{ExecutionTimeout: -1})
	require.NoError(t, manager.Initialize(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = manager.Dispose(ctx)
	})

	propagator := propagation.NewPropagator(slog.Default(), topology.NewStore(repo), manager, repo)
	playground := services.NewPlayground(slog.Default(), propagator, file.NewPersistence(t.TempDir()))

	handlers := web.NewAPIHandlers(playground, repo, &fakeStreams{status: streaming.StatusDisconnected}, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	web.Register(app, handlers)

	return app, playground
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))

	return v
}

func loadGraph(t *testing.T, app *fiber.App) {
	t.Helper()

	graph := testutil.CreateTestGraph()
	status, body := doRequest(t, app, http.MethodPut, "/graph", web.ReplaceGraphRequest{Nodes: graph.Nodes, Edges: graph.Edges})
	require.Equal(t, http.StatusOK, status, string(body))
}

func TestAPIHandlers_ReplaceAndGetGraph(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	loadGraph(t, app)

	status, body := doRequest(t, app, http.MethodGet, "/graph", nil)
	require.Equal(t, http.StatusOK, status)

	graph := decode[models.GraphSnapshot](t, body)
	assert.Len(t, graph.Nodes, 4)
	assert.Len(t, graph.Edges, 3)

	status, _ = doRequest(t, app, http.MethodPut, "/graph", `{"nodes":[{"id":"x","type":"bogus"}]}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, app, http.MethodPut, "/graph", `{"nodes":[{"type":"input"}]}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ExecuteAndAutoRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	loadGraph(t, app)

	status, body := doRequest(t, app, http.MethodPost, "/nodes/total/execute?wait=true", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	state := decode[models.NodeState](t, body)
	assert.Equal(t, models.ExecutionStatusSuccess, state.Status)
	assert.InDelta(t, 50.0, state.LastResult, 1e-9)

	status, body = doRequest(t, app, http.MethodPost, "/nodes/total/autorun", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[models.NodeState](t, body).IsAutoRunning)

	status, body = doRequest(t, app, http.MethodDelete, "/nodes/total/autorun", nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[models.NodeState](t, body).IsAutoRunning)

	status, body = doRequest(t, app, http.MethodGet, "/states", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.NodeState](t, body), 1)

	status, _ = doRequest(t, app, http.MethodPost, "/nodes/total/execute?wait=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ContextLifecycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	loadGraph(t, app)

	status, body := doRequest(t, app, http.MethodPatch, "/nodes/total/inputs", web.UpdateInputsRequest{Inputs: map[string]any{"a": 3.0}})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, 3.0, decode[models.NodeState](t, body).InputValues["a"])

	status, body = doRequest(t, app, http.MethodPost, "/nodes/total/context", web.CreateContextRequest{FormulaID: "sum"})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, _ = doRequest(t, app, http.MethodPost, "/nodes/total/context", web.CreateContextRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, app, http.MethodPost, "/nodes/total/context", web.CreateContextRequest{FormulaID: "unknown"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/nodes/total/context", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/nodes/total/context", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doRequest(t, app, http.MethodPost, "/nodes/total/execute", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, http.MethodGet, "/nodes/total/state", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_Edges(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	loadGraph(t, app)

	tests := []struct {
		name           string
		request        any
		expectedStatus int
	}{
		{
			name:           "replaces existing input edge",
			request:        web.ConnectRequest{Source: "price", Target: "total", TargetHandle: "b"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing target",
			request:        web.ConnectRequest{Source: "price"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown handle",
			request:        web.ConnectRequest{Source: "price", Target: "total", TargetHandle: "zzz"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "cycle through input",
			request:        web.ConnectRequest{Source: "out", Target: "price"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "cycle",
			request:        web.ConnectRequest{Source: "out", Target: "total", TargetHandle: "a"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "invalid JSON",
			request:        "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodPost, "/edges", tt.request)
			assert.Equal(t, tt.expectedStatus, status, string(body))
		})
	}

	status, body := doRequest(t, app, http.MethodGet, "/nodes/total/dependencies", nil)
	require.Equal(t, http.StatusOK, status)

	deps := decode[models.Dependencies](t, body)
	require.Len(t, deps.InputNodes, 2)

	for _, ref := range deps.InputNodes {
		assert.Equal(t, "price", ref.NodeID)
	}

	status, _ = doRequest(t, app, http.MethodDelete, "/edges/"+deps.InputNodes[0].EdgeID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/edges/"+deps.InputNodes[0].EdgeID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, http.MethodGet, "/nodes/ghost/dependencies", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_Nodes(t *testing.T) {
	t.Parallel()

	app, playground := setupTestApp(t)
	loadGraph(t, app)

	status, body := doRequest(t, app, http.MethodPost, "/nodes", `{"id":"discount","type":"input","data":{"value":0.1}}`)
	require.Equal(t, http.StatusCreated, status, string(body))

	node := decode[models.Node](t, body)
	assert.Equal(t, "discount", node.ID)
	assert.Equal(t, 0.1, node.Value())

	status, _ = doRequest(t, app, http.MethodPost, "/nodes", `{"id":"discount","type":"input","data":{"value":1}}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doRequest(t, app, http.MethodPost, "/nodes", `{"id":"x","type":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, app, http.MethodPost, "/nodes", `{"id":"f","type":"formula","data":{"formula_id":"sum"}}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.True(t, playground.Propagator().Manager().HasContext("f"))

	status, _ = doRequest(t, app, http.MethodDelete, "/nodes/price", nil)
	assert.Equal(t, http.StatusNoContent, status)

	graph := playground.Graph()
	assert.Len(t, graph.Nodes, 5)
	assert.Len(t, graph.Edges, 2)

	status, _ = doRequest(t, app, http.MethodDelete, "/nodes/total", nil)
	assert.Equal(t, http.StatusNoContent, status)
	assert.False(t, playground.Propagator().Manager().HasContext("total"))

	status, _ = doRequest(t, app, http.MethodDelete, "/nodes/price", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_ReplaceGraphRejectsConflictingEdges(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	req := web.ReplaceGraphRequest{
		Nodes: []*models.Node{
			testutil.InputNode("a", 1.0),
			testutil.InputNode("b", 2.0),
			testutil.InputNode("i", nil),
		},
		Edges: []models.Edge{
			testutil.Edge("a", "i", ""),
			testutil.Edge("b", "i", ""),
		},
	}

	status, body := doRequest(t, app, http.MethodPut, "/graph", req)
	assert.Equal(t, http.StatusUnprocessableEntity, status, string(body))
}

func TestAPIHandlers_SetNodeValue(t *testing.T) {
	t.Parallel()

	app, playground := setupTestApp(t)
	loadGraph(t, app)

	status, body := doRequest(t, app, http.MethodPut, "/nodes/price/value", web.SetValueRequest{Value: 20.0})
	require.Equal(t, http.StatusOK, status, string(body))

	node, ok := playground.Propagator().Store().Node("price")
	require.True(t, ok)
	assert.Equal(t, 20.0, node.Value())

	state, ok := playground.Propagator().Manager().State("total")
	require.True(t, ok)
	assert.Equal(t, 20.0, state.InputValues["a"])

	status, _ = doRequest(t, app, http.MethodPut, "/nodes/total/value", web.SetValueRequest{Value: 1.0})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, app, http.MethodPut, "/nodes/ghost/value", web.SetValueRequest{Value: 1.0})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, http.MethodPost, "/nodes/price/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestAPIHandlers_Graphs(t *testing.T) {
	t.Parallel()

	app, playground := setupTestApp(t)
	loadGraph(t, app)

	status, body := doRequest(t, app, http.MethodPost, "/graphs/pricing/save", web.SaveGraphRequest{Name: "Pricing"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "Pricing", decode[models.GraphSnapshot](t, body).Name)

	status, body = doRequest(t, app, http.MethodGet, "/graphs", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.GraphSnapshot](t, body), 1)

	status, _ = doRequest(t, app, http.MethodPut, "/graph", web.ReplaceGraphRequest{})
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, playground.Graph().Nodes)

	status, body = doRequest(t, app, http.MethodPost, "/graphs/pricing/load", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Len(t, decode[models.GraphSnapshot](t, body).Nodes, 4)

	status, _ = doRequest(t, app, http.MethodPost, "/graphs/missing/load", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/graphs/pricing", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/graphs/pricing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_FormulasStreamsHealth(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/formulas", nil)
	require.Equal(t, http.StatusOK, status)

	list := decode[[]web.FormulaResponse](t, body)
	require.Len(t, list, 8)
	assert.Equal(t, "concat", list[0].ID)

	status, body = doRequest(t, app, http.MethodGet, "/streams/status", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "disconnected", decode[web.StreamStatusResponse](t, body).Status)

	status, body = doRequest(t, app, http.MethodPut, "/streams/endpoint", web.SetEndpointRequest{Endpoint: "wss://stream.example.com/ws"})
	require.Equal(t, http.StatusOK, status)

	stream := decode[web.StreamStatusResponse](t, body)
	assert.Equal(t, "connected", stream.Status)
	assert.Equal(t, "wss://stream.example.com/ws", stream.Endpoint)

	status, _ = doRequest(t, app, http.MethodPut, "/streams/endpoint", web.SetEndpointRequest{Endpoint: "not a url"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"healthy"`)
}
