package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/runtime"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/services"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/streaming"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const defaultAwaitTimeout = 30 * time.Second

// FormulaCatalog lists the formulas nodes can be bound to.
type FormulaCatalog interface {
	List() []*models.FormulaDefinition
}

// StreamController is the part of the streaming multiplexer the API exposes.
type StreamController interface {
	Status() streaming.Status
	Endpoint() string
	TopicCount() int
	SetEndpoint(ctx context.Context, endpoint string) error
}

type APIHandlers struct {
	playground *services.Playground
	manager    *runtime.Manager
	formulas   FormulaCatalog
	streams    StreamController
	validator  *validator.Validate
}

func NewAPIHandlers(
	playground *services.Playground,
	formulas FormulaCatalog,
	streams StreamController,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		playground: playground,
		manager:    playground.Propagator().Manager(),
		formulas:   formulas,
		streams:    streams,
		validator:  validator,
	}
}

func (h *APIHandlers) GetGraph(c fiber.Ctx) error {
	return c.JSON(h.playground.Graph())
}

func (h *APIHandlers) ReplaceGraph(c fiber.Ctx) error {
	var req ReplaceGraphRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.playground.ReplaceGraph(c.Context(), req.Nodes, req.Edges); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.playground.Graph())
}

func (h *APIHandlers) AddNode(c fiber.Ctx) error {
	var node models.Node
	if err := c.Bind().JSON(&node); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(node); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.playground.AddNode(c.Context(), &node); err != nil {
		return handleServiceError(c, err)
	}

	stored, ok := h.playground.Propagator().Store().Node(node.ID)
	if !ok {
		return notFound(c, "node not found")
	}

	return c.Status(fiber.StatusCreated).JSON(stored)
}

func (h *APIHandlers) RemoveNode(c fiber.Ctx) error {
	if err := h.playground.RemoveNode(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) Connect(c fiber.Ctx) error {
	var req ConnectRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.playground.Connect(c.Context(), req.Edge())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(NewConnectResponse(result))
}

func (h *APIHandlers) Disconnect(c fiber.Ctx) error {
	if err := h.playground.Disconnect(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SetNodeValue(c fiber.Ctx) error {
	id := c.Params("id")

	var req SetValueRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.playground.SetNodeValue(c.Context(), id, req.Value); err != nil {
		return handleServiceError(c, err)
	}

	node, ok := h.playground.Propagator().Store().Node(id)
	if !ok {
		return notFound(c, "Node not found")
	}

	return c.JSON(node)
}

func (h *APIHandlers) RefreshNode(c fiber.Ctx) error {
	value, err := h.playground.RefreshNode(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"value": value})
}

func (h *APIHandlers) CreateContext(c fiber.Ctx) error {
	id := c.Params("id")

	var req CreateContextRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.playground.Propagator().BindFormula(c.Context(), id, req.FormulaID); err != nil {
		return handleServiceError(c, err)
	}

	return h.sendState(c, fiber.StatusCreated, id)
}

func (h *APIHandlers) DisposeContext(c fiber.Ctx) error {
	h.manager.DisposeContext(c.Context(), c.Params("id"))

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) UpdateInputs(c fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateInputsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.manager.UpdateInputs(c.Context(), id, req.Inputs); err != nil {
		return handleServiceError(c, err)
	}

	return h.sendState(c, fiber.StatusOK, id)
}

// ExecuteNode triggers a run. With ?wait=true the response carries the finished state.
func (h *APIHandlers) ExecuteNode(c fiber.Ctx) error {
	id := c.Params("id")

	wait := false

	if raw := c.Query("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "Invalid wait parameter")
		}

		wait = parsed
	}

	if err := h.manager.ExecuteNode(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	if !wait {
		return h.sendState(c, fiber.StatusAccepted, id)
	}

	ctx, cancel := context.WithTimeout(c.Context(), defaultAwaitTimeout)
	defer cancel()

	state, err := h.manager.Await(ctx, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(state)
}

func (h *APIHandlers) StartAutoRun(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.manager.StartAutoRun(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return h.sendState(c, fiber.StatusOK, id)
}

func (h *APIHandlers) StopAutoRun(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.manager.StopAutoRun(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return h.sendState(c, fiber.StatusOK, id)
}

func (h *APIHandlers) GetNodeState(c fiber.Ctx) error {
	return h.sendState(c, fiber.StatusOK, c.Params("id"))
}

func (h *APIHandlers) GetStates(c fiber.Ctx) error {
	return c.JSON(h.manager.States().All())
}

func (h *APIHandlers) GetDependencies(c fiber.Ctx) error {
	id := c.Params("id")

	store := h.playground.Propagator().Store()
	if _, ok := store.Node(id); !ok {
		return notFound(c, "Node not found")
	}

	return c.JSON(store.Dependencies(id))
}

func (h *APIHandlers) GetFormulas(c fiber.Ctx) error {
	defs := h.formulas.List()

	response := make([]FormulaResponse, 0, len(defs))
	for _, def := range defs {
		response = append(response, TransformFormulaResponse(def))
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetStreamStatus(c fiber.Ctx) error {
	return c.JSON(StreamStatusResponse{
		Status:   string(h.streams.Status()),
		Endpoint: h.streams.Endpoint(),
		Topics:   h.streams.TopicCount(),
	})
}

func (h *APIHandlers) SetStreamEndpoint(c fiber.Ctx) error {
	var req SetEndpointRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	// Connection failures surface through the status, not the response.
	_ = h.streams.SetEndpoint(c.Context(), req.Endpoint)

	return h.GetStreamStatus(c)
}

func (h *APIHandlers) GetGraphs(c fiber.Ctx) error {
	graphs, err := h.playground.Graphs(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(graphs)
}

func (h *APIHandlers) SaveGraph(c fiber.Ctx) error {
	var req SaveGraphRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	graph, err := h.playground.Save(c.Context(), c.Params("id"), req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(graph)
}

func (h *APIHandlers) LoadGraph(c fiber.Ctx) error {
	if _, err := h.playground.Load(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.playground.Graph())
}

func (h *APIHandlers) DeleteGraph(c fiber.Ctx) error {
	if err := h.playground.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.playground.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Formula playground API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Formula playground API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"streaming":  string(h.streams.Status()),
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) sendState(c fiber.Ctx, status int, nodeID string) error {
	state, ok := h.manager.State(nodeID)
	if !ok {
		return problem(c, fiber.StatusNotFound, "no_execution_context", "no execution context for node "+nodeID)
	}

	return c.Status(status).JSON(state)
}
