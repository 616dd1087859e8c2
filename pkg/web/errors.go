package web

import (
	"errors"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/runtime"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/services"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/sources"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleServiceError maps domain errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case topology.IsConnectionRejected(err):
		return problem(c, fiber.StatusUnprocessableEntity, "connection_rejected", err.Error())

	case services.IsValidationError(err), errors.Is(err, sources.ErrNotAPINode):
		return badRequest(c, err.Error())

	case errors.Is(err, topology.ErrNodeNotFound):
		return problem(c, fiber.StatusNotFound, "node_not_found", err.Error())

	case errors.Is(err, topology.ErrDuplicateNode):
		return problem(c, fiber.StatusConflict, "duplicate_node", err.Error())

	case errors.Is(err, topology.ErrEdgeNotFound):
		return problem(c, fiber.StatusNotFound, "edge_not_found", err.Error())

	case services.IsGraphNotFound(err):
		return problem(c, fiber.StatusNotFound, "graph_not_found", "graph not found")

	case runtime.IsNoContext(err):
		return problem(c, fiber.StatusNotFound, "no_execution_context", err.Error())

	case runtime.IsNoFormula(err):
		return problem(c, fiber.StatusUnprocessableEntity, "no_formula", err.Error())

	case errors.Is(err, runtime.ErrNotInitialized), errors.Is(err, services.ErrFetchingDisabled):
		return problem(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())

	case errors.Is(err, sources.ErrUnexpectedStatus):
		return problem(c, fiber.StatusBadGateway, "upstream_error", err.Error())

	default:
		return internalError(c, err)
	}
}
