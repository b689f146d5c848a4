package web

import (
	"errors"

	"github.com/fieldserv/onboarding/pkg/attachments"
	"github.com/fieldserv/onboarding/pkg/persistence"
	"github.com/fieldserv/onboarding/pkg/services"
	"github.com/fieldserv/onboarding/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func unavailable(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusServiceUnavailable, "unavailable", detail)
}

// conflictType names the rule a rejected change broke.
func conflictType(err error) string {
	switch {
	case errors.Is(err, workflow.ErrDependenciesNotMet):
		return "dependencies_not_met"
	case errors.Is(err, workflow.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, workflow.ErrProcessStopped):
		return "process_stopped"
	case errors.Is(err, persistence.ErrVersionConflict):
		return "version_conflict"
	default:
		return "conflict"
	}
}

// handleServiceError maps service layer errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err), errors.Is(err, attachments.ErrInvalidFile):
		return badRequest(c, err.Error())

	case services.IsNotFoundError(err):
		return problem(c, fiber.StatusNotFound, "not_found", err.Error())

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, conflictType(err), err.Error())

	case errors.Is(err, services.ErrPersistenceNotConfigured):
		return unavailable(c, err.Error())

	default:
		// Unexpected errors don't expose details
		p := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}
