// Package web provides HTTP handlers and REST API endpoints for onboarding processes.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldserv/onboarding/pkg/attachments"
	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// TemplateLister lists the templates processes can be created from.
type TemplateLister interface {
	List() []*models.Template
}

type APIHandlers struct {
	processes *services.Processes
	templates TemplateLister
	storage   attachments.Storage
	validator *validator.Validate
	logger    *slog.Logger
}

// NewAPIHandlers wires the handlers. templates and storage may be nil; the
// endpoints that need them then answer with an empty list or 503.
func NewAPIHandlers(
	processes *services.Processes,
	templates TemplateLister,
	storage attachments.Storage,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		processes: processes,
		templates: templates,
		storage:   storage,
		validator: validator,
		logger:    logger.With("module", "web"),
	}
}

func (h *APIHandlers) ListProcesses(c fiber.Ctx) error {
	req := services.ListProcessesRequest{
		Status:     models.ProcessStatus(c.Query("status")),
		TemplateID: c.Query("template_id"),
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	processes, err := h.processes.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListProcessesResponse{
		Processes:  processes,
		TotalCount: len(processes),
	})
}

func (h *APIHandlers) CreateProcess(c fiber.Ctx) error {
	var req CreateProcessRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	snapshot, err := h.processes.Create(c.Context(), services.CreateProcessRequest{
		ID:         req.ID,
		Name:       req.Name,
		TemplateID: req.TemplateID,
		Steps:      req.Steps,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(snapshot)
}

func (h *APIHandlers) GetProcess(c fiber.Ctx) error {
	snapshot, err := h.processes.Snapshot(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(snapshot)
}

func (h *APIHandlers) TransitionStep(c fiber.Ctx) error {
	var req TransitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	snapshot, err := h.processes.RequestTransition(c.Context(), c.Params("id"), c.Params("stepId"), req.Action)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(snapshot)
}

func (h *APIHandlers) StopProcess(c fiber.Ctx) error {
	var req StopRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	snapshot, err := h.processes.Stop(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(snapshot)
}

func (h *APIHandlers) SaveProcess(c fiber.Ctx) error {
	if err := h.processes.Save(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// UploadAttachment stores the multipart "file" and records it on the step.
// The stored file is removed again if the step rejects it.
func (h *APIHandlers) UploadAttachment(c fiber.Ctx) error {
	if h.storage == nil {
		return unavailable(c, "Attachment storage is not configured")
	}

	header, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "Multipart field 'file' is required")
	}

	content, err := header.Open()
	if err != nil {
		return badRequest(c, "Unable to read uploaded file")
	}

	defer func() {
		if err := content.Close(); err != nil {
			h.logger.Warn("Failed to close upload", "error", err)
		}
	}()

	processID := c.Params("id")
	stepID := c.Params("stepId")

	// Reject unknown processes before storing anything.
	if _, err := h.processes.Snapshot(c.Context(), processID); err != nil {
		return handleServiceError(c, err)
	}

	attachment, err := h.storage.Upload(c.Context(), processID, stepID, attachments.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     content,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	snapshot, err := h.processes.Attach(c.Context(), processID, stepID, attachment)
	if err != nil {
		if deleteErr := h.storage.Delete(c.Context(), attachment); deleteErr != nil {
			h.logger.Error("Failed to remove orphaned attachment", "attachment_id", attachment.ID, "error", deleteErr)
		}

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(AttachmentResponse{
		Attachment: attachment,
		Process:    snapshot,
	})
}

// DeleteAttachment removes the reference first; a failure to delete the
// stored file afterwards is logged, not returned.
func (h *APIHandlers) DeleteAttachment(c fiber.Ctx) error {
	removed, snapshot, err := h.processes.Detach(c.Context(), c.Params("id"), c.Params("stepId"), c.Params("attachmentId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if h.storage != nil {
		if err := h.storage.Delete(c.Context(), removed); err != nil {
			h.logger.Error("Failed to delete attachment file", "attachment_id", removed.ID, "error", err)
		}
	}

	return c.JSON(snapshot)
}

func (h *APIHandlers) ListTemplates(c fiber.Ctx) error {
	list := []*models.Template{}
	if h.templates != nil {
		list = h.templates.List()
	}

	return c.JSON(fiber.Map{
		"templates": list,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	persistenceCheck, ok := h.processes.HealthCheck(c.Context())

	storageCheck := "Attachment storage disabled"

	if h.storage != nil {
		if err := h.storage.HealthCheck(c.Context()); err != nil {
			storageCheck = "Attachment storage is unhealthy: " + err.Error()
			ok = false
		} else {
			storageCheck = "Attachment storage is healthy"
		}
	}

	status := "unhealthy"
	message := "Onboarding API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Onboarding API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": persistenceCheck,
			"attachments": storageCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	p := router.Group("/processes")
	p.Get("/", h.ListProcesses)
	p.Post("/", h.CreateProcess)
	p.Get("/:id", h.GetProcess)
	p.Post("/:id/stop", h.StopProcess)
	p.Post("/:id/save", h.SaveProcess)
	p.Post("/:id/steps/:stepId/transitions", h.TransitionStep)
	p.Post("/:id/steps/:stepId/attachments", h.UploadAttachment)
	p.Delete("/:id/steps/:stepId/attachments/:attachmentId", h.DeleteAttachment)

	router.Get("/templates", h.ListTemplates)
	router.Get("/health", h.HealthCheck)
}
