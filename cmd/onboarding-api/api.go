package main

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldserv/onboarding/pkg/attachments"
	"github.com/fieldserv/onboarding/pkg/services"
	"github.com/fieldserv/onboarding/pkg/stream"
	"github.com/fieldserv/onboarding/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger    *slog.Logger
	processes *services.Processes
	templates web.TemplateLister
	storage   attachments.Storage
	validate  *validator.Validate
}

// NewAPI builds the HTTP surface. templates and storage may be nil.
func NewAPI(
	logger *slog.Logger,
	processes *services.Processes,
	templates web.TemplateLister,
	storage attachments.Storage,
) *API {
	return &API{
		logger:    logger,
		processes: processes,
		templates: templates,
		storage:   storage,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.processes, a.templates, a.storage, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Onboarding API")
	})

	handlers.Register(app)

	return app
}

// StreamServer serves websocket process streams on port.
func (a *API) StreamServer(port int) *http.Server {
	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           stream.NewHandler(a.processes, a.logger).Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
