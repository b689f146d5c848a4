package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fieldserv/onboarding/pkg/checkpoint"
	"github.com/fieldserv/onboarding/pkg/cmd"
	"github.com/fieldserv/onboarding/pkg/log"
	"github.com/fieldserv/onboarding/pkg/otelhelper"
	"github.com/fieldserv/onboarding/pkg/services"
	"github.com/fieldserv/onboarding/pkg/templates"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 15 * time.Second

type config struct {
	Port               int
	StreamPort         int
	DatabaseURL        string
	CacheSize          int
	EventBus           string
	KafkaBrokers       string
	AttachmentsURL     string
	TemplatesPath      string
	CheckpointSchedule string
	SaveOnChange       bool
	TracingEnabled     bool
}

func run(ctx context.Context, cfg config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := slog.Default()
	logger := log.WithModule("api")
	logger.Info("Initializing Onboarding API")

	tracer := otelhelper.NoopTracer()

	if cfg.TracingEnabled {
		var (
			shutdown otelhelper.ShutdownFunc
			err      error
		)

		tracer, shutdown, err = newTracer(ctx)
		if err != nil {
			return err
		}

		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	persistence, err := cmd.NewPersistence(ctx, base, cfg.DatabaseURL, cfg.CacheSize)
	if err != nil {
		return err
	}

	if persistence != nil {
		defer func() {
			if err := persistence.Close(context.Background()); err != nil {
				logger.Error("Failed to close persistence", "error", err)
			}
		}()
	} else {
		logger.Warn("No persistence configured, processes are kept in memory only")
	}

	catalog, err := templates.Load(cfg.TemplatesPath)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	logger.Info("Templates loaded", "count", len(catalog.List()), "path", cfg.TemplatesPath)

	storage, err := cmd.NewAttachmentStorage(cfg.AttachmentsURL)
	if err != nil {
		return err
	}

	if storage == nil {
		logger.Warn("No attachment storage configured, uploads are disabled")
	}

	eventBus, err := cmd.NewEventBus(cfg.EventBus, cfg.KafkaBrokers, base)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	processes := services.NewProcesses(services.Options{
		Persistence:  persistence,
		Templates:    catalog,
		Tracer:       tracer,
		Logger:       base,
		SaveOnChange: cfg.SaveOnChange,
	})

	relay := services.NewRelay(eventBus, base, services.DefaultRelayBuffer)
	relay.Start(context.WithoutCancel(ctx))
	defer relay.Stop()

	processes.Observe(relay.Observe)

	if persistence != nil {
		checkpointer, err := checkpoint.New(processes, cfg.CheckpointSchedule, base)
		if err != nil {
			return err
		}

		if err := checkpointer.Start(ctx); err != nil {
			return err
		}

		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			checkpointer.Stop(flushCtx)
		}()
	}

	api := NewAPI(base, processes, catalog, storage)
	app := api.App()

	errs := make(chan error, 2)

	var streamServer *http.Server

	if cfg.StreamPort > 0 {
		streamServer = api.StreamServer(cfg.StreamPort)

		go func() {
			logger.Info("Stream server listening", "port", cfg.StreamPort)

			if err := streamServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("stream server: %w", err)
			}
		}()
	}

	go func() {
		if err := app.Listen(":" + strconv.Itoa(cfg.Port)); err != nil {
			errs <- fmt.Errorf("api server: %w", err)
		}
	}()

	var runErr error

	select {
	case <-ctx.Done():
		logger.Info("Shutting down Onboarding API")
	case runErr = <-errs:
		logger.Error("Server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown API server", "error", err)
	}

	if streamServer != nil {
		if err := streamServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown stream server", "error", err)
		}
	}

	// Deferred calls stop the checkpointer (final flush), the relay, the bus
	// and persistence, in that order.
	return runErr
}

// nolint:ireturn
func newTracer(ctx context.Context) (trace.Tracer, otelhelper.ShutdownFunc, error) {
	tracer, shutdown, err := otelhelper.NewTracer(ctx, "onboarding-api")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}
