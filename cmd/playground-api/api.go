// Package main provides the formula playground API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/cmd"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/config"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/log"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/otelhelper"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger   *slog.Logger
	runtime  *cmd.Runtime
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, runtime *cmd.Runtime) *API {
	return &API{
		logger:   logger,
		runtime:  runtime,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.runtime.Playground, a.runtime.Formulas, a.runtime.Streams, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Formula Playground API")
	})

	web.Register(app, handlers)

	return app
}

// Serve wires a runtime from settings and serves it until ctx is cancelled.
func Serve(ctx context.Context, settings config.Settings) error {
	logger := log.Setup(settings.LogLevel).With("module", "api")

	logger.InfoContext(ctx, "Initializing Formula Playground API", "port", settings.Port)

	tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, settings.OTelService)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	rt, err := cmd.NewRuntime(ctx, logger, settings, tracer)
	if err != nil {
		return err
	}

	if err := rt.Start(ctx); err != nil {
		return err
	}

	app := NewAPI(logger, rt).App()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.Forwarder.Run(gctx)
	})

	g.Go(func() error {
		return app.Listen(":"+strconv.Itoa(settings.Port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return errors.Join(
			app.ShutdownWithContext(shutdownCtx),
			rt.Close(shutdownCtx),
			shutdownTracer(shutdownCtx),
		)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// loadSettings reads the settings file and applies flag overrides on top.
func loadSettings(command *cli.Command) (config.Settings, error) {
	settings, err := config.LoadOrDefault(command.String("config"))
	if err != nil {
		return settings, err
	}

	if command.IsSet("port") {
		settings.Port = command.Int("port")
	}

	if command.IsSet("database-url") {
		settings.PersistenceURL = command.String("database-url")
	}

	if command.IsSet("event-bus") {
		settings.EventBus = command.String("event-bus")
	}

	if command.IsSet("kafka-brokers") {
		settings.KafkaBrokers = command.StringSlice("kafka-brokers")
	}

	if command.IsSet("streaming-endpoint") {
		settings.StreamingEndpoint = command.String("streaming-endpoint")
	}

	if command.IsSet("log-level") {
		settings.LogLevel = command.String("log-level")
	}

	return settings, settings.Validate()
}
