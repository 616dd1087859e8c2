package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/config"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/engine"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/eventbus"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/formulas"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/persistence"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/propagation"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/runtime"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/services"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/sources"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/streaming"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
	"go.opentelemetry.io/otel/trace"
)

// Runtime is a fully wired playground: formula catalog, execution manager, propagation,
// producers, storage and the event forwarder.
type Runtime struct {
	Formulas    *formulas.Repository
	Manager     *runtime.Manager
	Propagator  *propagation.Propagator
	Streams     *streaming.Multiplexer
	Poller      *sources.Poller
	Playground  *services.Playground
	EventBus    eventbus.EventBus
	Forwarder   *eventbus.Forwarder
	Persistence persistence.Persistence

	logger *slog.Logger
}

func NewRuntime(ctx context.Context, logger *slog.Logger, settings config.Settings, tracer trace.Tracer) (*Runtime, error) {
	repo := formulas.NewDefaultRepository(logger)

	manager := runtime.NewManager(
		logger,
		engine.NewTracingEvaluator(engine.NewFuncEvaluator(), tracer),
		runtime.NewStateStore(),
		runtime.Config{
			Debounce:         settings.Debounce,
			ExecutionTimeout: settings.ExecutionTimeout,
		},
	)

	store := topology.NewStore(repo)
	propagator := propagation.NewPropagator(logger, store, manager, repo)

	bus, subscriber, err := NewEventBus(settings.EventBus, settings.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	var dialer streaming.Dialer = streaming.NewWebSocketDialer(logger)
	if settings.StreamingTransport == "eventbus" {
		dialer = streaming.NewWatermillDialer(logger, subscriber)
	}

	mux := streaming.NewMultiplexer(logger, dialer, settings.StreamingEndpoint)
	binder := sources.NewStreamBinder(logger, mux, propagator)
	fetcher := sources.NewAPIFetcher(logger, settings.APIBaseURL, store, propagator)
	poller := sources.NewPoller(logger, fetcher)

	storage, err := NewPersistence(ctx, logger, settings.PersistenceURL)
	if err != nil {
		_ = bus.Close()

		return nil, err
	}

	playground := services.NewPlayground(logger, propagator, storage).WithSources(binder, poller, fetcher)

	forwarder := eventbus.NewForwarder(logger, bus, playground.GraphID, mux.Endpoint)
	playground.WithNotifier(forwarder)
	manager.States().Subscribe(forwarder.NodeStateChanged)
	mux.OnStatusChange(forwarder.StreamStatusChanged)

	return &Runtime{
		Formulas:    repo,
		Manager:     manager,
		Propagator:  propagator,
		Streams:     mux,
		Poller:      poller,
		Playground:  playground,
		EventBus:    bus,
		Forwarder:   forwarder,
		Persistence: storage,
		logger:      logger.With("module", "runtime"),
	}, nil
}

// Start initializes the execution manager, dials the streaming endpoint and starts polling.
// A streaming endpoint that cannot be reached is reported through the stream status only.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize execution manager: %w", err)
	}

	if err := r.Streams.Initialize(ctx); err != nil {
		r.logger.WarnContext(ctx, "Streaming endpoint unavailable", "endpoint", r.Streams.Endpoint(), "error", err)
	}

	r.Poller.Start(ctx)

	return nil
}

// Close stops every component in reverse dependency order.
func (r *Runtime) Close(ctx context.Context) error {
	r.Poller.Stop()

	return errors.Join(
		r.Streams.Dispose(ctx),
		r.Manager.Dispose(ctx),
		r.EventBus.Close(),
		r.Persistence.Close(ctx),
	)
}
