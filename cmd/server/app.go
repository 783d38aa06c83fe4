package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/carsync-api/internal/api"
	"github.com/phrazzld/carsync-api/internal/apiclient"
	"github.com/phrazzld/carsync-api/internal/cloudsync"
	"github.com/phrazzld/carsync-api/internal/config"
	"github.com/phrazzld/carsync-api/internal/diagnosis"
	"github.com/phrazzld/carsync-api/internal/platform/amqp"
	"github.com/phrazzld/carsync-api/internal/platform/gemini"
	"github.com/phrazzld/carsync-api/internal/platform/postgres"
	"github.com/phrazzld/carsync-api/internal/queue"
	"github.com/phrazzld/carsync-api/internal/redact"
	"github.com/phrazzld/carsync-api/internal/secrets"
	"github.com/phrazzld/carsync-api/internal/task"
)

// memoryBrokerCapacity bounds each queue of the in-process broker.
const memoryBrokerCapacity = 1024

// discardedBodyExcerpt bounds how much of a discarded message body is logged.
const discardedBodyExcerpt = 256

// application holds the shared dependencies so they can be started and
// released together.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB
	broker queue.Broker

	pool      *task.ConsumerPool
	scheduler *task.Scheduler
	router    http.Handler
}

// newApplication wires stores, clients, workers and handlers. The database
// and broker are owned by the application from here on.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB, broker queue.Broker) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
		broker: broker,
	}

	sealer, err := secrets.NewSealerFromHex(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sealer: %w", err)
	}

	// Stores
	sessions := postgres.NewPostgresSessionStore(db, logger)
	results := postgres.NewPostgresResultStore(db, logger)
	vehicles := postgres.NewPostgresVehicleStore(db, logger)
	accounts := postgres.NewPostgresCloudAccountStore(db, logger)
	telemetry := postgres.NewPostgresTelemetryStore(db, logger)

	// Outbound clients
	client := apiclient.New(apiclient.OptionsFromConfig(cfg.HTTP), logger)
	var serviceTokens *apiclient.ServiceTokenIssuer
	if cfg.AI.ServiceTokenSecret != "" {
		serviceTokens, err = apiclient.NewServiceTokenIssuer(cfg.AI.ServiceTokenSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize service token issuer: %w", err)
		}
	}
	inference := apiclient.NewInferenceClient(client, cfg.AI, serviceTokens)
	strategies := apiclient.NewStrategies(client, cfg.Providers)
	margin := time.Duration(cfg.HTTP.TokenMarginSeconds) * time.Second
	tokenCache := apiclient.NewTokenCache(apiclient.ClientCredentialsFetcher(strategies), margin, logger)
	providerAPI := apiclient.NewProviderAPI(client, cfg.Providers)
	logger.Info("outbound clients configured",
		"providers", len(strategies),
		"max_attempts", client.MaxAttempts())

	narrator, err := newNarrator(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	// Diagnosis pipeline
	diagnoses := diagnosis.NewDispatcher(sessions, broker, logger)
	diagnosisWorker := diagnosis.NewWorker(sessions, inference, narrator, logger)

	// Cloud sync pipeline
	syncs := cloudsync.NewDispatcher(broker, vehicles, logger)
	syncWorker := cloudsync.NewWorker(cloudsync.WorkerDeps{
		Vehicles:   vehicles,
		Accounts:   accounts,
		Telemetry:  telemetry,
		Provider:   providerAPI,
		Strategies: strategies,
		Tokens:     tokenCache,
		Sealer:     sealer,
		Delayer:    syncs,
	}, cloudsync.WorkerConfig{
		MaxRetry:    cfg.Broker.MaxRetry,
		TokenMargin: margin,
	}, logger)
	linker := cloudsync.NewAccountService(accounts, vehicles, strategies, sealer, syncs, logger)

	// Consumers
	app.pool = task.NewConsumerPool(broker, logger)
	app.pool.SetErrorHandler(discardedMessageLogger(logger))
	for _, sub := range []task.Subscription{
		{Queue: queue.DiagnosisQueue, Workers: cfg.Broker.DiagnosisWorkers, Handler: diagnosisWorker.Handle},
		{Queue: queue.SyncQueue, Workers: cfg.Broker.SyncWorkers, Handler: syncWorker.Handle},
	} {
		if err := app.pool.Subscribe(sub); err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", sub.Queue, err)
		}
	}

	// Maintenance jobs
	sweeper := task.NewSweeper(sessions, task.SweeperConfig{
		StuckAfter: time.Duration(cfg.Schedule.StuckSessionMinutes) * time.Minute,
		BatchSize:  task.DefaultSweeperConfig().BatchSize,
	}, logger)
	app.scheduler = task.NewScheduler(5*time.Minute, logger)
	if err := app.scheduler.Add("sweep_stuck_sessions", cfg.Schedule.SweepCron, task.SweepJob(sweeper)); err != nil {
		return nil, err
	}
	if err := app.scheduler.Add("resync_linked_vehicles", cfg.Schedule.ResyncCron, task.ResyncJob(syncs)); err != nil {
		return nil, err
	}

	app.router = api.NewRouter(api.RouterDeps{
		Diagnoses: api.NewDiagnosisHandler(diagnoses, sessions, results, logger),
		Cloud:     api.NewCloudHandler(syncs, vehicles, linker, logger),
		Checks: map[string]api.HealthCheck{
			"database": db.PingContext,
		},
	}, logger)

	logger.Info("application initialized")
	return app, nil
}

// discardedMessageLogger reports messages the pool has rejected for good,
// with a redacted excerpt of the body so they can be replayed by hand.
func discardedMessageLogger(logger *slog.Logger) func(*queue.Delivery, error) {
	return func(d *queue.Delivery, err error) {
		if !d.Redelivered {
			return
		}
		logger.Warn("message discarded after failed redelivery",
			"queue", d.Queue,
			"routing_key", d.RoutingKey,
			"body", redact.Payload(d.Body, discardedBodyExcerpt),
			"error", redact.Error(err))
	}
}

// newBroker connects to RabbitMQ or creates the in-process broker, as
// selected by the broker driver.
func newBroker(cfg config.BrokerConfig, logger *slog.Logger) (queue.Broker, error) {
	topology := queue.DefaultTopology(cfg.Exchange, time.Duration(cfg.DelayTTLMillis)*time.Millisecond)

	switch cfg.Driver {
	case "amqp":
		broker, err := amqp.NewBroker(cfg.URL, topology, cfg.Prefetch, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to broker: %s", redact.Error(err))
		}
		logger.Info("connected to AMQP broker", "exchange", topology.Exchange)
		return broker, nil
	case "memory":
		logger.Warn("using in-memory broker, queued tasks are lost on restart")
		return queue.NewMemoryBroker(topology, memoryBrokerCapacity, logger), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}

// newNarrator returns the Gemini narrator when an API key is configured and
// the template narrator otherwise.
func newNarrator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (diagnosis.Narrator, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Info("no LLM API key configured, using template reports")
		return diagnosis.TemplateNarrator{}, nil
	}
	narrator, err := gemini.NewNarrator(ctx, logger.With("component", "llm_narrator"), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM narrator: %w", err)
	}
	logger.Info("LLM narrator initialized", "model", cfg.ModelName)
	return narrator, nil
}

// start launches the consumers and the scheduler.
func (app *application) start() error {
	if err := app.pool.Start(); err != nil {
		return fmt.Errorf("failed to start consumers: %w", err)
	}
	app.scheduler.Start()
	return nil
}

// cleanup stops background work and releases the broker and database.
func (app *application) cleanup() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.pool != nil {
		app.pool.Stop()
	}
	if app.broker != nil {
		if err := app.broker.Close(); err != nil {
			app.logger.Error("error closing broker", "error", redact.Error(err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
