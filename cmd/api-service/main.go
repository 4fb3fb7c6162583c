package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/gallery-pipeline/internal/api/handler"
	"github.com/cuongbtq/gallery-pipeline/internal/api/router"
	"github.com/cuongbtq/gallery-pipeline/internal/api/storage"
	"github.com/cuongbtq/gallery-pipeline/internal/artifact"
	"github.com/cuongbtq/gallery-pipeline/internal/config"
	"github.com/cuongbtq/gallery-pipeline/internal/downscale"
	"github.com/cuongbtq/gallery-pipeline/internal/gallery"
	"github.com/cuongbtq/gallery-pipeline/internal/imagegen"
	"github.com/cuongbtq/gallery-pipeline/internal/metrics"
	"github.com/cuongbtq/gallery-pipeline/internal/notify"
	"github.com/cuongbtq/gallery-pipeline/internal/pipeline"
	"github.com/cuongbtq/gallery-pipeline/internal/records"
	"github.com/cuongbtq/gallery-pipeline/internal/scheduler"
	"github.com/cuongbtq/gallery-pipeline/internal/source"
	"github.com/cuongbtq/gallery-pipeline/shared/logger"
	"github.com/cuongbtq/gallery-pipeline/shared/postgresql"
	"github.com/cuongbtq/gallery-pipeline/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// recordBackend is what both record drivers provide
type recordBackend interface {
	pipeline.RecordRepository
	handler.RecordStore
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	var observer *metrics.Observer
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		observer, err = metrics.New(cfg.Metrics.Namespace, reg)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	// Initialize PostgreSQL client
	var dbClient *postgresql.Client
	if cfg.Database.Enabled {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()
		appLogger.Info("Database connection established")
	}

	// Initialize RabbitMQ client
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")
	}

	recordRepo, err := initRecords(ctx, cfg, dbClient, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize record backend: %w", err)
	}

	store, err := artifact.New(ctx, cfg.Storage.Driver, artifact.Options{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
		PublicURL:       cfg.Storage.PublicURL,
		UseSSL:          cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	if observer != nil {
		store = artifact.NewObservedStore(store, observer)
	}

	generator, err := imagegen.New(ctx, imagegen.Config{
		APIKey:              cfg.Gemini.APIKey,
		Model:               cfg.Gemini.Model,
		ResponseModalities:  cfg.Gemini.ResponseModalities,
		InstructionTemplate: cfg.Gemini.InstructionTemplate,
		RelaxSafety:         cfg.Gemini.RelaxSafety,
		MaxRetries:          cfg.Gemini.MaxRetries,
		InitialBackoff:      cfg.Gemini.InitialBackoff,
		MaxBackoff:          cfg.Gemini.MaxBackoff,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize image generator: %w", err)
	}

	galleryBuilder, err := gallery.NewBuilder()
	if err != nil {
		return fmt.Errorf("failed to initialize gallery renderer: %w", err)
	}

	deps := pipeline.Dependencies{
		Logger:    appLogger.Logger,
		Records:   recordRepo,
		Generator: generator,
		Fetcher:   source.NewFetcher(source.Config{Timeout: cfg.Source.Timeout, MaxBytes: cfg.Source.MaxBytes}, nil),
		Store:     store,
		Resizer: downscale.New(downscale.Config{
			Width:   cfg.Downscale.Width,
			Height:  cfg.Downscale.Height,
			Quality: cfg.Downscale.Quality,
		}),
		Gallery: galleryBuilder,
	}
	if observer != nil {
		deps.Observer = observer
	}
	if rabbitClient != nil {
		deps.Notifier = notify.NewQueueNotifier(rabbitClient, appLogger.Logger)
	}

	var runStorage *storage.Storage
	if dbClient != nil {
		runStorage = storage.NewStorage(dbClient)
		if cfg.Database.AutoCreate {
			if err := runStorage.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		deps.Recorder = runStorage
	}

	p, err := pipeline.New(pipeline.Config{
		DefaultPrompt:     cfg.Pipeline.DefaultPrompt,
		UseDefaultPrompt:  cfg.Pipeline.DefaultPromptEnabled(),
		VariationCount:    cfg.Pipeline.VariationCount,
		EligibilityWindow: cfg.Pipeline.EligibilityWindow,
		ClaimRecords:      cfg.Pipeline.ClaimRecords,
		PromptSeparator:   cfg.Pipeline.PromptSeparator,
	}, deps)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Schedule: cfg.Scheduler.Schedule,
		Timeout:  cfg.Scheduler.Timeout,
	}, p, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	// Initialize router
	handlerDeps := &handler.Dependencies{
		Logger:   appLogger.Logger,
		Pipeline: p,
		Records:  recordRepo,
	}
	if runStorage != nil {
		handlerDeps.Runs = runStorage
	}
	routerOpts := router.Options{
		ServiceName:    cfg.App.Name,
		MetricsHandler: metricsHandler,
		HealthChecks:   map[string]router.HealthCheck{},
	}
	if dbClient != nil {
		routerOpts.HealthChecks["database"] = dbClient.HealthCheck
	}
	if rabbitClient != nil {
		routerOpts.HealthChecks["rabbitmq"] = func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	if observer != nil {
		routerOpts.Observer = observer
	}
	r := initRouter(cfg.App.Environment, handlerDeps, routerOpts)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sched.Start(ctx)

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Bool("scheduler_enabled", sched.Enabled()),
	)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.String("error", err.Error()))
		sched.Stop(cfg.Server.ShutdownTimeout)
		return err
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	sched.Stop(cfg.Server.ShutdownTimeout)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.String("error", err.Error()),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   timeFormat,
	})
}

// initRecords selects the record backend
func initRecords(ctx context.Context, cfg *config.Config, dbClient *postgresql.Client, logger *slog.Logger) (recordBackend, error) {
	switch cfg.Records.Driver {
	case config.RecordsDriverPostgres:
		repo := records.NewPostgresRepository(dbClient, cfg.Records.ClaimTTL, logger)
		if cfg.Database.AutoCreate {
			if err := repo.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return repo, nil
	default:
		return records.NewAirtableRepository(records.AirtableConfig{
			BaseURL:           cfg.Airtable.BaseURL,
			APIKey:            cfg.Airtable.APIKey,
			BaseID:            cfg.Airtable.BaseID,
			Table:             cfg.Airtable.Table,
			RequestsPerSecond: cfg.Airtable.RequestsPerSecond,
			Timeout:           cfg.Airtable.Timeout,
			ClaimTTL:          cfg.Records.ClaimTTL,
			Fields:            cfg.Airtable.Fields,
		}, nil, logger)
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies, opts router.Options) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, opts)
}
