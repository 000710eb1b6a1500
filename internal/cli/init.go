// Package cli provides common CLI initialization utilities shared by
// cmd/octopus and cmd/octopus-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"octopus/internal/amqp"
	"octopus/internal/app"
	"octopus/internal/cache"
	"octopus/internal/config"
	applog "octopus/internal/log"
	"octopus/internal/metrics"
	ports "octopus/internal/sheets"
	gsheet "octopus/internal/sheets/google"
	mem "octopus/internal/sheets/memory"
	"octopus/internal/storage"
)

// SetupLogger builds the process logger from the configured level and
// format and installs it as the slog default.
func SetupLogger(cfg *config.Config) *applog.Logger {
	level, err := applog.ParseLevel(cfg.LogLevel)
	logger := applog.New(applog.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: applog.ComponentApp,
		Output:    os.Stderr,
	})
	if err != nil {
		logger.Warn("Falling back to info level", applog.FieldError, err)
	}
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// InitSnapshotStore opens the snapshot database with a read-through cache.
// Returns the store or exits the process on failure.
func InitSnapshotStore(ctx context.Context, logger *applog.Logger, cfg *config.Config) (*storage.SnapshotStore, *cache.Manager) {
	manager := cache.NewManager(cfg.SnapshotCacheTTL)
	manager.SetLogger(logger.WithComponent(applog.ComponentCache))
	snapshots := cache.NewLRUCache[string, storage.Record](cfg.SnapshotCacheSize, cfg.SnapshotCacheTTL)
	manager.Register(snapshots)
	manager.Start(ctx)

	store, err := storage.NewSnapshotStore(cfg.SnapshotDBPath,
		storage.WithCache(snapshots),
		storage.WithLogger(logger.WithComponent(applog.ComponentStorage)),
	)
	if err != nil {
		manager.Stop()
		logger.Error("Failed to initialize snapshot store", applog.FieldError, err, "path", cfg.SnapshotDBPath)
		os.Exit(1)
	}
	return store, manager
}

// InitSummaryWriter returns the Google Sheets exporter when a spreadsheet is
// configured and an in-memory one otherwise. Exits the process when the
// Sheets client cannot be created.
func InitSummaryWriter(ctx context.Context, logger *applog.Logger, cfg *config.Config) ports.SummaryWriter {
	if !cfg.SheetsEnabled() {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, using memory export")
		return mem.New()
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger.WithComponent(applog.ComponentSheets))
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client
}

// InitAMQP connects to the broker, or returns nil when AMQP is disabled.
// Exits the process when the broker is configured but unreachable.
func InitAMQP(logger *applog.Logger, cfg *config.Config) *amqp.Client {
	if !cfg.AMQPEnabled() {
		logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.WithComponent(applog.ComponentAMQP))
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	return client
}

// NewApp wires the application facade. events may be nil.
func NewApp(logger *applog.Logger, cfg *config.Config, m *metrics.Metrics, store *storage.SnapshotStore, events *amqp.Client, summaries ports.SummaryWriter) *app.App {
	opts := app.Options{
		BudgetBaseURL: cfg.BudgetBaseURL,
		HealthBaseURL: cfg.HealthBaseURL,
		HTTPTimeout:   cfg.HTTPTimeout,
		Logger:        logger,
		Metrics:       m,
		Snapshots:     store,
		Summaries:     summaries,
	}
	if events != nil {
		opts.Events = events
	}
	a, err := app.New(opts)
	if err != nil {
		logger.Error("Failed to initialize application", applog.FieldError, err)
		os.Exit(1)
	}
	return a
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String(), applog.FieldOperation, applog.OpShutdown)
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup ran.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
