// Command kiroku-worker runs the pipeline worker: it drains the durable
// job queue, executing the draft and extract stages for decisions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirokuhq/kiroku/internal/config"
	"github.com/kirokuhq/kiroku/internal/jobs"
	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/pipeline"
	"github.com/kirokuhq/kiroku/internal/reasoner"
	"github.com/kirokuhq/kiroku/internal/search"
	"github.com/kirokuhq/kiroku/internal/service/embedding"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/telemetry"
	"github.com/kirokuhq/kiroku/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KIROKU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kiroku-worker starting", "version", version, "poll_interval", cfg.WorkerPollInterval)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName+"-worker", version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// The worker only publishes notifications, so no notify DSN is needed.
	db, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	db.RegisterPoolMetrics()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	embedder, err := embedding.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	llm := reasoner.NewHTTPClient(cfg.ReasonerBaseURL, cfg.ReasonerAPIKey, cfg.ReasonerModel)
	engine := search.NewEngine(db, embedder, logger)
	pipe := pipeline.New(db, engine, embedder, llm, logger)

	worker := jobs.NewWorker(db, logger, cfg.WorkerPollInterval)
	worker.Register(model.JobDraftAndSearch, pipe.DraftAndSearch)
	worker.Register(model.JobExtractAndEmbed, pipe.ExtractAndEmbed)
	worker.Start(ctx)

	<-ctx.Done()

	slog.Info("kiroku-worker shutting down")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	worker.Drain(drainCtx)

	slog.Info("kiroku-worker stopped")
	return nil
}
