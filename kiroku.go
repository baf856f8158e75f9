// Package kiroku is the public API for embedding the Kiroku decision server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := kiroku.New(
//	    kiroku.WithVersion(version),
//	    kiroku.WithLogger(logger),
//	    kiroku.WithEventHook(myHook{}),
//	    kiroku.WithEmbeddedWorker(),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kiroku (root) imports
// internal/*, but internal/* never imports kiroku (root). Public types
// (Decision, PlanStep) are standalone structs with no internal imports;
// conversion helpers live here because this is the only file that sees
// both sides of the boundary.
package kiroku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/kirokuhq/kiroku/api"
	"github.com/kirokuhq/kiroku/internal/config"
	"github.com/kirokuhq/kiroku/internal/jobs"
	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/notify"
	"github.com/kirokuhq/kiroku/internal/pipeline"
	"github.com/kirokuhq/kiroku/internal/ratelimit"
	"github.com/kirokuhq/kiroku/internal/reasoner"
	"github.com/kirokuhq/kiroku/internal/search"
	"github.com/kirokuhq/kiroku/internal/server"
	"github.com/kirokuhq/kiroku/internal/service/decisions"
	"github.com/kirokuhq/kiroku/internal/service/embedding"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/telemetry"
	"github.com/kirokuhq/kiroku/migrations"
)

// App is the Kiroku server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	broker       *notify.Broker // nil when no notify connection
	worker       *jobs.Worker   // nil unless WithEmbeddedWorker
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Kiroku server. It connects to the database, runs
// migrations, and wires all subsystems, returning a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kiroku starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	db.RegisterPoolMetrics()

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Reasoner: external override takes priority over the HTTP client.
	var llm reasoner.Client
	if o.reasoner != nil {
		llm = &reasonerAdapter{r: o.reasoner}
	} else {
		llm = reasoner.NewHTTPClient(cfg.ReasonerBaseURL, cfg.ReasonerAPIKey, cfg.ReasonerModel)
	}

	decisionSvc := decisions.New(db, llm, logger)

	// SSE broker and event hooks need the direct notify connection.
	var broker *notify.Broker
	if db.HasNotifyConn() {
		broker = notify.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}
	if len(o.eventHooks) > 0 {
		if broker == nil {
			logger.Warn("event hooks registered but no notify connection; hooks will never fire")
		} else {
			hooks := o.eventHooks
			broker.AddListener(func(decisionID uuid.UUID) {
				go fireHooks(db, hooks, logger, decisionID)
			})
		}
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Embedded pipeline worker.
	var worker *jobs.Worker
	if o.embeddedWorker {
		var embedder embedding.Provider
		if o.embeddingProvider != nil {
			embedder = &embedderAdapter{p: o.embeddingProvider}
		} else {
			embedder, err = embedding.NewFromConfig(cfg, logger)
			if err != nil {
				db.Close(context.Background())
				_ = otelShutdown(context.Background())
				return nil, fmt.Errorf("embedding: %w", err)
			}
		}
		engine := search.NewEngine(db, embedder, logger)
		pipe := pipeline.New(db, engine, embedder, llm, logger)
		worker = jobs.NewWorker(db, logger, cfg.WorkerPollInterval)
		worker.Register(model.JobDraftAndSearch, pipe.DraftAndSearch)
		worker.Register(model.JobExtractAndEmbed, pipe.ExtractAndEmbed)
		logger.Info("embedded worker: enabled", "poll_interval", cfg.WorkerPollInterval)
	}

	var extraRoutes []func(chi.Router)
	for _, fn := range o.routeRegistrars {
		extraRoutes = append(extraRoutes, fn)
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.Config{
		DB:          db,
		DecisionSvc: decisionSvc,
		Broker:      broker,
		Logger:      logger,
		Port:        cfg.Port,
		ReadTimeout: cfg.ReadTimeout,
		Version:     version,
		Limiter:     limiter,
		OpenAPISpec: api.OpenAPISpec,
		ExtraRoutes: extraRoutes,
		Middlewares: middlewares,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		broker:       broker,
		worker:       worker,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the background goroutines and the HTTP server, then blocks
// until ctx is cancelled or a fatal server error occurs. On return,
// Shutdown is called automatically and callers should not call it
// separately.
func (a *App) Run(ctx context.Context) error {
	if a.broker != nil {
		go a.broker.Start(ctx)
	}
	if a.worker != nil {
		a.worker.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests and
// drain in-flight ones, then let the embedded worker finish its current
// job and sweep the queue. It then closes the database pool and OTEL
// provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kiroku shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.worker != nil {
		drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
		a.worker.Drain(drainCtx)
		drainCancel()
	}

	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("kiroku stopped")
	return nil
}

// fireHooks loads the updated decision and delivers it to every hook.
func fireHooks(db *storage.DB, hooks []EventHook, logger *slog.Logger, decisionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := db.GetDecision(ctx, decisionID)
	if err != nil {
		// Deleted between notify and load; nothing to deliver.
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		logger.Warn("event hook: load decision failed", "decision_id", decisionID, "error", err)
		return
	}
	pub := toPublicDecision(d)
	for _, h := range hooks {
		if err := h.OnDecisionUpdated(ctx, pub); err != nil {
			logger.Warn("event hook OnDecisionUpdated failed", "decision_id", decisionID, "error", err)
		}
	}
}

// toPublicDecision converts the internal model to the public view.
func toPublicDecision(d model.Decision) Decision {
	plan := make([]PlanStep, len(d.Plan))
	for i, s := range d.Plan {
		plan[i] = PlanStep{
			StepID: s.StepID,
			Desc:   s.Desc,
			Status: string(s.Status),
			Note:   s.Note,
		}
	}
	out := Decision{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		Status:         Status(d.Status),
		RawInput:       d.RawInput,
		What:           strDeref(d.What),
		Context:        strDeref(d.Context),
		ExpectedOutput: strDeref(d.ExpectedOutput),
		Rationale:      strDeref(d.Rationale),
		Insight:        strDeref(d.Insight),
		Plan:           plan,
		Reflection:     strDeref(d.Reflection),
		SuccessDriver:  strDeref(d.SuccessDriver),
		FailureReason:  strDeref(d.FailureReason),
		CreatedAt:      d.CreatedAt,
		CompletedAt:    d.CompletedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.Outcome != nil {
		out.Outcome = Outcome(*d.Outcome)
	}
	return out
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// embedderAdapter bridges the public EmbeddingProvider to the internal
// pgvector-based interface.
type embedderAdapter struct {
	p EmbeddingProvider
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vals, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vals), nil
}

func (a *embedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	raw, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	vecs := make([]pgvector.Vector, len(raw))
	for i, vals := range raw {
		vecs[i] = pgvector.NewVector(vals)
	}
	return vecs, nil
}

func (a *embedderAdapter) Dimensions() int {
	return a.p.Dimensions()
}

// reasonerAdapter bridges the public Reasoner to the internal client
// interface.
type reasonerAdapter struct {
	r Reasoner
}

func (a *reasonerAdapter) Complete(ctx context.Context, system, user string) (string, error) {
	return a.r.Complete(ctx, system, user)
}

func (a *reasonerAdapter) CompleteMessages(ctx context.Context, messages []reasoner.Message, jsonMode bool) (string, error) {
	pub := make([]Message, len(messages))
	for i, m := range messages {
		pub[i] = Message{Role: m.Role, Content: m.Content}
	}
	return a.r.CompleteMessages(ctx, pub, jsonMode)
}
