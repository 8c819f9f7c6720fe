package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/policy-router/internal/config"
	"github.com/kirillkom/policy-router/internal/core/analysis"
	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/fusion"
	"github.com/kirillkom/policy-router/internal/core/ports"
	"github.com/kirillkom/policy-router/internal/core/routing"
	"github.com/kirillkom/policy-router/internal/core/synthesis"
	"github.com/kirillkom/policy-router/internal/core/usecase"
	rediscache "github.com/kirillkom/policy-router/internal/infrastructure/cache/redis"
	"github.com/kirillkom/policy-router/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/policy-router/internal/infrastructure/llm/openai"
	"github.com/kirillkom/policy-router/internal/infrastructure/queue/nats"
	"github.com/kirillkom/policy-router/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/policy-router/internal/infrastructure/rerank/crossencoder"
	"github.com/kirillkom/policy-router/internal/infrastructure/resilience"
	"github.com/kirillkom/policy-router/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/policy-router/internal/observability/metrics"
)

const (
	auditModeNATS  = "nats"
	auditModeLocal = "local"
)

// App is the answer side: pipeline, plan reads, feedback and catalog.
type App struct {
	Config config.Config
	Logger *slog.Logger
	Table  *domain.RoutingTable

	Pipeline  *usecase.PolicyPipeline
	Plans     *usecase.PlanService
	Feedback  *usecase.FeedbackUseCase
	Verticals *usecase.VerticalCatalog

	HTTPMetrics     *metrics.HTTPServerMetrics
	PipelineMetrics *metrics.PipelineMetrics

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	table, err := config.LoadRoutingTable(cfg.RoutingTablePath)
	if err != nil {
		return nil, fmt.Errorf("load routing table: %w", err)
	}
	app.Table = table

	analyzer, err := analysis.NewAnalyzer(table)
	if err != nil {
		return nil, fmt.Errorf("init analyzer: %w", err)
	}
	scorer, err := routing.NewScorer(table)
	if err != nil {
		return nil, fmt.Errorf("init scorer: %w", err)
	}
	planner := routing.NewPlanner(table, analyzer, scorer)

	app.HTTPMetrics = metrics.NewHTTPServerMetrics("policy-api")
	app.PipelineMetrics = metrics.NewPipelineMetrics(app.HTTPMetrics.Registry(), "policy-api")

	resCfg := resilienceConfig(cfg)
	executor := resilience.NewExecutor(resCfg,
		resilience.WithLogger(logger),
		resilience.WithStateChange(app.PipelineMetrics.ObserveBreakerTransition),
	)

	embedder := ollama.NewEmbedder(ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:            cfg.RetrievalTimeout,
		ResilienceExecutor: executor,
	}))
	generator, err := newGenerator(cfg, executor)
	if err != nil {
		return nil, err
	}
	retriever := qdrant.NewRetriever(cfg.QdrantURL, embedder, qdrant.Options{
		Timeout:            cfg.RetrievalTimeout,
		DenseVector:        cfg.QdrantDenseVector,
		SparseVector:       cfg.QdrantSparseVector,
		ResilienceExecutor: executor,
	})
	reranker, err := newReranker(cfg, resCfg, logger, app.PipelineMetrics)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closeFns = append(app.closeFns, func() { _ = db.Close() })

	planStore, closeCache := newPlanStore(cfg, db, logger)
	app.closeFns = append(app.closeFns, closeCache)

	recorder, err := app.newPlanRecorder(cfg, planStore, executor)
	if err != nil {
		return nil, err
	}

	app.Pipeline = usecase.NewPolicyPipeline(usecase.PipelineDeps{
		Table:            table,
		Analyzer:         analyzer,
		Planner:          planner,
		Retriever:        retriever,
		Reranker:         reranker,
		Synthesizer:      synthesis.NewSynthesizer(generator, table),
		Recorder:         recorder,
		Observer:         app.PipelineMetrics,
		Logger:           logger,
		RetrievalTimeout: cfg.RetrievalTimeout,
	})
	app.Plans = usecase.NewPlanService(planStore)
	app.Feedback = usecase.NewFeedbackUseCase(postgres.NewFeedbackRepository(db))
	app.Verticals = usecase.NewVerticalCatalog(table)

	logger.Info("bootstrap_complete",
		"verticals", len(table.Verticals),
		"generation_provider", cfg.GenerationProvider,
		"rerank_enabled", cfg.RerankEnabled,
		"rerank_provider", cfg.RerankProvider,
		"plan_audit_mode", cfg.PlanAuditMode,
		"plan_cache_enabled", cfg.PlanCacheEnabled,
	)
	ok = true
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

// newPlanStore wraps postgres in the redis read-through cache when enabled.
// An unreachable redis disables the cache instead of failing startup.
func newPlanStore(cfg config.Config, db *sql.DB, logger *slog.Logger) (ports.PlanStore, func()) {
	store := postgres.NewPlanRepository(db)
	if !cfg.PlanCacheEnabled {
		return store, func() {}
	}
	client, err := rediscache.NewClient(cfg.RedisAddr)
	if err != nil {
		logger.Warn("plan_cache_disabled", "addr", cfg.RedisAddr, "error", err)
		return store, func() {}
	}
	return rediscache.NewPlanCache(client, store, cfg.PlanCacheTTL, logger), client.Close
}

func (a *App) newPlanRecorder(cfg config.Config, store ports.PlanStore, executor *resilience.Executor) (ports.PlanRecorder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.PlanAuditMode)) {
	case auditModeNATS:
		queue, err := nats.New(cfg.NATSURL, cfg.NATSPlanSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init plan queue: %w", err)
		}
		a.closeFns = append(a.closeFns, queue.Close)
		return usecase.NewQueuePlanRecorder(queue), nil
	case auditModeLocal:
		recorder := usecase.NewAsyncPlanRecorder(store, cfg.PlanAuditBuffer, a.Logger)
		a.closeFns = append(a.closeFns, recorder.Close)
		return recorder, nil
	default:
		return nil, fmt.Errorf("unknown PLAN_AUDIT_MODE %q (want %s or %s)", cfg.PlanAuditMode, auditModeNATS, auditModeLocal)
	}
}

func newGenerator(cfg config.Config, executor *resilience.Executor) (ports.TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.GenerationProvider)) {
	case "", "ollama":
		return ollama.NewGenerator(ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
			Timeout:            cfg.GenerationTimeout,
			ResilienceExecutor: executor,
		})), nil
	case "openai":
		return openai.NewGenerator(openai.Config{
			APIKey:             cfg.OpenAIAPIKey,
			BaseURL:            cfg.OpenAIBaseURL,
			Model:              cfg.OpenAIModel,
			ResilienceExecutor: executor,
		}), nil
	default:
		return nil, fmt.Errorf("unknown GENERATION_PROVIDER %q", cfg.GenerationProvider)
	}
}

// newReranker returns nil when reranking is disabled so fusion keeps
// retrieval-score order and reports the fallback. The cross-encoder gets its
// own single-attempt executor; a failed call already degrades to score order.
func newReranker(cfg config.Config, resCfg resilience.Config, logger *slog.Logger, pm *metrics.PipelineMetrics) (ports.Reranker, error) {
	if !cfg.RerankEnabled {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.RerankProvider)) {
	case "", "crossencoder":
		executor := resilience.NewExecutor(resCfg.SingleAttempt(),
			resilience.WithLogger(logger),
			resilience.WithStateChange(pm.ObserveBreakerTransition),
		)
		return crossencoder.New(cfg.RerankURL, crossencoder.Options{ResilienceExecutor: executor}), nil
	case "lexical":
		return fusion.LexicalReranker{}, nil
	default:
		return nil, fmt.Errorf("unknown RERANK_PROVIDER %q", cfg.RerankProvider)
	}
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.RetryMaxAttempts
	out.RetryInitialBackoff = cfg.RetryInitialBackoff
	out.RetryMaxBackoff = cfg.RetryMaxBackoff
	out.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.BreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.BreakerFailureRatio
	out.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	return out
}
