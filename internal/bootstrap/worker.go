package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/policy-router/internal/config"
	"github.com/kirillkom/policy-router/internal/core/usecase"
	"github.com/kirillkom/policy-router/internal/infrastructure/queue/nats"
	"github.com/kirillkom/policy-router/internal/infrastructure/resilience"
	"github.com/kirillkom/policy-router/internal/observability/metrics"
)

// Worker consumes plan audit events and persists them.
type Worker struct {
	Config  config.Config
	Logger  *slog.Logger
	Queue   *nats.Queue
	Audit   *usecase.PlanAuditUseCase
	Metrics *metrics.WorkerMetrics

	closeFns []func()
}

func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Worker, error) {
	w := &Worker{Config: cfg, Logger: logger, Metrics: metrics.NewWorkerMetrics("policy-worker")}
	ok := false
	defer func() {
		if !ok {
			w.Close()
		}
	}()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	w.closeFns = append(w.closeFns, func() { _ = db.Close() })

	// Writes go through the cache so API reads of fresh plans hit redis.
	store, closeCache := newPlanStore(cfg, db, logger)
	w.closeFns = append(w.closeFns, closeCache)

	executor := resilience.NewExecutor(resilienceConfig(cfg), resilience.WithLogger(logger))
	queue, err := nats.New(cfg.NATSURL, cfg.NATSPlanSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init plan queue: %w", err)
	}
	w.closeFns = append(w.closeFns, queue.Close)
	w.Queue = queue
	w.Audit = usecase.NewPlanAuditUseCase(store)

	ok = true
	return w, nil
}

func (w *Worker) Close() {
	for i := len(w.closeFns) - 1; i >= 0; i-- {
		w.closeFns[i]()
	}
	w.closeFns = nil
}
