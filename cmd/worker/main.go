package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/policy-router/internal/bootstrap"
	"github.com/kirillkom/policy-router/internal/config"
	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/observability/logging"
)

const service = "policy-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker, err := bootstrap.NewWorker(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           worker.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSPlanSubject)
	err = worker.Queue.SubscribePlanRecorded(ctx, func(handlerCtx context.Context, plan *domain.ExecutionPlan) error {
		saveCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		worker.Metrics.StartEvent()
		started := time.Now()
		err := worker.Audit.HandlePlanRecorded(saveCtx, plan)
		worker.Metrics.FinishEvent(service, time.Since(started), err)
		if err == nil && !plan.CreatedAt.IsZero() {
			worker.Metrics.ObserveAuditLag(service, time.Since(plan.CreatedAt))
		}
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
