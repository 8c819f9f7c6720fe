package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/infrastructure/resilience"
)

const (
	queueGroup        = "plan-audit"
	eventPlanRecorded = "plan.recorded"
	eventVersion      = 1
)

// planEvent is the wire envelope on the plan audit subject.
type planEvent struct {
	Event   string                `json:"event"`
	Version int                   `json:"version"`
	SentAt  time.Time             `json:"sent_at"`
	Plan    *domain.ExecutionPlan `json:"plan"`
}

// Queue implements ports.PlanEventQueue.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("policy-router"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishPlanRecorded(ctx context.Context, plan *domain.ExecutionPlan) error {
	data, err := encodePlanEvent(plan, time.Now().UTC())
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resilience.WrapTemporary("nats publish", err, classifyNATSError)
	}
	return nil
}

// SubscribePlanRecorded blocks until ctx ends, then drains the subscription.
// Handler errors are logged; plans are at-least-once and SavePlan is
// idempotent.
func (q *Queue) SubscribePlanRecorded(ctx context.Context, handler func(context.Context, *domain.ExecutionPlan) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, queueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		plan, err := decodePlanEvent(msg.Data)
		if err != nil {
			q.logger.Error("plan_event_decode_failed", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, plan); err != nil {
			q.logger.Error("plan_event_handler_failed", "plan_id", plan.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodePlanEvent(plan *domain.ExecutionPlan, sentAt time.Time) ([]byte, error) {
	if plan == nil || plan.ID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode plan event", fmt.Errorf("plan without id"))
	}
	data, err := json.Marshal(planEvent{Event: eventPlanRecorded, Version: eventVersion, SentAt: sentAt, Plan: plan})
	if err != nil {
		return nil, fmt.Errorf("marshal plan event: %w", err)
	}
	return data, nil
}

func decodePlanEvent(data []byte) (*domain.ExecutionPlan, error) {
	var ev planEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal plan event: %w", err)
	}
	if ev.Event != eventPlanRecorded {
		return nil, fmt.Errorf("unexpected event %q", ev.Event)
	}
	if ev.Version != eventVersion {
		return nil, fmt.Errorf("unsupported plan event version %d", ev.Version)
	}
	if ev.Plan == nil || ev.Plan.ID == "" {
		return nil, fmt.Errorf("plan event without plan id")
	}
	return ev.Plan, nil
}
