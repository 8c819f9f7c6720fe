package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
)

// PlanService is the read side of the plan audit store.
type PlanService struct {
	store ports.PlanStore
}

func NewPlanService(store ports.PlanStore) *PlanService {
	return &PlanService{store: store}
}

func (s *PlanService) GetPlan(ctx context.Context, planID string) (*domain.ExecutionPlan, bool, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "get plan", fmt.Errorf("plan id is required"))
	}
	plan, found, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, false, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return plan, found, nil
}

// PlanAuditUseCase persists plans delivered by the audit queue.
type PlanAuditUseCase struct {
	store ports.PlanStore
}

func NewPlanAuditUseCase(store ports.PlanStore) *PlanAuditUseCase {
	return &PlanAuditUseCase{store: store}
}

func (uc *PlanAuditUseCase) HandlePlanRecorded(ctx context.Context, plan *domain.ExecutionPlan) error {
	if plan == nil || plan.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "handle plan recorded", fmt.Errorf("plan without id"))
	}
	if err := uc.store.SavePlan(ctx, plan); err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	return nil
}

// QueuePlanRecorder hands plans to the audit queue.
type QueuePlanRecorder struct {
	queue ports.PlanEventQueue
}

func NewQueuePlanRecorder(queue ports.PlanEventQueue) *QueuePlanRecorder {
	return &QueuePlanRecorder{queue: queue}
}

func (r *QueuePlanRecorder) RecordPlan(ctx context.Context, plan *domain.ExecutionPlan) error {
	return r.queue.PublishPlanRecorded(ctx, plan)
}

var errRecorderClosed = errors.New("plan recorder closed")

// AsyncPlanRecorder writes plans to a store from a single background
// goroutine. RecordPlan never blocks; a full buffer drops the plan.
type AsyncPlanRecorder struct {
	store   ports.PlanStore
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan *domain.ExecutionPlan
	done   chan struct{}
}

func NewAsyncPlanRecorder(store ports.PlanStore, buffer int, logger *slog.Logger) *AsyncPlanRecorder {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &AsyncPlanRecorder{
		store:   store,
		logger:  logger,
		timeout: 5 * time.Second,
		queue:   make(chan *domain.ExecutionPlan, buffer),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *AsyncPlanRecorder) RecordPlan(_ context.Context, plan *domain.ExecutionPlan) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errRecorderClosed
	}
	select {
	case r.queue <- plan:
		return nil
	default:
		return domain.WrapError(domain.ErrTemporary, "record plan", fmt.Errorf("audit buffer full"))
	}
}

// Close stops accepting plans and waits for queued ones to be written.
func (r *AsyncPlanRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *AsyncPlanRecorder) loop() {
	defer close(r.done)
	for plan := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.SavePlan(ctx, plan); err != nil {
			r.logger.Warn("plan_audit_write_failed", "plan_id", plan.ID, "error", err)
		}
		cancel()
	}
}
