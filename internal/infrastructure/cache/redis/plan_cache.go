// Package redis caches execution plans in front of the durable plan store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/rueidis"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
)

const keyPrefix = "policy:plan:"

func NewClient(addr string) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{addr},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	return client, nil
}

// PlanCache implements ports.PlanStore as a read-through, write-through
// cache. Redis failures are logged and never fail the call; the wrapped
// store stays authoritative.
type PlanCache struct {
	client rueidis.Client
	next   ports.PlanStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewPlanCache(client rueidis.Client, next ports.PlanStore, ttl time.Duration, logger *slog.Logger) *PlanCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanCache{client: client, next: next, ttl: ttl, logger: logger}
}

func (c *PlanCache) SavePlan(ctx context.Context, plan *domain.ExecutionPlan) error {
	if err := c.next.SavePlan(ctx, plan); err != nil {
		return err
	}
	c.put(ctx, plan)
	return nil
}

func (c *PlanCache) GetPlan(ctx context.Context, planID string) (*domain.ExecutionPlan, bool, error) {
	if plan, ok := c.get(ctx, planID); ok {
		return plan, true, nil
	}
	plan, found, err := c.next.GetPlan(ctx, planID)
	if err != nil || !found {
		return plan, found, err
	}
	c.put(ctx, plan)
	return plan, true, nil
}

func (c *PlanCache) get(ctx context.Context, planID string) (*domain.ExecutionPlan, bool) {
	cmd := c.client.B().Get().Key(keyPrefix + planID).Build()
	data, err := c.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if !rueidis.IsRedisNil(err) {
			c.logger.Warn("plan_cache_get_failed", "plan_id", planID, "error", err)
		}
		return nil, false
	}
	var plan domain.ExecutionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		c.logger.Warn("plan_cache_decode_failed", "plan_id", planID, "error", err)
		return nil, false
	}
	return &plan, true
}

func (c *PlanCache) put(ctx context.Context, plan *domain.ExecutionPlan) {
	data, err := json.Marshal(plan)
	if err != nil {
		c.logger.Warn("plan_cache_encode_failed", "plan_id", plan.ID, "error", err)
		return
	}
	cmd := c.client.B().Set().Key(keyPrefix + plan.ID).Value(string(data)).Ex(c.ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		c.logger.Warn("plan_cache_set_failed", "plan_id", plan.ID, "error", err)
	}
}
