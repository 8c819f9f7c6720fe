package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

type storeFake struct {
	plans map[string]*domain.ExecutionPlan
	gets  int
	err   error
}

func (s *storeFake) SavePlan(_ context.Context, plan *domain.ExecutionPlan) error {
	if s.err != nil {
		return s.err
	}
	s.plans[plan.ID] = plan
	return nil
}

func (s *storeFake) GetPlan(_ context.Context, id string) (*domain.ExecutionPlan, bool, error) {
	s.gets++
	p, ok := s.plans[id]
	return p, ok, nil
}

func planJSON(t *testing.T, plan *domain.ExecutionPlan) string {
	t.Helper()
	data, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	return string(data)
}

func TestGetPlanHitSkipsStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)
	plan := &domain.ExecutionPlan{ID: "p1", Selected: []string{"gos"}}

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "policy:plan:p1")).
		Return(mock.Result(mock.RedisString(planJSON(t, plan))))

	store := &storeFake{plans: map[string]*domain.ExecutionPlan{}}
	got, found, err := NewPlanCache(c, store, time.Hour, nil).GetPlan(context.Background(), "p1")
	if err != nil || !found || got.Selected[0] != "gos" {
		t.Fatalf("unexpected result %+v found=%v err=%v", got, found, err)
	}
	if store.gets != 0 {
		t.Fatalf("store must not be read on a hit")
	}
}

func TestGetPlanMissReadsThroughAndFills(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)
	plan := &domain.ExecutionPlan{ID: "p2", Selected: []string{"legal"}}

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "policy:plan:p2")).
		Return(mock.Result(mock.RedisNil()))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "policy:plan:p2", planJSON(t, plan), "EX", "3600")).
		Return(mock.Result(mock.RedisString("OK")))

	store := &storeFake{plans: map[string]*domain.ExecutionPlan{"p2": plan}}
	got, found, err := NewPlanCache(c, store, time.Hour, nil).GetPlan(context.Background(), "p2")
	if err != nil || !found || got.ID != "p2" || store.gets != 1 {
		t.Fatalf("unexpected result %+v found=%v err=%v gets=%d", got, found, err, store.gets)
	}
}

func TestGetPlanRedisErrorFallsBackToStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "policy:plan:missing")).
		Return(mock.ErrorResult(errors.New("connection refused")))

	store := &storeFake{plans: map[string]*domain.ExecutionPlan{}}
	_, found, err := NewPlanCache(c, store, time.Hour, nil).GetPlan(context.Background(), "missing")
	if err != nil || found || store.gets != 1 {
		t.Fatalf("expected store miss without error, found=%v err=%v gets=%d", found, err, store.gets)
	}
}

func TestSavePlanDoesNotCacheWhenStoreFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	store := &storeFake{plans: map[string]*domain.ExecutionPlan{}, err: errors.New("db down")}
	if err := NewPlanCache(c, store, time.Hour, nil).SavePlan(context.Background(), &domain.ExecutionPlan{ID: "p3"}); err == nil {
		t.Fatalf("expected store error")
	}
}
