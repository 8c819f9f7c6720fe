package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

type scriptedAnswerer struct {
	calls atomic.Int32
}

func (a *scriptedAnswerer) Answer(_ context.Context, req domain.PolicyRequest) (*domain.PolicyResponse, error) {
	a.calls.Add(1)
	if req.Query == "broken" {
		return nil, domain.NewStageError(domain.StagePlan, domain.ReasonPlanningFailed, errors.New("no vertical"))
	}
	return &domain.PolicyResponse{Query: req.Query, Retrieval: map[string]domain.VerticalStatus{"gos": {Status: domain.RetrievalOK}}}, nil
}

func TestEvaluationRunnerKeepsOrderAndPerCaseErrors(t *testing.T) {
	answerer := &scriptedAnswerer{}
	runner := NewEvaluationRunner(answerer, 2, nil)
	cases := []domain.EvalCase{
		{Row: 2, Query: "GO 45 transfers", ExpectedVerticals: []string{"gos"}},
		{Row: 3, Query: "broken"},
		{Row: 4, Query: "pension scheme eligibility", ExpectedVerticals: []string{"schemes"}},
	}

	results, err := runner.Run(context.Background(), cases)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 3 || answerer.calls.Load() != 3 {
		t.Fatalf("expected 3 results, got %d (calls=%d)", len(results), answerer.calls.Load())
	}
	for i, res := range results {
		if res.Case.Row != cases[i].Row {
			t.Fatalf("result %d out of order: row %d", i, res.Case.Row)
		}
	}
	if !errors.Is(results[1].Err, domain.ErrPlanning) {
		t.Fatalf("expected planning error kept for row 3, got %v", results[1].Err)
	}
	if !results[0].RoutingHit([]string{"gos"}) || results[2].RoutingHit([]string{"gos"}) {
		t.Fatalf("unexpected routing hit evaluation")
	}
}

func TestEvaluationRunnerStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEvaluationRunner(&scriptedAnswerer{}, 1, nil).Run(ctx, []domain.EvalCase{{Query: "x"}}); err == nil {
		t.Fatalf("expected context error")
	}
}
