package usecase

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
)

// EvaluationRunner answers a batch of cases with bounded parallelism.
// Per-case failures are kept in the result rather than aborting the batch.
type EvaluationRunner struct {
	answerer    ports.PolicyAnswerer
	parallelism int
	logger      *slog.Logger
}

func NewEvaluationRunner(answerer ports.PolicyAnswerer, parallelism int, logger *slog.Logger) *EvaluationRunner {
	if parallelism <= 0 {
		parallelism = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluationRunner{answerer: answerer, parallelism: parallelism, logger: logger}
}

// Run returns results in case order. It fails only when ctx ends.
func (r *EvaluationRunner) Run(ctx context.Context, cases []domain.EvalCase) ([]domain.EvalResult, error) {
	results := make([]domain.EvalResult, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for i, c := range cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			resp, err := r.answerer.Answer(gctx, domain.PolicyRequest{
				Query:        c.Query,
				Jurisdiction: c.Jurisdiction,
				MaxVerticals: c.MaxVerticals,
			})
			results[i] = domain.EvalResult{Case: c, Response: resp, Err: err}
			if err != nil {
				r.logger.Warn("eval_case_failed", "row", c.Row, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
