package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

// PlanRepository implements ports.PlanStore. The full plan is kept as JSONB;
// the scalar columns exist for ad-hoc audit queries.
type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// SavePlan is idempotent: redelivered audit events keep the first write.
func (r *PlanRepository) SavePlan(ctx context.Context, plan *domain.ExecutionPlan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	selectedJSON, err := json.Marshal(nonNil(plan.Selected))
	if err != nil {
		return fmt.Errorf("marshal selected: %w", err)
	}
	forcedJSON, err := json.Marshal(nonNil(plan.ForcedAdditions))
	if err != nil {
		return fmt.Errorf("marshal forced additions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO execution_plans (id, query, query_type, selected, forced, plan, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING
`,
		plan.ID, plan.Query, string(plan.Features.QueryType), selectedJSON, forcedJSON, planJSON, plan.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (r *PlanRepository) GetPlan(ctx context.Context, planID string) (*domain.ExecutionPlan, bool, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT plan FROM execution_plans WHERE id = $1`, planID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select plan: %w", err)
	}

	var plan domain.ExecutionPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, false, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &plan, true, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
