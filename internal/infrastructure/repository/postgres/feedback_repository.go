package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

type FeedbackRepository struct {
	db *sql.DB
}

func NewFeedbackRepository(db *sql.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

func (r *FeedbackRepository) SaveFeedback(ctx context.Context, fb *domain.Feedback) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO answer_feedback (id, request_id, rating, comments, created_at)
VALUES ($1,$2,$3,$4,$5)
`, fb.ID, fb.RequestID, fb.Rating, fb.Comments, fb.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}
