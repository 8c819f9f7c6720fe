package ports

import (
	"context"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

// PolicyAnswerer is the inbound contract for answering a policy question.
type PolicyAnswerer interface {
	Answer(ctx context.Context, req domain.PolicyRequest) (*domain.PolicyResponse, error)
}

// PlanReader is the inbound read model for audited plans.
type PlanReader interface {
	GetPlan(ctx context.Context, planID string) (*domain.ExecutionPlan, bool, error)
}

// VerticalCatalog lists the configured verticals.
type VerticalCatalog interface {
	Verticals() []domain.VerticalInfo
}

// FeedbackService records caller ratings of answers.
type FeedbackService interface {
	Submit(ctx context.Context, fb domain.Feedback) (*domain.Feedback, error)
}
