package ports

import (
	"context"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

// EvidenceRetriever searches one vertical's collection.
type EvidenceRetriever interface {
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.EvidenceItem, error)
}

// Reranker re-scores evidence against the query. Implementations return
// domain.ErrRerankUnavailable when the model cannot be reached.
type Reranker interface {
	Rank(ctx context.Context, query string, items []domain.EvidenceItem, topK int) ([]domain.EvidenceItem, error)
}

// TextGenerator produces free text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error)
}

// Embedder builds vectors for query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// PlanStore persists execution plans for audit. Get reports unknown ids
// through found=false rather than an error.
type PlanStore interface {
	SavePlan(ctx context.Context, plan *domain.ExecutionPlan) error
	GetPlan(ctx context.Context, planID string) (*domain.ExecutionPlan, bool, error)
}

// PlanRecorder accepts plans on the request path and persists them out of band.
type PlanRecorder interface {
	RecordPlan(ctx context.Context, plan *domain.ExecutionPlan) error
}

// PlanEventQueue carries plan audit events between the API and the worker.
type PlanEventQueue interface {
	PublishPlanRecorded(ctx context.Context, plan *domain.ExecutionPlan) error
	SubscribePlanRecorded(ctx context.Context, handler func(context.Context, *domain.ExecutionPlan) error) error
}

type FeedbackStore interface {
	SaveFeedback(ctx context.Context, fb *domain.Feedback) error
}

// PipelineObserver receives pipeline measurements. All methods must be safe
// for concurrent use.
type PipelineObserver interface {
	ObserveStage(stage domain.Stage, d float64)
	ObserveRetrieval(vertical string, status domain.RetrievalStatus, seconds float64, items int)
	ObserveRerankFallback()
	ObserveOutcome(outcome string, confidence float64, citations int)
}
