package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
)

type FeedbackUseCase struct {
	store ports.FeedbackStore
	now   func() time.Time
}

func NewFeedbackUseCase(store ports.FeedbackStore) *FeedbackUseCase {
	return &FeedbackUseCase{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (uc *FeedbackUseCase) Submit(ctx context.Context, fb domain.Feedback) (*domain.Feedback, error) {
	fb.RequestID = strings.TrimSpace(fb.RequestID)
	if fb.RequestID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit feedback", fmt.Errorf("request_id is required"))
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit feedback", fmt.Errorf("rating must be 1-5, got %d", fb.Rating))
	}
	fb.ID = uuid.NewString()
	fb.CreatedAt = uc.now()
	if err := uc.store.SaveFeedback(ctx, &fb); err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}
	return &fb, nil
}

// VerticalCatalog exposes the configured verticals.
type VerticalCatalog struct {
	verticals []domain.VerticalInfo
}

func NewVerticalCatalog(table *domain.RoutingTable) *VerticalCatalog {
	out := make([]domain.VerticalInfo, 0, len(table.Verticals))
	for _, v := range table.Verticals {
		out = append(out, domain.VerticalInfo{
			Name:        v.Name,
			Description: v.Description,
			Collection:  v.Collection,
			BaseWeight:  v.BaseWeight,
			Facets:      append([]string(nil), v.Facets...),
		})
	}
	return &VerticalCatalog{verticals: out}
}

func (c *VerticalCatalog) Verticals() []domain.VerticalInfo {
	return append([]domain.VerticalInfo(nil), c.verticals...)
}
