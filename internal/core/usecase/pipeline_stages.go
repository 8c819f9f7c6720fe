package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/fusion"
	"github.com/kirillkom/policy-router/internal/core/routing"
	"github.com/kirillkom/policy-router/internal/core/synthesis"
	"golang.org/x/sync/errgroup"
)

func (p *PolicyPipeline) analyze(_ context.Context, st PipelineState) PipelineState {
	if p.analyzer == nil {
		st.Err = domain.NewStageError(domain.StageAnalyze, domain.ReasonAnalysisFailed, fmt.Errorf("analyzer is not configured"))
		return st
	}
	features := p.analyzer.Analyze(st.Request.Query)
	st.Features = &features
	return st
}

func (p *PolicyPipeline) plan(ctx context.Context, st PipelineState) PipelineState {
	if p.planner == nil {
		st.Err = domain.NewStageError(domain.StagePlan, domain.ReasonPlanningFailed, fmt.Errorf("planner is not configured"))
		return st
	}
	plan, err := p.planner.PlanFromFeatures(*st.Features, routing.PlanOptions{
		MaxVerticals: st.Request.MaxVerticals,
		UserContext:  st.Request.UserContext,
		Jurisdiction: st.Request.Jurisdiction,
	})
	if err != nil {
		st.Err = domain.NewStageError(domain.StagePlan, domain.ReasonPlanningFailed, err)
		return st
	}
	st.Plan = plan
	p.logger.Info("plan_created",
		"request_id", st.Request.RequestID,
		"plan_id", plan.ID,
		"summary", routing.Summary(plan),
		"forced", plan.ForcedAdditions,
	)

	if p.recorder != nil {
		if err := p.recorder.RecordPlan(ctx, plan); err != nil {
			p.logger.Warn("plan_record_failed", "plan_id", plan.ID, "error", err)
		}
	}
	return st
}

type retrievalSlot struct {
	items  []domain.EvidenceItem
	status domain.VerticalStatus
}

// retrieve fans out one call per selected vertical. A failing vertical never
// cancels its siblings; results are composed in plan order.
func (p *PolicyPipeline) retrieve(ctx context.Context, st PipelineState) PipelineState {
	plan := st.Plan
	if p.retriever == nil {
		st.Err = domain.NewStageError(domain.StageRetrieve, domain.ReasonRetrievalExhausted, fmt.Errorf("retriever is not configured"))
		return st
	}

	slots := make([]retrievalSlot, len(plan.Selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, vertical := range plan.Selected {
		g.Go(func() error {
			slots[i] = p.retrieveVertical(gctx, plan, vertical)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		st.Err = domain.NewStageError(domain.StageRetrieve, domain.ReasonCancelled, err)
		return st
	}

	st.Retrieval = make(map[string]domain.VerticalStatus, len(slots))
	failed := 0
	var evidence []domain.EvidenceItem
	for i, vertical := range plan.Selected {
		slot := slots[i]
		st.Retrieval[vertical] = slot.status
		if slot.status.Status == domain.RetrievalFailed {
			failed++
			continue
		}
		evidence = append(evidence, slot.items...)
	}

	if failed == len(plan.Selected) {
		st.Err = domain.NewStageError(domain.StageRetrieve, domain.ReasonRetrievalExhausted,
			fmt.Errorf("%d of %d verticals failed", failed, len(plan.Selected)))
		return st
	}
	if failed > 0 {
		p.logger.Warn("retrieval_partial",
			"request_id", st.Request.RequestID,
			"failed", failed,
			"selected", len(plan.Selected),
		)
	}
	st.Evidence = evidence
	return st
}

func (p *PolicyPipeline) retrieveVertical(ctx context.Context, plan *domain.ExecutionPlan, vertical string) retrievalSlot {
	cfg := plan.Configs[vertical]
	spec, _ := p.table.Vertical(vertical)

	callCtx, cancel := context.WithTimeout(ctx, p.retrievalTimeout)
	defer cancel()

	started := time.Now()
	items, err := p.retriever.Search(callCtx, domain.SearchRequest{
		Vertical:   vertical,
		Collection: cfg.Collection,
		Query:      retrievalQuery(plan.Features, cfg),
		TopK:       cfg.TopK,
		Filters:    cfg.Filters,
		FilterKeys: spec.FilterKeys,
	})
	latency := time.Since(started)

	if err != nil {
		p.observer.ObserveRetrieval(vertical, domain.RetrievalFailed, latency.Seconds(), 0)
		p.logger.Warn("retrieval_vertical_failed",
			"vertical", vertical,
			"collection", cfg.Collection,
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)
		return retrievalSlot{status: domain.VerticalStatus{
			Status:    domain.RetrievalFailed,
			LatencyMS: latency.Milliseconds(),
			Error:     err.Error(),
		}}
	}

	items = normalizeEvidence(vertical, items)
	status := domain.RetrievalOK
	if len(items) == 0 {
		status = domain.RetrievalEmpty
	}
	p.observer.ObserveRetrieval(vertical, status, latency.Seconds(), len(items))
	return retrievalSlot{
		items: items,
		status: domain.VerticalStatus{
			Status:    status,
			Count:     len(items),
			LatencyMS: latency.Milliseconds(),
		},
	}
}

func (p *PolicyPipeline) fuse(ctx context.Context, st PipelineState) PipelineState {
	ranking := p.table.Ranking
	query := st.Request.Query

	deduped := fusion.Deduplicate(st.Evidence)
	outcome := fusion.Rerank(ctx, p.reranker, query, deduped, ranking.RerankTopN)
	if err := ctx.Err(); err != nil {
		st.Err = domain.NewStageError(domain.StageFuse, domain.ReasonCancelled, err)
		return st
	}
	if outcome.Fallback && len(deduped) > 1 {
		st.RerankFallback = true
		p.observer.ObserveRerankFallback()
		p.logger.Warn("rerank_fallback", "request_id", st.Request.RequestID, "items", len(deduped), "error", outcome.Cause)
	}

	opts := fusion.MergeOptions{
		TopK:              ranking.FinalK,
		MinPerVertical:    ranking.MinPerVertical,
		BoostExplicitRefs: ranking.BoostExplicitRef,
		Boost:             ranking.ExplicitRefBoost,
		Refs:              st.Plan.Features.Entities.ExplicitRefs(),
		SnippetChars:      ranking.SnippetChars,
	}
	if v := st.Request.Fusion.MinPerVertical; v != nil {
		opts.MinPerVertical = *v
	}
	if v := st.Request.Fusion.BoostExplicitRefs; v != nil {
		opts.BoostExplicitRefs = *v
	}
	st.Fused = fusion.Merge(outcome.Items, opts)
	return st
}

func (p *PolicyPipeline) synthesize(ctx context.Context, st PipelineState) PipelineState {
	if p.synthesizer == nil {
		st.Err = domain.NewStageError(domain.StageSynthesize, domain.ReasonSynthesisFailed, fmt.Errorf("synthesizer is not configured"))
		return st
	}
	answer := p.synthesizer.Synthesize(ctx, synthesis.Input{
		Query:         st.Request.Query,
		Features:      st.Plan.Features,
		Evidence:      st.Fused,
		PlanID:        st.Plan.ID,
		UsedVerticals: usedVerticals(st.Plan.Selected, st.Retrieval),
	})
	if err := ctx.Err(); err != nil {
		st.Err = domain.NewStageError(domain.StageSynthesize, domain.ReasonCancelled, err)
		return st
	}
	if answer.Degraded {
		p.logger.Warn("synthesis_degraded", "request_id", st.Request.RequestID, "reason", answer.DegradedReason)
	}
	st.Answer = &answer
	return st
}

// usedVerticals lists, in plan order, the verticals that returned evidence.
func usedVerticals(selected []string, statuses map[string]domain.VerticalStatus) []string {
	out := make([]string, 0, len(selected))
	for _, v := range selected {
		if statuses[v].Status == domain.RetrievalOK {
			out = append(out, v)
		}
	}
	return out
}

func retrievalQuery(f domain.QueryFeatures, cfg domain.RetrievalConfig) string {
	q := f.NormalizedQuery
	if q == "" {
		q = f.OriginalQuery
	}
	if len(cfg.Expansions) == 0 {
		return q
	}
	return q + " " + strings.Join(cfg.Expansions, " ")
}

// normalizeEvidence stamps the vertical on items and clamps scores to [0,1].
func normalizeEvidence(vertical string, items []domain.EvidenceItem) []domain.EvidenceItem {
	out := make([]domain.EvidenceItem, 0, len(items))
	for _, item := range items {
		if item.Vertical == "" {
			item.Vertical = vertical
		}
		if item.Score < 0 {
			item.Score = 0
		}
		if item.Score > 1 {
			item.Score = 1
		}
		out = append(out, item)
	}
	return out
}
