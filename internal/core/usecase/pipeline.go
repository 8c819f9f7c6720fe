package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kirillkom/policy-router/internal/core/analysis"
	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
	"github.com/kirillkom/policy-router/internal/core/routing"
	"github.com/kirillkom/policy-router/internal/core/synthesis"
)

const (
	minQueryChars = 3
	maxQueryChars = 2000
)

// PipelineState is threaded through the stages by value. Each stage returns
// a new state; Err short-circuits the remaining stages.
type PipelineState struct {
	Request        domain.PolicyRequest
	StartedAt      time.Time
	Features       *domain.QueryFeatures
	Plan           *domain.ExecutionPlan
	Evidence       []domain.EvidenceItem
	Retrieval      map[string]domain.VerticalStatus
	Fused          []domain.EvidenceItem
	RerankFallback bool
	Answer         *domain.Answer
	Err            *domain.StageError
}

type stage struct {
	name domain.Stage
	run  func(context.Context, PipelineState) PipelineState
	skip func(PipelineState) bool
}

type PipelineDeps struct {
	Table       *domain.RoutingTable
	Analyzer    *analysis.Analyzer
	Planner     *routing.Planner
	Retriever   ports.EvidenceRetriever
	Reranker    ports.Reranker
	Synthesizer *synthesis.Synthesizer
	Recorder    ports.PlanRecorder
	Observer    ports.PipelineObserver
	Logger      *slog.Logger

	RetrievalTimeout time.Duration
}

// PolicyPipeline runs Analyze, Plan, Retrieve, Fuse and Synthesize for one
// request.
type PolicyPipeline struct {
	table       *domain.RoutingTable
	analyzer    *analysis.Analyzer
	planner     *routing.Planner
	retriever   ports.EvidenceRetriever
	reranker    ports.Reranker
	synthesizer *synthesis.Synthesizer
	recorder    ports.PlanRecorder
	observer    ports.PipelineObserver
	logger      *slog.Logger

	retrievalTimeout time.Duration
	stages           []stage
	newID            func() string
	now              func() time.Time
}

func NewPolicyPipeline(deps PipelineDeps) *PolicyPipeline {
	p := &PolicyPipeline{
		table:            deps.Table,
		analyzer:         deps.Analyzer,
		planner:          deps.Planner,
		retriever:        deps.Retriever,
		reranker:         deps.Reranker,
		synthesizer:      deps.Synthesizer,
		recorder:         deps.Recorder,
		observer:         deps.Observer,
		logger:           deps.Logger,
		retrievalTimeout: deps.RetrievalTimeout,
		newID:            uuid.NewString,
		now:              time.Now,
	}
	if p.observer == nil {
		p.observer = noopObserver{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.retrievalTimeout <= 0 {
		p.retrievalTimeout = 8 * time.Second
	}
	p.stages = []stage{
		{name: domain.StageAnalyze, run: p.analyze},
		{name: domain.StagePlan, run: p.plan},
		{name: domain.StageRetrieve, run: p.retrieve, skip: noSelection},
		{name: domain.StageFuse, run: p.fuse},
		{name: domain.StageSynthesize, run: p.synthesize},
	}
	return p
}

func (p *PolicyPipeline) Answer(ctx context.Context, req domain.PolicyRequest) (*domain.PolicyResponse, error) {
	if err := p.validate(&req); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = p.newID()
	}

	st := p.Run(ctx, PipelineState{Request: req, StartedAt: p.now()})
	if st.Err != nil {
		p.observer.ObserveOutcome(string(st.Err.Reason), 0, 0)
		p.logger.Warn("pipeline_failed",
			"request_id", req.RequestID,
			"stage", st.Err.Stage,
			"reason", st.Err.Reason,
			"error", st.Err.Err,
		)
		return nil, st.Err
	}

	resp := &domain.PolicyResponse{
		RequestID:        req.RequestID,
		Query:            req.Query,
		Answer:           *st.Answer,
		PlanID:           st.Plan.ID,
		Rationale:        st.Plan.Rationale,
		Retrieval:        st.Retrieval,
		RerankFallback:   st.RerankFallback,
		EvidenceCount:    len(st.Fused),
		ProcessingMillis: p.now().Sub(st.StartedAt).Milliseconds(),
	}
	p.observer.ObserveOutcome(outcomeLabel(resp.Answer, len(st.Fused)), resp.Answer.Confidence, len(resp.Answer.Citations))
	return resp, nil
}

// Run executes the stages in order until one sets Err or the context ends.
func (p *PolicyPipeline) Run(ctx context.Context, st PipelineState) PipelineState {
	for _, s := range p.stages {
		if st.Err != nil {
			break
		}
		if err := ctx.Err(); err != nil {
			st.Err = domain.NewStageError(s.name, domain.ReasonCancelled, err)
			break
		}
		if s.skip != nil && s.skip(st) {
			continue
		}
		started := time.Now()
		st = s.run(ctx, st)
		p.observer.ObserveStage(s.name, time.Since(started).Seconds())
	}
	return st
}

func (p *PolicyPipeline) validate(req *domain.PolicyRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	n := utf8.RuneCountInString(req.Query)
	if n < minQueryChars || n > maxQueryChars {
		return domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("query must be %d-%d characters, got %d", minQueryChars, maxQueryChars, n))
	}
	if req.MaxVerticals < 0 || (p.table != nil && req.MaxVerticals > len(p.table.Verticals)) {
		return domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("max_verticals out of range: %d", req.MaxVerticals))
	}
	if mpv := req.Fusion.MinPerVertical; mpv != nil && *mpv < 0 {
		return domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("min_per_vertical must not be negative"))
	}
	return nil
}

func noSelection(st PipelineState) bool {
	return st.Plan == nil || len(st.Plan.Selected) == 0
}

func outcomeLabel(a domain.Answer, evidence int) string {
	switch {
	case a.Degraded:
		return "degraded"
	case evidence == 0:
		return "insufficient_evidence"
	default:
		return "answered"
	}
}

type noopObserver struct{}

func (noopObserver) ObserveStage(domain.Stage, float64)                            {}
func (noopObserver) ObserveRetrieval(string, domain.RetrievalStatus, float64, int) {}
func (noopObserver) ObserveRerankFallback()                                        {}
func (noopObserver) ObserveOutcome(string, float64, int)                           {}
