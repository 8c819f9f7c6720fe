package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/policy-router/internal/config"
	"github.com/kirillkom/policy-router/internal/core/analysis"
	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/routing"
	"github.com/kirillkom/policy-router/internal/core/synthesis"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const goQuery = "What are the transfer rules under G.O.Ms.No. 45?"

type retrieverFake struct {
	mu       sync.Mutex
	items    map[string][]domain.EvidenceItem
	errs     map[string]error
	requests map[string]domain.SearchRequest
	onSearch func(ctx context.Context, vertical string) error
}

func (f *retrieverFake) Search(ctx context.Context, req domain.SearchRequest) ([]domain.EvidenceItem, error) {
	f.mu.Lock()
	if f.requests == nil {
		f.requests = map[string]domain.SearchRequest{}
	}
	f.requests[req.Vertical] = req
	items := append([]domain.EvidenceItem(nil), f.items[req.Vertical]...)
	err := f.errs[req.Vertical]
	hook := f.onSearch
	f.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx, req.Vertical); herr != nil {
			return nil, herr
		}
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

type pipelineGeneratorFake struct {
	mu     sync.Mutex
	calls  int
	prompt string
	out    string
	err    error
}

func (g *pipelineGeneratorFake) Generate(_ context.Context, prompt string, _ domain.GenerationOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompt = prompt
	return g.out, g.err
}

type pipelineRerankerFake struct {
	err error
}

func (r *pipelineRerankerFake) Rank(_ context.Context, _ string, items []domain.EvidenceItem, _ int) ([]domain.EvidenceItem, error) {
	if r.err != nil {
		return nil, r.err
	}
	return items, nil
}

type recorderFake struct {
	mu    sync.Mutex
	plans []string
}

func (r *recorderFake) RecordPlan(_ context.Context, plan *domain.ExecutionPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, plan.ID)
	return nil
}

type observerFake struct {
	noopObserver
	mu       sync.Mutex
	outcomes []string
}

func (o *observerFake) ObserveOutcome(outcome string, _ float64, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

type pipelineFixture struct {
	pipeline  *PolicyPipeline
	retriever *retrieverFake
	generator *pipelineGeneratorFake
	recorder  *recorderFake
	observer  *observerFake
}

func newPipelineFixture(t *testing.T, reranker *pipelineRerankerFake) *pipelineFixture {
	t.Helper()
	table, err := config.LoadRoutingTable("")
	if err != nil {
		t.Fatalf("load routing table: %v", err)
	}
	analyzer, err := analysis.NewAnalyzer(table)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	scorer, err := routing.NewScorer(table)
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	f := &pipelineFixture{
		retriever: &retrieverFake{items: map[string][]domain.EvidenceItem{}, errs: map[string]error{}},
		generator: &pipelineGeneratorFake{out: "Transfers follow the order [gos:GO-45:para 3]."},
		recorder:  &recorderFake{},
		observer:  &observerFake{},
	}
	deps := PipelineDeps{
		Table:       table,
		Analyzer:    analyzer,
		Planner:     routing.NewPlanner(table, analyzer, scorer),
		Retriever:   f.retriever,
		Synthesizer: synthesis.NewSynthesizer(f.generator, table),
		Recorder:    f.recorder,
		Observer:    f.observer,
	}
	if reranker != nil {
		deps.Reranker = reranker
	}
	f.pipeline = NewPolicyPipeline(deps)
	return f
}

func goEvidence() domain.EvidenceItem {
	return domain.EvidenceItem{
		ID:         "GO-45",
		Locator:    "para 3",
		Text:       "Teachers with five years of service at a station are eligible for transfer.",
		Score:      0.9,
		SourceDate: "2023-05-10",
		SourceURI:  "file://gos/go-45.pdf",
	}
}

func TestPipelineAnswersGOQueryWithCitation(t *testing.T) {
	f := newPipelineFixture(t, nil)
	f.retriever.items["gos"] = []domain.EvidenceItem{goEvidence()}

	resp, err := f.pipeline.Answer(context.Background(), domain.PolicyRequest{Query: goQuery})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.RequestID == "" || resp.PlanID == "" || resp.Answer.PlanID != resp.PlanID {
		t.Fatalf("expected request and plan ids, got %+v", resp)
	}
	if resp.Retrieval["gos"].Status != domain.RetrievalOK || resp.Retrieval["gos"].Count != 1 {
		t.Fatalf("expected gos retrieval ok, got %+v", resp.Retrieval)
	}
	if len(resp.Answer.Citations) != 1 || resp.Answer.Citations[0].DocID != "GO-45" {
		t.Fatalf("expected citation to GO-45, got %+v", resp.Answer.Citations)
	}
	if resp.Answer.Confidence <= 0 {
		t.Fatalf("expected positive confidence, got %v", resp.Answer.Confidence)
	}
	if len(resp.Answer.UsedVerticals) != 1 || resp.Answer.UsedVerticals[0] != "gos" {
		t.Fatalf("expected only gos used, got %v", resp.Answer.UsedVerticals)
	}
	if len(f.recorder.plans) != 1 || f.recorder.plans[0] != resp.PlanID {
		t.Fatalf("expected plan recorded, got %v", f.recorder.plans)
	}
	if !strings.Contains(resp.Rationale, "GO numbers detected") {
		t.Fatalf("unexpected rationale %q", resp.Rationale)
	}

	req := f.retriever.requests["gos"]
	if req.Collection != "government_orders" || len(req.Filters["go_numbers"]) != 1 {
		t.Fatalf("unexpected gos search request %+v", req)
	}
	if _, ok := f.retriever.requests["legal"].Filters["go_numbers"]; ok {
		t.Fatalf("go_numbers filter leaked into legal request")
	}
	if f.observer.outcomes[0] != "answered" {
		t.Fatalf("unexpected outcome %v", f.observer.outcomes)
	}
}

func TestPipelineAllEmptyReturnsInsufficientEvidence(t *testing.T) {
	f := newPipelineFixture(t, nil)

	resp, err := f.pipeline.Answer(context.Background(), domain.PolicyRequest{Query: goQuery})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if f.generator.calls != 0 {
		t.Fatalf("generator must not be called without evidence")
	}
	if resp.Answer.Confidence != 0 || len(resp.Answer.Citations) != 0 || resp.EvidenceCount != 0 {
		t.Fatalf("expected empty answer, got %+v", resp)
	}
	if !strings.HasPrefix(resp.Answer.Text, "I couldn't find relevant information") {
		t.Fatalf("unexpected text %q", resp.Answer.Text)
	}
	if len(resp.Answer.UsedVerticals) != 0 {
		t.Fatalf("expected no used verticals, got %v", resp.Answer.UsedVerticals)
	}
	for v, st := range resp.Retrieval {
		if st.Status != domain.RetrievalEmpty {
			t.Fatalf("expected %s empty, got %+v", v, st)
		}
	}
	if f.observer.outcomes[0] != "insufficient_evidence" {
		t.Fatalf("unexpected outcome %v", f.observer.outcomes)
	}
}

func TestPipelineDeduplicatesSharedSourceAcrossVerticals(t *testing.T) {
	f := newPipelineFixture(t, nil)
	f.retriever.items["gos"] = []domain.EvidenceItem{goEvidence()}
	dup := goEvidence()
	dup.ID = "legal-copy"
	dup.Score = 0.4
	f.retriever.items["legal"] = []domain.EvidenceItem{dup}

	resp, err := f.pipeline.Answer(context.Background(), domain.PolicyRequest{Query: goQuery})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.EvidenceCount != 1 {
		t.Fatalf("expected one fused item, got %d", resp.EvidenceCount)
	}
	if !strings.Contains(f.generator.prompt, "[gos:GO-45:para 3]") || strings.Contains(f.generator.prompt, "legal-copy") {
		t.Fatalf("expected only the higher-scored copy in the prompt:\n%s", f.generator.prompt)
	}
}

func TestPipelineToleratesPartialRetrievalFailure(t *testing.T) {
	f := newPipelineFixture(t, nil)
	f.retriever.items["gos"] = []domain.EvidenceItem{goEvidence()}
	f.retriever.items["judicial"] = []domain.EvidenceItem{{
		ID:         "AIR-2015-SC-123",
		Locator:    "para 12",
		Text:       "Transfer orders issued mid-session must record reasons.",
		Score:      0.7,
		SourceDate: "2015-03-02",
		SourceURI:  "file://judicial/air-2015-sc-123.pdf",
	}}
	f.retriever.errs["legal"] = errors.New("collection offline")
	f.generator.out = "Transfers follow the order [gos:GO-45:para 3] and need recorded reasons [judicial:AIR-2015-SC-123:para 12]."

	query := "Do the transfer rules under G.O.Ms.No. 45 comply with AIR 2015 SC 123?"
	resp, err := f.pipeline.Answer(context.Background(), domain.PolicyRequest{Query: query})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(resp.Retrieval) != 3 {
		t.Fatalf("expected gos, legal and judicial searched, got %+v", resp.Retrieval)
	}
	failed := 0
	for _, st := range resp.Retrieval {
		if st.Status == domain.RetrievalFailed {
			failed++
		}
	}
	legal := resp.Retrieval["legal"]
	if failed != 1 || legal.Status != domain.RetrievalFailed || !strings.Contains(legal.Error, "collection offline") {
		t.Fatalf("expected only legal failure recorded, got %+v", resp.Retrieval)
	}
	for _, v := range []string{"gos", "judicial"} {
		if st := resp.Retrieval[v]; st.Status != domain.RetrievalOK || st.Count != 1 {
			t.Fatalf("expected %s retrieval ok, got %+v", v, st)
		}
	}
	if resp.EvidenceCount != 2 {
		t.Fatalf("expected evidence from both surviving verticals, got %d", resp.EvidenceCount)
	}
	cited := map[string]bool{}
	for _, c := range resp.Answer.Citations {
		cited[c.Vertical+"/"+c.DocID] = true
	}
	if len(resp.Answer.Citations) != 2 || !cited["gos/GO-45"] || !cited["judicial/AIR-2015-SC-123"] {
		t.Fatalf("expected citations from gos and judicial, got %+v", resp.Answer.Citations)
	}
	if len(resp.Answer.UsedVerticals) != 2 {
		t.Fatalf("expected two used verticals, got %v", resp.Answer.UsedVerticals)
	}
}

func TestPipelineFailsWhenEveryVerticalFails(t *testing.T) {
	f := newPipelineFixture(t, nil)
	f.retriever.onSearch = func(context.Context, string) error { return errors.New("down") }

	_, err := f.pipeline.Answer(context.Background(), domain.PolicyRequest{Query: goQuery})
	if !errors.Is(err, domain.ErrRetrievalExhausted) {
		t.Fatalf("expected retrieval exhausted, got %v", err)
	}
	se, ok := domain.AsStageError(err)
	if !ok || se.Stage != domain.StageRetrieve || se.Reason != domain.ReasonRetrievalExhausted {
		t.Fatalf("unexpected stage error %+v", se)
	}
	if f.generator.calls != 0 {
		t.Fatalf("generator must not run after retrieval failure")
	}
}

func TestPipelineCancelledBeforeStart(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Answer(ctx, domain.PolicyRequest{Query: goQuery})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if se, _ := domain.AsStageError(err); se.Stage != domain.StageAnalyze {
		t.Fatalf("expected cancellation at analyze, got %s", se.Stage)
	}
}

func TestPipelineCancelledDuringRetrieval(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.retriever.onSearch = func(callCtx context.Context, _ string) error {
		cancel()
		<-callCtx.Done()
		return callCtx.Err()
	}

	_, err := f.pipeline.Answer(ctx, domain.PolicyRequest{Query: goQuery})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if se, _ := domain.AsStageError(err); se.Stage != domain.StageRetrieve {
		t.Fatalf("expected cancellation at retrieve, got %s", se.Stage)
	}
	if f.generator.calls != 0 {
		t.Fatalf("no stage may run after cancellation")
	}
}

func TestPipelineRejectsInvalidInput(t *testing.T) {
	f := newPipelineFixture(t, nil)
	negative := -1
	cases := []domain.PolicyRequest{
		{Query: "hi"},
		{Query: strings.Repeat("a", 2001)},
		{Query: goQuery, MaxVerticals: 99},
		{Query: goQuery, MaxVerticals: -1},
		{Query: goQuery, Fusion: domain.FusionOptions{MinPerVertical: &negative}},
	}
	for _, req := range cases {
		if _, err := f.pipeline.Answer(context.Background(), req); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", req.MaxVerticals, err)
		}
	}
}

func TestPipelineFlagsRerankFallback(t *testing.T) {
	f := newPipelineFixture(t, &pipelineRerankerFake{err: domain.ErrRerankUnavailable})
	f.retriever.items["gos"] = []domain.EvidenceItem{
		goEvidence(),
		{ID: "GO-12", Locator: "para 1", Text: "Spouse cases get preference during transfer counselling.", Score: 0.5},
	}

	resp, err := f.pipeline.Answer(context.Background(), domain.PolicyRequest{Query: goQuery})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !resp.RerankFallback {
		t.Fatalf("expected rerank fallback flag")
	}
	if resp.EvidenceCount != 2 {
		t.Fatalf("expected both items kept, got %d", resp.EvidenceCount)
	}
	if i, j := strings.Index(f.generator.prompt, "GO-45"), strings.Index(f.generator.prompt, "GO-12"); i < 0 || j < 0 || i > j {
		t.Fatalf("expected retrieval-score order in prompt")
	}
}

func TestPipelineDegradesWhenGenerationFails(t *testing.T) {
	f := newPipelineFixture(t, nil)
	f.retriever.items["gos"] = []domain.EvidenceItem{goEvidence()}
	f.generator.err = errors.New("model offline")

	resp, err := f.pipeline.Answer(context.Background(), domain.PolicyRequest{Query: goQuery})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !resp.Answer.Degraded || resp.Answer.Confidence != 0 {
		t.Fatalf("expected degraded answer, got %+v", resp.Answer)
	}
	if f.observer.outcomes[0] != "degraded" {
		t.Fatalf("unexpected outcome %v", f.observer.outcomes)
	}
}
