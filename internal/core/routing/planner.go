package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirillkom/policy-router/internal/core/analysis"
	"github.com/kirillkom/policy-router/internal/core/domain"
)

type PlanOptions struct {
	MaxVerticals int
	UserContext  map[string]any
	Jurisdiction string
}

type Planner struct {
	table    *domain.RoutingTable
	analyzer *analysis.Analyzer
	scorer   *Scorer
	now      func() time.Time
	newID    func() string
}

func NewPlanner(table *domain.RoutingTable, analyzer *analysis.Analyzer, scorer *Scorer) *Planner {
	return &Planner{
		table:    table,
		analyzer: analyzer,
		scorer:   scorer,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// CreatePlan analyzes query and routes it.
func (p *Planner) CreatePlan(query string, opts PlanOptions) (*domain.ExecutionPlan, error) {
	if p.analyzer == nil {
		return nil, domain.WrapError(domain.ErrAnalysis, "create plan", fmt.Errorf("analyzer is not configured"))
	}
	return p.PlanFromFeatures(p.analyzer.Analyze(query), opts)
}

// PlanFromFeatures routes already analyzed features.
func (p *Planner) PlanFromFeatures(f domain.QueryFeatures, opts PlanOptions) (*domain.ExecutionPlan, error) {
	if p.scorer == nil {
		return nil, domain.WrapError(domain.ErrPlanning, "plan", fmt.Errorf("scorer is not configured"))
	}
	if j := strings.TrimSpace(opts.Jurisdiction); j != "" {
		f.Jurisdiction = j
	}

	maxVerticals := opts.MaxVerticals
	if maxVerticals <= 0 {
		maxVerticals = p.table.Routing.MaxVerticals
	}
	if maxVerticals > len(p.table.Verticals) {
		maxVerticals = len(p.table.Verticals)
	}

	scores := p.scorer.Score(f)
	chosen := p.scorer.Select(scores, maxVerticals, p.table.Routing.MinScore)
	selected, forced := p.scorer.ApplyForcedPairs(chosen, f)
	if len(selected) == 0 {
		return nil, domain.WrapError(domain.ErrPlanning, "plan", fmt.Errorf("no vertical met the minimum score %.2f", p.table.Routing.MinScore))
	}

	configs := make(map[string]domain.RetrievalConfig, len(selected))
	for _, name := range selected {
		spec, _ := p.table.Vertical(name)
		configs[name] = p.retrievalConfig(spec, f)
	}

	plan := &domain.ExecutionPlan{
		ID:              p.newID(),
		Query:           f.OriginalQuery,
		CreatedAt:       p.now(),
		Features:        f,
		Scores:          scores,
		Selected:        selected,
		ForcedAdditions: forced,
		Configs:         configs,
		UserContext:     opts.UserContext,
		MaxVerticals:    maxVerticals,
	}
	plan.Rationale = rationale(plan)
	return plan, nil
}

func (p *Planner) retrievalConfig(spec domain.VerticalSpec, f domain.QueryFeatures) domain.RetrievalConfig {
	return domain.RetrievalConfig{
		Vertical:   spec.Name,
		Collection: spec.Collection,
		TopK:       p.table.Ranking.TopKPerVertical,
		FacetHints: intersect(spec.Facets, f.Facets),
		Filters:    buildFilters(spec, f),
		Expansions: f.Expansions,
	}
}

func buildFilters(spec domain.VerticalSpec, f domain.QueryFeatures) map[string][]string {
	filters := map[string][]string{}
	set := func(key string, values []string) {
		if len(values) > 0 {
			filters[key] = append([]string(nil), values...)
		}
	}
	if f.Temporal.HasTemporal {
		set("years", f.Temporal.Years)
		set("fiscal_years", f.Temporal.FiscalYears)
	}
	if f.Jurisdiction != "" {
		filters["jurisdiction"] = []string{f.Jurisdiction}
	}
	for _, et := range spec.EntityFilters {
		set(string(et), f.Entities.Of(et))
	}
	set("districts", f.Constraints.Districts)
	set("mandals", f.Constraints.Mandals)
	set("school_types", f.Constraints.SchoolTypes)
	return filters
}

func rationale(plan *domain.ExecutionPlan) string {
	var parts []string
	primary := plan.Selected[0]
	parts = append(parts, fmt.Sprintf("Primary vertical '%s' (score: %.2f)", primary, plan.ScoreOf(primary)))

	e := plan.Features.Entities
	if len(e.LegalRefs) > 0 {
		parts = append(parts, "Legal references detected: "+strings.Join(e.LegalRefs, ", "))
	}
	if len(e.GONumbers) > 0 {
		parts = append(parts, "GO numbers detected: "+strings.Join(e.GONumbers, ", "))
	}
	if len(e.CaseCitations) > 0 {
		parts = append(parts, "Case citations detected: "+strings.Join(e.CaseCitations, ", "))
	}
	if len(plan.Features.Facets) > 0 {
		parts = append(parts, "Relevant facets: "+strings.Join(plan.Features.Facets, ", "))
	}

	forced := toSet(plan.ForcedAdditions)
	var additional []string
	for _, v := range plan.Selected[1:] {
		if _, ok := forced[v]; !ok {
			additional = append(additional, v)
		}
	}
	if len(additional) > 0 {
		parts = append(parts, "Additional verticals: "+strings.Join(additional, ", ")+" (complementary context)")
	}
	if len(plan.ForcedAdditions) > 0 {
		parts = append(parts, "Forced additions: "+strings.Join(plan.ForcedAdditions, ", "))
	}
	return strings.Join(parts, "; ")
}

// Summary is a one-line description of a plan for logs.
func Summary(plan *domain.ExecutionPlan) string {
	id := plan.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("Plan %s: type=%s, verticals=[%s], entities=%d",
		id, plan.Features.QueryType, strings.Join(plan.Selected, ", "), plan.Features.Entities.Count())
}

func intersect(ordered, other []string) []string {
	set := toSet(other)
	var out []string
	for _, v := range ordered {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
