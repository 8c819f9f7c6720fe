package routing

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kirillkom/policy-router/internal/config"
	"github.com/kirillkom/policy-router/internal/core/analysis"
	"github.com/kirillkom/policy-router/internal/core/domain"
)

func newTestPlanner(t *testing.T) (*Planner, *Scorer, *analysis.Analyzer) {
	t.Helper()
	table, err := config.LoadRoutingTable("")
	if err != nil {
		t.Fatalf("load routing table: %v", err)
	}
	a, err := analysis.NewAnalyzer(table)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	s, err := NewScorer(table)
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	p := NewPlanner(table, a, s)
	p.newID = func() string { return "plan-00000001" }
	return p, s, a
}

func TestScoreRanksGOVerticalFirstForGOQuery(t *testing.T) {
	_, s, a := newTestPlanner(t)

	scores := s.Score(a.Analyze("What are the transfer rules under GO Ms No 45?"))
	if scores[0].Vertical != "gos" || scores[0].Score != 1 {
		t.Fatalf("expected gos clamped to 1 first, got %+v", scores[0])
	}
	if scores[1].Vertical != "legal" {
		t.Fatalf("expected legal second, got %s", scores[1].Vertical)
	}
	for _, sc := range scores {
		if sc.Score < 0 || sc.Score > 1 {
			t.Fatalf("score out of range: %+v", sc)
		}
	}
	hits := strings.Join(scores[0].Components.RuleHits, ",")
	if !strings.Contains(hits, "go_reference") || !strings.Contains(hits, "transfer_topic") {
		t.Fatalf("expected rule hits recorded, got %q", hits)
	}
}

func TestScoreTiesKeepDeclarationOrder(t *testing.T) {
	table := &domain.RoutingTable{
		Routing: domain.RoutingWeights{MaxVerticals: 3, EntityStep: 0.2, EntityCap: 0.5},
		Verticals: []domain.VerticalSpec{
			{Name: "zeta", Collection: "z", BaseWeight: 0.4},
			{Name: "alpha", Collection: "a", BaseWeight: 0.4},
			{Name: "mid", Collection: "m", BaseWeight: 0.4},
		},
	}
	s, err := NewScorer(table)
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	var got []string
	for _, sc := range s.Score(domain.QueryFeatures{}) {
		got = append(got, sc.Vertical)
	}
	if !reflect.DeepEqual(got, []string{"zeta", "alpha", "mid"}) {
		t.Fatalf("expected declaration order on ties, got %v", got)
	}
}

func TestFacetOverlapFloorAndZero(t *testing.T) {
	table := &domain.RoutingTable{
		Routing: domain.RoutingWeights{Facet: 1, FacetFloor: 0.1, EntityStep: 0.2, EntityCap: 0.5},
		Verticals: []domain.VerticalSpec{
			{Name: "bare", Collection: "b"},
			{Name: "rich", Collection: "r", Facets: []string{"x", "y"}},
		},
	}
	s, err := NewScorer(table)
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	none := s.Score(domain.QueryFeatures{})
	for _, sc := range none {
		if sc.Components.Facet != 0 {
			t.Fatalf("expected zero facet term without query facets, got %+v", sc)
		}
	}
	withFacets := s.Score(domain.QueryFeatures{Facets: []string{"x"}})
	byName := map[string]float64{}
	for _, sc := range withFacets {
		byName[sc.Vertical] = sc.Components.Facet
	}
	if byName["bare"] != 0.1 {
		t.Fatalf("expected floor for vertical without facets, got %v", byName["bare"])
	}
	if byName["rich"] != 0.5 {
		t.Fatalf("expected jaccard 0.5, got %v", byName["rich"])
	}
}

func TestSelectAppliesMinScoreAndBudget(t *testing.T) {
	_, s, _ := newTestPlanner(t)
	scores := []domain.VerticalScore{
		{Vertical: "a", Score: 0.9},
		{Vertical: "b", Score: 0.5},
		{Vertical: "c", Score: 0.3},
		{Vertical: "d", Score: 0.1},
	}
	if got := s.Select(scores, 2, 0.25); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected selection %v", got)
	}
	if got := s.Select(scores, 10, 0.25); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected selection %v", got)
	}
}

func TestForcedPairAddsJudicialBeyondBudget(t *testing.T) {
	p, _, _ := newTestPlanner(t)

	plan, err := p.CreatePlan("Is AIR 2014 SC 1234 applicable here?", PlanOptions{MaxVerticals: 1})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if !reflect.DeepEqual(plan.Selected, []string{"legal", "judicial"}) {
		t.Fatalf("expected legal plus forced judicial, got %v", plan.Selected)
	}
	if !reflect.DeepEqual(plan.ForcedAdditions, []string{"judicial"}) {
		t.Fatalf("expected judicial recorded as forced, got %v", plan.ForcedAdditions)
	}
	if !strings.Contains(plan.Rationale, "Forced additions: judicial") {
		t.Fatalf("rationale missing forced addition: %q", plan.Rationale)
	}
}

func TestAnchorPullsVerticalBelowMinScore(t *testing.T) {
	table := &domain.RoutingTable{
		Routing:   domain.RoutingWeights{MaxVerticals: 1, MinScore: 0.25, EntityStep: 0.2, EntityCap: 0.5},
		Verticals: []domain.VerticalSpec{{Name: "legal", Collection: "l", BaseWeight: 0.9}, {Name: "gos", Collection: "g", BaseWeight: 0.05}},
		Anchors:   map[domain.EntityType]string{domain.EntityGONumbers: "gos"},
	}
	s, err := NewScorer(table)
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	f := domain.QueryFeatures{Entities: domain.Entities{GONumbers: []string{"GO Ms No 7"}}}
	selected, added := s.ApplyForcedPairs(s.Select(s.Score(f), 1, 0.25), f)
	if !reflect.DeepEqual(selected, []string{"legal", "gos"}) || !reflect.DeepEqual(added, []string{"gos"}) {
		t.Fatalf("expected anchored gos, got selected=%v added=%v", selected, added)
	}
}

func TestGOQueriesAlwaysSelectGOVertical(t *testing.T) {
	p, _, _ := newTestPlanner(t)
	queries := []string{
		"What are the transfer rules under GO Ms No 45?",
		"How many KGBV schools were sanctioned by G.O.Rt.No. 112?",
		"Does GO Ms No 12 comply with Section 12(1)(c) and AIR 2014 SC 1234?",
		"UDISE enrollment statistics for 2022 referenced in GO No 9",
	}
	for _, q := range queries {
		for max := 1; max <= 5; max++ {
			plan, err := p.CreatePlan(q, PlanOptions{MaxVerticals: max})
			if err != nil {
				t.Fatalf("%q: create plan: %v", q, err)
			}
			found := false
			for _, v := range plan.Selected {
				if v == "gos" {
					found = true
				}
			}
			if !found {
				t.Fatalf("%q max=%d: gos missing from %v", q, max, plan.Selected)
			}
		}
	}
}

func TestPlanRoutesEntityFiltersOnlyToOwningVertical(t *testing.T) {
	p, _, _ := newTestPlanner(t)

	plan, err := p.CreatePlan("What are the transfer rules under GO Ms No 45 in Guntur district?", PlanOptions{})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	gos, ok := plan.Configs["gos"]
	if !ok {
		t.Fatalf("expected gos config, got %v", plan.Selected)
	}
	if len(gos.Filters["go_numbers"]) != 1 {
		t.Fatalf("expected go_numbers filter on gos, got %v", gos.Filters)
	}
	legal := plan.Configs["legal"]
	if _, leaked := legal.Filters["go_numbers"]; leaked {
		t.Fatalf("go_numbers must not filter legal: %v", legal.Filters)
	}
	for name, cfg := range plan.Configs {
		if !reflect.DeepEqual(cfg.Filters["jurisdiction"], []string{"Andhra Pradesh"}) {
			t.Fatalf("%s: expected jurisdiction filter, got %v", name, cfg.Filters)
		}
		if !reflect.DeepEqual(cfg.Filters["districts"], []string{"Guntur"}) {
			t.Fatalf("%s: expected district filter, got %v", name, cfg.Filters)
		}
		if _, ok := cfg.Filters["years"]; ok {
			t.Fatalf("%s: years filter without temporal signal", name)
		}
		if cfg.TopK != 20 {
			t.Fatalf("%s: expected top k 20, got %d", name, cfg.TopK)
		}
	}
	if !reflect.DeepEqual(gos.FacetHints, []string{"transfer"}) {
		t.Fatalf("unexpected facet hints %v", gos.FacetHints)
	}
	if !strings.HasPrefix(plan.Rationale, "Primary vertical 'gos' (score: 1.00)") {
		t.Fatalf("unexpected rationale %q", plan.Rationale)
	}
	if !strings.Contains(plan.Rationale, "GO numbers detected: GO Ms No 45") {
		t.Fatalf("rationale missing GO numbers: %q", plan.Rationale)
	}
	if plan.ID != "plan-00000001" || plan.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %q %v", plan.ID, plan.CreatedAt)
	}
}

func TestPlanJurisdictionOverrideAndUserContext(t *testing.T) {
	p, _, _ := newTestPlanner(t)

	plan, err := p.CreatePlan("latest teacher transfer policy", PlanOptions{
		Jurisdiction: "Telangana",
		UserContext:  map[string]any{"role": "teacher"},
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if plan.Features.Jurisdiction != "Telangana" {
		t.Fatalf("expected jurisdiction override, got %q", plan.Features.Jurisdiction)
	}
	if plan.UserContext["role"] != "teacher" {
		t.Fatalf("expected user context carried, got %v", plan.UserContext)
	}
	if !plan.Features.Temporal.HasTemporal {
		t.Fatalf("expected temporal flag from 'latest'")
	}
}

func TestPlanFailsWhenNothingQualifies(t *testing.T) {
	table := &domain.RoutingTable{
		Routing:   domain.RoutingWeights{MaxVerticals: 2, MinScore: 0.9, EntityStep: 0.2, EntityCap: 0.5},
		Verticals: []domain.VerticalSpec{{Name: "legal", Collection: "l", BaseWeight: 0.1}},
	}
	s, err := NewScorer(table)
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	p := NewPlanner(table, nil, s)
	if _, err := p.PlanFromFeatures(domain.QueryFeatures{OriginalQuery: "x"}, PlanOptions{}); !errors.Is(err, domain.ErrPlanning) {
		t.Fatalf("expected planning error, got %v", err)
	}
	if _, err := p.CreatePlan("x", PlanOptions{}); !errors.Is(err, domain.ErrAnalysis) {
		t.Fatalf("expected analysis error without analyzer, got %v", err)
	}
}

func TestNewScorerRejectsUnknownVerticals(t *testing.T) {
	base := func() *domain.RoutingTable {
		return &domain.RoutingTable{Verticals: []domain.VerticalSpec{{Name: "legal", Collection: "l"}}}
	}
	cases := map[string]func(*domain.RoutingTable){
		"rule bonus": func(t *domain.RoutingTable) {
			t.Rules = []domain.BonusRule{{Name: "r", Bonus: map[string]float64{"ghost": 0.1}}}
		},
		"pair": func(t *domain.RoutingTable) {
			t.ForcedPairs = []domain.ForcedPair{{Pair: []string{"legal", "ghost"}}}
		},
		"short pair": func(t *domain.RoutingTable) {
			t.ForcedPairs = []domain.ForcedPair{{Pair: []string{"legal"}}}
		},
		"anchor": func(t *domain.RoutingTable) {
			t.Anchors = map[domain.EntityType]string{domain.EntityGONumbers: "ghost"}
		},
		"entity type": func(t *domain.RoutingTable) {
			t.Verticals[0].EntityTypes = []domain.EntityType{"bogus"}
		},
	}
	for name, mutate := range cases {
		table := base()
		mutate(table)
		if _, err := NewScorer(table); !errors.Is(err, domain.ErrPlanning) {
			t.Fatalf("%s: expected planning error, got %v", name, err)
		}
	}
}

func TestSummary(t *testing.T) {
	p, _, _ := newTestPlanner(t)
	plan, err := p.CreatePlan("What are the transfer rules under GO Ms No 45?", PlanOptions{})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	want := "Plan plan-000: type=definitional, verticals=[gos, legal], entities=1"
	if got := Summary(plan); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
