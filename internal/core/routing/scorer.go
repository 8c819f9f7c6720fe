// Package routing scores verticals against query features and builds
// execution plans.
package routing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

type compiledRule struct {
	name       string
	entities   []domain.EntityType
	terms      *regexp.Regexp
	queryTypes []domain.QueryType
	bonus      map[string]float64
}

func (r compiledRule) matches(f domain.QueryFeatures) bool {
	for _, et := range r.entities {
		if f.Entities.Has(et) {
			return true
		}
	}
	if r.terms != nil && r.terms.MatchString(f.NormalizedQuery) {
		return true
	}
	for _, qt := range r.queryTypes {
		if f.QueryType == qt {
			return true
		}
	}
	return false
}

// Scorer is the single table-driven scorer shared by every vertical.
type Scorer struct {
	table *domain.RoutingTable
	rules []compiledRule
}

func NewScorer(table *domain.RoutingTable) (*Scorer, error) {
	if table == nil {
		return nil, domain.WrapError(domain.ErrPlanning, "new scorer", fmt.Errorf("routing table is nil"))
	}
	if err := validateTable(table); err != nil {
		return nil, domain.WrapError(domain.ErrPlanning, "new scorer", err)
	}
	rules := make([]compiledRule, 0, len(table.Rules))
	for _, r := range table.Rules {
		cr := compiledRule{
			name:       r.Name,
			entities:   r.When.Entities,
			queryTypes: r.When.QueryTypes,
			bonus:      r.Bonus,
		}
		if len(r.When.Terms) > 0 {
			parts := make([]string, 0, len(r.When.Terms))
			for _, t := range r.When.Terms {
				parts = append(parts, regexp.QuoteMeta(strings.TrimSpace(t)))
			}
			re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
			if err != nil {
				return nil, domain.WrapError(domain.ErrPlanning, "new scorer", fmt.Errorf("rule %q: %w", r.Name, err))
			}
			cr.terms = re
		}
		rules = append(rules, cr)
	}
	return &Scorer{table: table, rules: rules}, nil
}

// Score returns one score per configured vertical, highest first. Equal
// scores keep declaration order.
func (s *Scorer) Score(f domain.QueryFeatures) []domain.VerticalScore {
	out := make([]domain.VerticalScore, 0, len(s.table.Verticals))
	for _, v := range s.table.Verticals {
		out = append(out, s.scoreVertical(v, f))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func (s *Scorer) scoreVertical(v domain.VerticalSpec, f domain.QueryFeatures) domain.VerticalScore {
	w := s.table.Routing
	parts := domain.ScoreBreakdown{
		Base:   v.BaseWeight,
		Facet:  w.Facet * s.facetOverlap(v, f),
		Entity: w.Entity * s.entityRelevance(v, f),
	}
	if f.Temporal.HasTemporal {
		parts.Recency = w.Recency * v.Recency
	}
	for _, r := range s.rules {
		bonus, ok := r.bonus[v.Name]
		if !ok || !r.matches(f) {
			continue
		}
		parts.Rules += bonus
		parts.RuleHits = append(parts.RuleHits, r.name)
	}
	total := parts.Base + parts.Facet + parts.Entity + parts.Recency + parts.Rules
	return domain.VerticalScore{Vertical: v.Name, Score: clamp01(total), Components: parts}
}

// facetOverlap is the Jaccard similarity of query and vertical facets.
func (s *Scorer) facetOverlap(v domain.VerticalSpec, f domain.QueryFeatures) float64 {
	if len(f.Facets) == 0 {
		return 0
	}
	if len(v.Facets) == 0 {
		return s.table.Routing.FacetFloor
	}
	query := toSet(f.Facets)
	vertical := toSet(v.Facets)
	inter := 0
	for k := range query {
		if _, ok := vertical[k]; ok {
			inter++
		}
	}
	union := len(query) + len(vertical) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func (s *Scorer) entityRelevance(v domain.VerticalSpec, f domain.QueryFeatures) float64 {
	count := 0
	for _, et := range v.EntityTypes {
		count += len(f.Entities.Of(et))
	}
	rel := float64(count) * s.table.Routing.EntityStep
	if rel > s.table.Routing.EntityCap {
		rel = s.table.Routing.EntityCap
	}
	return rel
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func validateTable(t *domain.RoutingTable) error {
	if len(t.Verticals) == 0 {
		return fmt.Errorf("no verticals configured")
	}
	known := make(map[string]struct{}, len(t.Verticals))
	for _, v := range t.Verticals {
		if _, dup := known[v.Name]; dup {
			return fmt.Errorf("duplicate vertical %q", v.Name)
		}
		known[v.Name] = struct{}{}
		if v.BaseWeight < 0 || v.BaseWeight > 1 {
			return fmt.Errorf("vertical %q base weight out of range", v.Name)
		}
		for _, et := range append(append([]domain.EntityType{}, v.EntityTypes...), v.EntityFilters...) {
			if !et.Valid() {
				return fmt.Errorf("vertical %q references unknown entity type %q", v.Name, et)
			}
		}
	}
	isKnown := func(name string) bool {
		_, ok := known[name]
		return ok
	}
	for _, r := range t.Rules {
		for name := range r.Bonus {
			if !isKnown(name) {
				return fmt.Errorf("rule %q gives bonus to unknown vertical %q", r.Name, name)
			}
		}
		for _, et := range r.When.Entities {
			if !et.Valid() {
				return fmt.Errorf("rule %q references unknown entity type %q", r.Name, et)
			}
		}
	}
	for _, p := range t.ForcedPairs {
		if len(p.Pair) != 2 {
			return fmt.Errorf("forced pair %v must name exactly two verticals", p.Pair)
		}
		if !isKnown(p.Pair[0]) || !isKnown(p.Pair[1]) {
			return fmt.Errorf("forced pair %v references unknown vertical", p.Pair)
		}
	}
	for name, types := range t.ForceWhen {
		if !isKnown(name) {
			return fmt.Errorf("force_when references unknown vertical %q", name)
		}
		for _, et := range types {
			if !et.Valid() {
				return fmt.Errorf("force_when %q references unknown entity type %q", name, et)
			}
		}
	}
	for et, name := range t.Anchors {
		if !et.Valid() || !isKnown(name) {
			return fmt.Errorf("anchor %q -> %q is invalid", et, name)
		}
	}
	w := t.Routing
	for label, val := range map[string]float64{
		"facet_weight":   w.Facet,
		"entity_weight":  w.Entity,
		"recency_weight": w.Recency,
		"facet_floor":    w.FacetFloor,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("%s out of range: %v", label, val)
		}
	}
	return nil
}
