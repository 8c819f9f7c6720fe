package routing

import "github.com/kirillkom/policy-router/internal/core/domain"

// Select keeps scores at or above minScore, in score order, up to maxVerticals.
func (s *Scorer) Select(scores []domain.VerticalScore, maxVerticals int, minScore float64) []string {
	if maxVerticals <= 0 {
		maxVerticals = s.table.Routing.MaxVerticals
	}
	out := make([]string, 0, maxVerticals)
	for _, sc := range scores {
		if len(out) >= maxVerticals {
			break
		}
		if sc.Score < minScore {
			continue
		}
		out = append(out, sc.Vertical)
	}
	return out
}

// ApplyForcedPairs adds complementary verticals regardless of the budget.
// Pairs are walked in configuration order against the growing selection and
// each pair adds at most one partner. Anchored entity types then pull in
// their vertical unconditionally. It returns the full selection and the
// verticals that were added.
func (s *Scorer) ApplyForcedPairs(selected []string, f domain.QueryFeatures) ([]string, []string) {
	out := append([]string(nil), selected...)
	in := make(map[string]struct{}, len(out))
	for _, v := range out {
		in[v] = struct{}{}
	}
	var added []string
	add := func(v string) {
		in[v] = struct{}{}
		out = append(out, v)
		added = append(added, v)
	}
	has := func(v string) bool {
		_, ok := in[v]
		return ok
	}

	for _, p := range s.table.ForcedPairs {
		a, b := p.Pair[0], p.Pair[1]
		switch {
		case has(a) && !has(b) && s.shouldForce(b, f):
			add(b)
		case has(b) && !has(a) && s.shouldForce(a, f):
			add(a)
		}
	}

	for _, et := range domain.EntityTypes {
		v, ok := s.table.Anchors[et]
		if !ok || has(v) || !f.Entities.Has(et) {
			continue
		}
		add(v)
	}
	return out, added
}

func (s *Scorer) shouldForce(vertical string, f domain.QueryFeatures) bool {
	for _, et := range s.table.ForceWhen[vertical] {
		if f.Entities.Has(et) {
			return true
		}
	}
	return false
}
