package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

func compilePatterns(field string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func compileOptional(field, pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return re, nil
}

// termsRegexp builds a case-insensitive, word-bounded alternation.
func termsRegexp(terms []string) (*regexp.Regexp, error) {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(t))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no terms")
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
}

func compileGroups(groups []domain.TermGroup) ([]termMatcher, error) {
	out := make([]termMatcher, 0, len(groups))
	for _, g := range groups {
		re, err := termsRegexp(g.Terms)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}
		out = append(out, termMatcher{name: g.Name, re: re})
	}
	return out, nil
}

// compileTerms treats each term as its own group named after itself.
func compileTerms(terms []string) ([]termMatcher, error) {
	groups := make([]domain.TermGroup, 0, len(terms))
	for _, t := range terms {
		groups = append(groups, domain.TermGroup{Name: t, Terms: []string{t}})
	}
	return compileGroups(groups)
}

func matchNames(matchers []termMatcher, q string) []string {
	var out []string
	for _, m := range matchers {
		if m.re.MatchString(q) {
			out = appendUnique(out, m.name)
		}
	}
	return out
}

// matchLongestFirst matches overlapping phrases so that "upper primary" does
// not also report "primary". Output keeps configuration order.
func matchLongestFirst(matchers []termMatcher, q string) []string {
	order := make([]int, len(matchers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(matchers[order[i]].name) > len(matchers[order[j]].name)
	})

	hit := make([]bool, len(matchers))
	work := q
	for _, idx := range order {
		m := matchers[idx]
		if !m.re.MatchString(work) {
			continue
		}
		hit[idx] = true
		work = m.re.ReplaceAllStringFunc(work, func(s string) string {
			return strings.Repeat(" ", len(s))
		})
	}

	var out []string
	for i, m := range matchers {
		if hit[i] {
			out = append(out, m.name)
		}
	}
	return out
}

func findAll(patterns []*regexp.Regexp, q string) []string {
	var out []string
	for _, re := range patterns {
		for _, m := range re.FindAllString(q, -1) {
			out = appendUnique(out, strings.Join(strings.Fields(m), " "))
		}
	}
	return out
}

// findGroup returns the first capture group of every match.
func findGroup(re *regexp.Regexp, q string) []string {
	if re == nil {
		return nil
	}
	var out []string
	for _, m := range re.FindAllStringSubmatch(q, -1) {
		if len(m) > 1 && m[1] != "" {
			out = appendUnique(out, m[1])
		}
	}
	return out
}

func nonNil(re *regexp.Regexp) []*regexp.Regexp {
	if re == nil {
		return nil
	}
	return []*regexp.Regexp{re}
}

func appendUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}
