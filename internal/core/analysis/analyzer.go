// Package analysis turns a raw policy question into structured query features.
package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

type termMatcher struct {
	name string
	re   *regexp.Regexp
}

type queryTypeMatcher struct {
	queryType domain.QueryType
	re        *regexp.Regexp
}

type synonymMatcher struct {
	re        *regexp.Regexp
	expansion []string
}

// Analyzer extracts entities, facets, constraints and temporal signals with
// patterns compiled once from the routing table. It holds no mutable state
// and is safe for concurrent use.
type Analyzer struct {
	defaultJurisdiction string
	normalizer          *strings.Replacer

	legal []*regexp.Regexp
	gos   []*regexp.Regexp
	cases []*regexp.Regexp

	metrics []termMatcher
	schemes []termMatcher
	facets  []termMatcher

	district    *regexp.Regexp
	mandal      *regexp.Regexp
	schoolTypes []termMatcher

	temporal []termMatcher
	year     *regexp.Regexp
	fiscal   *regexp.Regexp

	queryTypes    []queryTypeMatcher
	jurisdictions []termMatcher
	synonyms      []synonymMatcher
}

func NewAnalyzer(table *domain.RoutingTable) (*Analyzer, error) {
	if table == nil {
		return nil, domain.WrapError(domain.ErrAnalysis, "new analyzer", fmt.Errorf("routing table is nil"))
	}
	a, err := compile(table)
	if err != nil {
		return nil, domain.WrapError(domain.ErrAnalysis, "new analyzer", err)
	}
	return a, nil
}

func compile(table *domain.RoutingTable) (*Analyzer, error) {
	cfg := table.Analysis
	a := &Analyzer{defaultJurisdiction: table.Defaults.Jurisdiction}

	pairs := make([]string, 0, len(cfg.Normalizations)*2)
	for _, r := range cfg.Normalizations {
		if r.From == "" {
			return nil, fmt.Errorf("normalization with empty source")
		}
		pairs = append(pairs, r.From, r.To)
	}
	a.normalizer = strings.NewReplacer(pairs...)

	var err error
	if a.legal, err = compilePatterns("legal_patterns", cfg.LegalPatterns); err != nil {
		return nil, err
	}
	if a.gos, err = compilePatterns("go_patterns", cfg.GOPatterns); err != nil {
		return nil, err
	}
	if a.cases, err = compilePatterns("case_patterns", cfg.CasePatterns); err != nil {
		return nil, err
	}
	if a.metrics, err = compileGroups(cfg.Metrics); err != nil {
		return nil, err
	}
	if a.schemes, err = compileTerms(cfg.Schemes); err != nil {
		return nil, err
	}
	if a.facets, err = compileGroups(cfg.Facets); err != nil {
		return nil, err
	}
	if a.district, err = compileOptional("district_pattern", cfg.DistrictPattern); err != nil {
		return nil, err
	}
	if a.mandal, err = compileOptional("mandal_pattern", cfg.MandalPattern); err != nil {
		return nil, err
	}
	if a.schoolTypes, err = compileTerms(cfg.SchoolTypes); err != nil {
		return nil, err
	}
	if a.temporal, err = compileTerms(cfg.TemporalKeywords); err != nil {
		return nil, err
	}
	if a.year, err = compileOptional("year_pattern", cfg.YearPattern); err != nil {
		return nil, err
	}
	if a.fiscal, err = compileOptional("fiscal_year_pattern", cfg.FiscalPattern); err != nil {
		return nil, err
	}
	if a.jurisdictions, err = compileGroups(cfg.Jurisdictions); err != nil {
		return nil, err
	}

	for _, qt := range cfg.QueryTypes {
		re, err := termsRegexp(qt.Keywords)
		if err != nil {
			return nil, fmt.Errorf("query type %s: %w", qt.Type, err)
		}
		a.queryTypes = append(a.queryTypes, queryTypeMatcher{queryType: qt.Type, re: re})
	}

	keys := make([]string, 0, len(cfg.Synonyms))
	for k := range cfg.Synonyms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		re, err := termsRegexp([]string{k})
		if err != nil {
			return nil, fmt.Errorf("synonym %q: %w", k, err)
		}
		a.synonyms = append(a.synonyms, synonymMatcher{re: re, expansion: cfg.Synonyms[k]})
	}
	return a, nil
}

// Analyze never fails on query text: a query with no signals yields empty
// features with QueryType general.
func (a *Analyzer) Analyze(query string) domain.QueryFeatures {
	normalized := a.Normalize(query)
	return domain.QueryFeatures{
		OriginalQuery:   query,
		NormalizedQuery: normalized,
		Entities:        a.extractEntities(normalized),
		Facets:          matchNames(a.facets, normalized),
		Constraints:     a.extractConstraints(normalized),
		Expansions:      a.expand(normalized),
		Temporal:        a.extractTemporal(normalized),
		Jurisdiction:    a.detectJurisdiction(normalized),
		QueryType:       a.classify(normalized),
	}
}

// Normalize expands configured abbreviations and collapses whitespace.
func (a *Analyzer) Normalize(query string) string {
	return strings.Join(strings.Fields(a.normalizer.Replace(query)), " ")
}

func (a *Analyzer) extractEntities(q string) domain.Entities {
	return domain.Entities{
		LegalRefs:     findAll(a.legal, q),
		GONumbers:     findAll(a.gos, q),
		CaseCitations: findAll(a.cases, q),
		Metrics:       matchNames(a.metrics, q),
		Schemes:       matchNames(a.schemes, q),
	}
}

func (a *Analyzer) extractConstraints(q string) domain.Constraints {
	return domain.Constraints{
		Districts:   findGroup(a.district, q),
		Mandals:     findGroup(a.mandal, q),
		SchoolTypes: matchLongestFirst(a.schoolTypes, q),
	}
}

func (a *Analyzer) extractTemporal(q string) domain.Temporal {
	out := domain.Temporal{
		References:  matchNames(a.temporal, q),
		Years:       findAll(nonNil(a.year), q),
		FiscalYears: findAll(nonNil(a.fiscal), q),
	}
	out.HasTemporal = len(out.References) > 0 || len(out.Years) > 0 || len(out.FiscalYears) > 0
	return out
}

func (a *Analyzer) detectJurisdiction(q string) string {
	for _, j := range a.jurisdictions {
		if j.re.MatchString(q) {
			return j.name
		}
	}
	return a.defaultJurisdiction
}

func (a *Analyzer) classify(q string) domain.QueryType {
	for _, m := range a.queryTypes {
		if m.re.MatchString(q) {
			return m.queryType
		}
	}
	return domain.QueryGeneral
}

func (a *Analyzer) expand(q string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, s := range a.synonyms {
		if !s.re.MatchString(q) {
			continue
		}
		for _, term := range s.expansion {
			key := strings.ToLower(term)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, term)
		}
	}
	return out
}
