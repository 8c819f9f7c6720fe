package domain

// RoutingTable is the static routing configuration: vertical descriptors,
// extraction patterns, scoring weights and synthesis policy. It is loaded
// once at startup and shared read-only by every request.
type RoutingTable struct {
	Defaults    TableDefaults           `yaml:"defaults"`
	Routing     RoutingWeights          `yaml:"routing"`
	Ranking     RankingPolicy           `yaml:"ranking"`
	Verticals   []VerticalSpec          `yaml:"verticals"`
	Rules       []BonusRule             `yaml:"rules"`
	ForcedPairs []ForcedPair            `yaml:"forced_pairs"`
	ForceWhen   map[string][]EntityType `yaml:"force_when"`
	Anchors     map[EntityType]string   `yaml:"anchors"`
	Analysis    AnalysisTable           `yaml:"analysis"`
	Synthesis   SynthesisPolicy         `yaml:"synthesis"`
}

type TableDefaults struct {
	Jurisdiction string `yaml:"jurisdiction"`
}

type RoutingWeights struct {
	MaxVerticals int     `yaml:"max_verticals"`
	MinScore     float64 `yaml:"min_score"`
	FacetFloor   float64 `yaml:"facet_floor"`
	Facet        float64 `yaml:"facet_weight"`
	Entity       float64 `yaml:"entity_weight"`
	Recency      float64 `yaml:"recency_weight"`
	EntityStep   float64 `yaml:"entity_step"`
	EntityCap    float64 `yaml:"entity_cap"`
}

type RankingPolicy struct {
	TopKPerVertical  int     `yaml:"top_k_per_vertical"`
	RerankTopN       int     `yaml:"rerank_top_n"`
	FinalK           int     `yaml:"final_k"`
	MinPerVertical   int     `yaml:"min_per_vertical"`
	BoostExplicitRef bool    `yaml:"boost_explicit_refs"`
	ExplicitRefBoost float64 `yaml:"explicit_ref_boost"`
	SnippetChars     int     `yaml:"snippet_chars"`
}

// VerticalSpec describes one knowledge vertical.
type VerticalSpec struct {
	Name          string       `yaml:"name" json:"name"`
	Description   string       `yaml:"description" json:"description"`
	Collection    string       `yaml:"collection" json:"collection"`
	BaseWeight    float64      `yaml:"base_weight" json:"base_weight"`
	Facets        []string     `yaml:"facets" json:"facets"`
	EntityTypes   []EntityType `yaml:"entity_types" json:"entity_types"`
	Recency       float64      `yaml:"recency" json:"recency"`
	EntityFilters []EntityType `yaml:"entity_filters" json:"entity_filters"`
	FilterKeys    []string     `yaml:"filter_keys" json:"filter_keys"`
}

// BonusRule adds per-vertical bonuses when any of its conditions holds.
type BonusRule struct {
	Name  string             `yaml:"name"`
	When  RuleCondition      `yaml:"when"`
	Bonus map[string]float64 `yaml:"bonus"`
}

type RuleCondition struct {
	Entities   []EntityType `yaml:"entities"`
	Terms      []string     `yaml:"terms"`
	QueryTypes []QueryType  `yaml:"query_types"`
}

// ForcedPair names two verticals that are pulled in together.
type ForcedPair struct {
	Pair []string `yaml:"pair"`
}

type AnalysisTable struct {
	Normalizations   []Replacement       `yaml:"normalizations"`
	LegalPatterns    []string            `yaml:"legal_patterns"`
	GOPatterns       []string            `yaml:"go_patterns"`
	CasePatterns     []string            `yaml:"case_patterns"`
	Metrics          []TermGroup         `yaml:"metrics"`
	Schemes          []string            `yaml:"schemes"`
	Facets           []TermGroup         `yaml:"facets"`
	DistrictPattern  string              `yaml:"district_pattern"`
	MandalPattern    string              `yaml:"mandal_pattern"`
	SchoolTypes      []string            `yaml:"school_types"`
	TemporalKeywords []string            `yaml:"temporal_keywords"`
	YearPattern      string              `yaml:"year_pattern"`
	FiscalPattern    string              `yaml:"fiscal_year_pattern"`
	QueryTypes       []QueryTypeKeywords `yaml:"query_types"`
	Jurisdictions    []TermGroup         `yaml:"jurisdictions"`
	Synonyms         map[string][]string `yaml:"synonyms"`
}

type Replacement struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// TermGroup maps a canonical name to the phrases that signal it.
type TermGroup struct {
	Name  string   `yaml:"name"`
	Terms []string `yaml:"terms"`
}

type QueryTypeKeywords struct {
	Type     QueryType `yaml:"type"`
	Keywords []string  `yaml:"keywords"`
}

type SynthesisPolicy struct {
	Temperature       float64           `yaml:"temperature"`
	MaxTokens         int               `yaml:"max_tokens"`
	HedgePhrases      []string          `yaml:"hedge_phrases"`
	HedgeStep         float64           `yaml:"hedge_step"`
	HedgeCap          float64           `yaml:"hedge_cap"`
	DensityDivisor    float64           `yaml:"density_divisor"`
	CoverageTopN      int               `yaml:"coverage_top_n"`
	Weights           ConfidenceWeights `yaml:"confidence_weights"`
	InsufficientReply string            `yaml:"insufficient_reply"`
	MaxQuotes         int               `yaml:"max_quotes"`
}

type ConfidenceWeights struct {
	Density  float64 `yaml:"density"`
	Score    float64 `yaml:"score"`
	Coverage float64 `yaml:"coverage"`
	Hedge    float64 `yaml:"hedge"`
}

// Vertical returns the descriptor for name.
func (t *RoutingTable) Vertical(name string) (VerticalSpec, bool) {
	for _, v := range t.Verticals {
		if v.Name == name {
			return v, true
		}
	}
	return VerticalSpec{}, false
}

// VerticalIndex returns the declaration position of name or -1.
func (t *RoutingTable) VerticalIndex(name string) int {
	for i, v := range t.Verticals {
		if v.Name == name {
			return i
		}
	}
	return -1
}
