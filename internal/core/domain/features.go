package domain

// EntityType names a class of explicit reference found in a query.
type EntityType string

const (
	EntityLegalRefs     EntityType = "legal_refs"
	EntityGONumbers     EntityType = "go_numbers"
	EntityCaseCitations EntityType = "case_citations"
	EntityMetrics       EntityType = "metrics"
	EntitySchemes       EntityType = "schemes"
)

// EntityTypes lists every known entity type in a stable order.
var EntityTypes = []EntityType{
	EntityLegalRefs,
	EntityGONumbers,
	EntityCaseCitations,
	EntityMetrics,
	EntitySchemes,
}

func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

type QueryType string

const (
	QueryDefinitional  QueryType = "definitional"
	QueryStatistical   QueryType = "statistical"
	QueryTemporal      QueryType = "temporal"
	QueryAuthority     QueryType = "authority"
	QueryProcedural    QueryType = "procedural"
	QueryLegalValidity QueryType = "legal_validity"
	QueryGeneral       QueryType = "general"
)

type Entities struct {
	LegalRefs     []string `json:"legal_refs"`
	GONumbers     []string `json:"go_numbers"`
	CaseCitations []string `json:"case_citations"`
	Metrics       []string `json:"metrics"`
	Schemes       []string `json:"schemes"`
}

// Of returns the values extracted for one entity type.
func (e Entities) Of(t EntityType) []string {
	switch t {
	case EntityLegalRefs:
		return e.LegalRefs
	case EntityGONumbers:
		return e.GONumbers
	case EntityCaseCitations:
		return e.CaseCitations
	case EntityMetrics:
		return e.Metrics
	case EntitySchemes:
		return e.Schemes
	default:
		return nil
	}
}

func (e Entities) Has(t EntityType) bool {
	return len(e.Of(t)) > 0
}

func (e Entities) Count() int {
	n := 0
	for _, t := range EntityTypes {
		n += len(e.Of(t))
	}
	return n
}

// ExplicitRefs returns the references that identify specific documents.
func (e Entities) ExplicitRefs() []string {
	out := make([]string, 0, len(e.GONumbers)+len(e.LegalRefs)+len(e.CaseCitations))
	out = append(out, e.GONumbers...)
	out = append(out, e.LegalRefs...)
	out = append(out, e.CaseCitations...)
	return out
}

type Constraints struct {
	Districts   []string `json:"districts"`
	Mandals     []string `json:"mandals"`
	SchoolTypes []string `json:"school_types"`
}

type Temporal struct {
	HasTemporal bool     `json:"has_temporal"`
	References  []string `json:"references"`
	Years       []string `json:"years"`
	FiscalYears []string `json:"fiscal_years"`
}

// QueryFeatures is the structured reading of one query. It is produced once
// per request and treated as read-only afterwards.
type QueryFeatures struct {
	OriginalQuery   string      `json:"original_query"`
	NormalizedQuery string      `json:"normalized_query"`
	Entities        Entities    `json:"entities"`
	Facets          []string    `json:"facets"`
	Constraints     Constraints `json:"constraints"`
	Expansions      []string    `json:"expansions"`
	Temporal        Temporal    `json:"temporal"`
	Jurisdiction    string      `json:"jurisdiction"`
	QueryType       QueryType   `json:"query_type"`
}

func (f QueryFeatures) HasFacet(name string) bool {
	for _, facet := range f.Facets {
		if facet == name {
			return true
		}
	}
	return false
}
