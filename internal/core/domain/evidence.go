package domain

import "time"

// EvidenceItem is one retrieved passage. Retrieval fills the identity and
// content fields; fusion adds the rerank score, boost, rank and citation.
type EvidenceItem struct {
	Vertical    string            `json:"vertical"`
	ID          string            `json:"id"`
	Locator     string            `json:"locator"`
	Text        string            `json:"text"`
	Score       float64           `json:"score"`
	SourceDate  string            `json:"source_date"`
	SourceURI   string            `json:"source_uri"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RerankScore *float64          `json:"rerank_score,omitempty"`
	EntityBoost float64           `json:"entity_boost,omitempty"`
	FinalRank   int               `json:"final_rank"`
	Citation    *Citation         `json:"citation,omitempty"`
}

// RankingScore is the best available relevance score before boosting.
func (e EvidenceItem) RankingScore() float64 {
	if e.RerankScore != nil {
		return *e.RerankScore
	}
	return e.Score
}

func (e EvidenceItem) EffectiveScore() float64 {
	return e.RankingScore() + e.EntityBoost
}

type Citation struct {
	Vertical   string  `json:"vertical"`
	DocID      string  `json:"doc_id"`
	Locator    string  `json:"locator"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
	SourceDate string  `json:"source_date"`
	SourceURI  string  `json:"source_uri"`
}

// EvidenceQuote is a verbatim span of the answer found in an evidence item.
type EvidenceQuote struct {
	Text     string `json:"text"`
	Vertical string `json:"vertical"`
	DocID    string `json:"doc_id"`
}

type Answer struct {
	Text           string          `json:"answer"`
	Citations      []Citation      `json:"citations"`
	Confidence     float64         `json:"confidence"`
	UsedVerticals  []string        `json:"used_verticals"`
	PlanID         string          `json:"plan_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Quotes         []EvidenceQuote `json:"quotes,omitempty"`
	Degraded       bool            `json:"degraded,omitempty"`
	DegradedReason string          `json:"degraded_reason,omitempty"`
}

// SearchRequest is one vertical retrieval call.
type SearchRequest struct {
	Vertical   string
	Collection string
	Query      string
	TopK       int
	Filters    map[string][]string
	FilterKeys []string
}

type GenerationOptions struct {
	Temperature float64
	MaxTokens   int
}
