package domain

import "time"

// ScoreBreakdown keeps every term that went into a vertical score.
type ScoreBreakdown struct {
	Base     float64  `json:"base"`
	Facet    float64  `json:"facet"`
	Entity   float64  `json:"entity"`
	Recency  float64  `json:"recency"`
	Rules    float64  `json:"rules"`
	RuleHits []string `json:"rule_hits,omitempty"`
}

type VerticalScore struct {
	Vertical   string         `json:"vertical"`
	Score      float64        `json:"score"`
	Components ScoreBreakdown `json:"components"`
}

// RetrievalConfig is what one vertical receives from the plan.
type RetrievalConfig struct {
	Vertical   string              `json:"vertical"`
	Collection string              `json:"collection"`
	TopK       int                 `json:"top_k"`
	FacetHints []string            `json:"facet_hints"`
	Filters    map[string][]string `json:"filters"`
	Expansions []string            `json:"expansions,omitempty"`
}

// ExecutionPlan is the immutable routing decision for one query.
type ExecutionPlan struct {
	ID              string                     `json:"plan_id"`
	Query           string                     `json:"query"`
	CreatedAt       time.Time                  `json:"created_at"`
	Features        QueryFeatures              `json:"features"`
	Scores          []VerticalScore            `json:"scores"`
	Selected        []string                   `json:"selected_verticals"`
	ForcedAdditions []string                   `json:"forced_additions,omitempty"`
	Configs         map[string]RetrievalConfig `json:"retrieval_configs"`
	Rationale       string                     `json:"rationale"`
	UserContext     map[string]any             `json:"user_context,omitempty"`
	MaxVerticals    int                        `json:"max_verticals"`
}

// ScoreOf returns the score recorded for vertical, or zero.
func (p *ExecutionPlan) ScoreOf(vertical string) float64 {
	for _, s := range p.Scores {
		if s.Vertical == vertical {
			return s.Score
		}
	}
	return 0
}
