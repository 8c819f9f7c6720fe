package domain

import "time"

// FusionOptions lets a caller override the fusion refinements.
type FusionOptions struct {
	MinPerVertical    *int  `json:"min_per_vertical,omitempty"`
	BoostExplicitRefs *bool `json:"boost_explicit_refs,omitempty"`
}

type PolicyRequest struct {
	RequestID    string         `json:"request_id,omitempty"`
	Query        string         `json:"query"`
	UserContext  map[string]any `json:"user_context,omitempty"`
	Jurisdiction string         `json:"jurisdiction,omitempty"`
	MaxVerticals int            `json:"max_verticals,omitempty"`
	Fusion       FusionOptions  `json:"fusion,omitempty"`
}

type RetrievalStatus string

const (
	RetrievalOK     RetrievalStatus = "ok"
	RetrievalEmpty  RetrievalStatus = "empty"
	RetrievalFailed RetrievalStatus = "failed"
)

// VerticalStatus records the outcome of one vertical retrieval call.
type VerticalStatus struct {
	Status    RetrievalStatus `json:"status"`
	Count     int             `json:"count"`
	LatencyMS int64           `json:"latency_ms"`
	Error     string          `json:"error,omitempty"`
}

type PolicyResponse struct {
	RequestID        string                    `json:"request_id"`
	Query            string                    `json:"query"`
	Answer           Answer                    `json:"answer"`
	PlanID           string                    `json:"plan_id"`
	Rationale        string                    `json:"rationale"`
	Retrieval        map[string]VerticalStatus `json:"retrieval"`
	RerankFallback   bool                      `json:"rerank_fallback"`
	EvidenceCount    int                       `json:"evidence_count"`
	ProcessingMillis int64                     `json:"processing_time_ms"`
}

// VerticalInfo is the public description of a configured vertical.
type VerticalInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Collection  string   `json:"collection"`
	BaseWeight  float64  `json:"base_weight"`
	Facets      []string `json:"facets"`
}

type Feedback struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Rating    int       `json:"rating"`
	Comments  string    `json:"comments,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
