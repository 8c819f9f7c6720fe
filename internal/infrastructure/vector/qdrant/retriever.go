// Package qdrant retrieves evidence for one vertical from its Qdrant
// collection.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
	"github.com/kirillkom/policy-router/internal/infrastructure/resilience"
)

// Payload keys written by the ingestion side.
const (
	payloadDocID      = "doc_id"
	payloadLocator    = "locator"
	payloadText       = "text"
	payloadSourceDate = "source_date"
	payloadSourceURI  = "source_uri"
)

type Options struct {
	Timeout time.Duration
	// DenseVector and SparseVector name the collection's vectors. With a
	// sparse name set, search prefetches lexical and dense candidates and
	// rescores them by the dense vector.
	DenseVector        string
	SparseVector       string
	ResilienceExecutor *resilience.Executor
}

// Retriever implements ports.EvidenceRetriever.
type Retriever struct {
	baseURL      string
	httpClient   *http.Client
	embedder     ports.Embedder
	executor     *resilience.Executor
	denseVector  string
	sparseVector string
}

func NewRetriever(baseURL string, embedder ports.Embedder, opts Options) *Retriever {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Retriever{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		embedder:     embedder,
		executor:     opts.ResilienceExecutor,
		denseVector:  opts.DenseVector,
		sparseVector: opts.SparseVector,
	}
}

type scoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func (r *Retriever) Search(ctx context.Context, req domain.SearchRequest) ([]domain.EvidenceItem, error) {
	if req.Collection == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant search", fmt.Errorf("collection is required for vertical %q", req.Vertical))
	}
	vector, err := r.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query for %s: %w", req.Vertical, err)
	}

	body := r.searchBody(vector, req)
	path := fmt.Sprintf("/collections/%s/points/search", req.Collection)
	if r.sparseVector != "" {
		path = fmt.Sprintf("/collections/%s/points/query", req.Collection)
	}

	points, err := resilience.Call(ctx, r.executor, "qdrant.search."+req.Collection, func(ctx context.Context) ([]scoredPoint, error) {
		return r.post(ctx, path, body)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("qdrant search "+req.Collection, err, resilience.ClassifyHTTPError)
	}

	out := make([]domain.EvidenceItem, 0, len(points))
	for _, p := range points {
		out = append(out, toEvidence(req.Vertical, p))
	}
	return out, nil
}

func (r *Retriever) searchBody(vector []float32, req domain.SearchRequest) map[string]any {
	filter := buildFilter(req.Filters, req.FilterKeys)

	if r.sparseVector == "" {
		body := map[string]any{
			"limit":        req.TopK,
			"with_payload": true,
		}
		if r.denseVector != "" {
			body["vector"] = map[string]any{"name": r.denseVector, "vector": vector}
		} else {
			body["vector"] = vector
		}
		if filter != nil {
			body["filter"] = filter
		}
		return body
	}

	candidates := req.TopK * 2
	dense := map[string]any{"query": vector, "limit": candidates}
	if r.denseVector != "" {
		dense["using"] = r.denseVector
	}
	sparse := map[string]any{"query": encodeSparseQuery(req.Query), "using": r.sparseVector, "limit": candidates}
	body := map[string]any{
		"prefetch":     []map[string]any{sparse, dense},
		"query":        vector,
		"limit":        req.TopK,
		"with_payload": true,
	}
	if r.denseVector != "" {
		body["using"] = r.denseVector
	}
	if filter != nil {
		body["filter"] = filter
		sparse["filter"] = filter
		dense["filter"] = filter
	}
	return body
}

// buildFilter emits a must-match clause for each allowed key that has values.
// Keys outside allowed are ignored since the collection does not index them.
func buildFilter(filters map[string][]string, allowed []string) map[string]any {
	if len(filters) == 0 || len(allowed) == 0 {
		return nil
	}
	keys := make([]string, 0, len(allowed))
	for _, k := range allowed {
		if len(filters[k]) > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	must := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		values := filters[k]
		match := map[string]any{"value": values[0]}
		if len(values) > 1 {
			match = map[string]any{"any": values}
		}
		must = append(must, map[string]any{"key": k, "match": match})
	}
	return map[string]any{"must": must}
}

func (r *Retriever) post(ctx context.Context, path string, payload any) ([]scoredPoint, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.NewHTTPStatusError("qdrant", "search", resp)
	}

	var raw struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return decodePoints(raw.Result)
}

// decodePoints accepts both the search shape (a list) and the query shape
// ({"points": [...]}).
func decodePoints(raw json.RawMessage) ([]scoredPoint, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var points []scoredPoint
		if err := json.Unmarshal(trimmed, &points); err != nil {
			return nil, fmt.Errorf("decode search points: %w", err)
		}
		return points, nil
	}
	var wrapped struct {
		Points []scoredPoint `json:"points"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode query points: %w", err)
	}
	return wrapped.Points, nil
}

// pointID renders a Qdrant point id: UUID strings unquoted, unsigned
// integer ids as their literal digits.
func pointID(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		return s
	}
	return string(trimmed)
}

func toEvidence(vertical string, p scoredPoint) domain.EvidenceItem {
	id := getStringPayload(p.Payload, payloadDocID)
	if id == "" {
		id = pointID(p.ID)
	}
	item := domain.EvidenceItem{
		Vertical:   vertical,
		ID:         id,
		Locator:    getStringPayload(p.Payload, payloadLocator),
		Text:       getStringPayload(p.Payload, payloadText),
		Score:      p.Score,
		SourceDate: getStringPayload(p.Payload, payloadSourceDate),
		SourceURI:  getStringPayload(p.Payload, payloadSourceURI),
		Metadata:   map[string]string{},
	}
	for k, v := range p.Payload {
		switch k {
		case payloadDocID, payloadLocator, payloadText, payloadSourceDate, payloadSourceURI:
			continue
		}
		switch v.(type) {
		case string, float64, bool:
			item.Metadata[k] = fmt.Sprintf("%v", v)
		}
	}
	return item
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
