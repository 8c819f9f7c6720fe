// Package crossencoder scores query/passage pairs with a text-embeddings-
// inference style /rerank endpoint.
package crossencoder

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
	"github.com/kirillkom/policy-router/internal/infrastructure/resilience"
)

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

// Client implements ports.Reranker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
	}
}

type rankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

type rankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rank returns copies of the top-K items with RerankScore set, best first.
// Any transport, status or circuit failure is reported as
// domain.ErrRerankUnavailable.
func (c *Client) Rank(ctx context.Context, query string, items []domain.EvidenceItem, topK int) ([]domain.EvidenceItem, error) {
	if len(items) == 0 {
		return []domain.EvidenceItem{}, nil
	}
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}

	results, err := resilience.Call(ctx, c.executor, "rerank.cross_encoder", func(ctx context.Context) ([]rankResult, error) {
		return c.post(ctx, rankRequest{Query: query, Texts: texts, Truncate: true})
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerankUnavailable, "cross-encoder rank", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	out := make([]domain.EvidenceItem, 0, topK)
	seen := make(map[int]struct{}, topK)
	for _, r := range results {
		if len(out) == topK {
			break
		}
		if r.Index < 0 || r.Index >= len(items) {
			return nil, domain.WrapError(domain.ErrRerankUnavailable, "cross-encoder rank", fmt.Errorf("result index %d out of range", r.Index))
		}
		if _, dup := seen[r.Index]; dup {
			continue
		}
		seen[r.Index] = struct{}{}
		item := items[r.Index]
		score := r.Score
		item.RerankScore = &score
		out = append(out, item)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, payload rankRequest) ([]rankResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, resilience.NewHTTPStatusError("reranker", "rank", resp)
	}

	var out []rankResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return out, nil
}
