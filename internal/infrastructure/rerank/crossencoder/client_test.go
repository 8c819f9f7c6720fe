package crossencoder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

func testItems() []domain.EvidenceItem {
	return []domain.EvidenceItem{
		{Vertical: "gos", ID: "a", Text: "alpha", Score: 0.9},
		{Vertical: "legal", ID: "b", Text: "beta", Score: 0.5},
		{Vertical: "judicial", ID: "c", Text: "gamma", Score: 0.7},
	}
}

func TestRankOrdersByCrossEncoderScore(t *testing.T) {
	var req rankRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = w.Write([]byte(`[{"index":1,"score":0.95},{"index":2,"score":0.3},{"index":0,"score":0.1}]`))
	}))
	defer server.Close()

	out, err := New(server.URL, Options{}).Rank(context.Background(), "q", testItems(), 2)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if req.Query != "q" || len(req.Texts) != 3 || req.Texts[2] != "gamma" {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(out) != 2 || out[0].ID != "b" || out[1].ID != "c" {
		t.Fatalf("unexpected order %+v", out)
	}
	if out[0].RerankScore == nil || *out[0].RerankScore != 0.95 || out[0].Score != 0.5 {
		t.Fatalf("expected rerank score set and retrieval score kept, got %+v", out[0])
	}
}

func TestRankReportsUnavailableOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, Options{}).Rank(context.Background(), "q", testItems(), 3)
	if !errors.Is(err, domain.ErrRerankUnavailable) {
		t.Fatalf("expected rerank unavailable, got %v", err)
	}
}

func TestRankRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":9,"score":0.9}]`))
	}))
	defer server.Close()

	_, err := New(server.URL, Options{}).Rank(context.Background(), "q", testItems(), 3)
	if !errors.Is(err, domain.ErrRerankUnavailable) {
		t.Fatalf("expected rerank unavailable, got %v", err)
	}
}
