package fusion

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
)

// RerankOutcome always carries a usable list. Cause is set when the reranker
// was skipped or failed and the list fell back to retrieval-score order.
type RerankOutcome struct {
	Items    []domain.EvidenceItem
	Fallback bool
	Cause    error
}

// Rerank asks the reranker for the top-N items. Fewer than two items are
// returned as-is without a call. An absent or failing reranker degrades to a
// retrieval-score sort, so a non-empty input always yields a non-empty,
// score-descending output.
func Rerank(ctx context.Context, reranker ports.Reranker, query string, items []domain.EvidenceItem, topN int) RerankOutcome {
	if len(items) == 0 {
		return RerankOutcome{Items: []domain.EvidenceItem{}}
	}
	in := append([]domain.EvidenceItem(nil), items...)
	if len(in) == 1 {
		return RerankOutcome{Items: in}
	}
	if topN <= 0 || topN > len(in) {
		topN = len(in)
	}
	if reranker == nil {
		return fallback(in, domain.ErrRerankUnavailable)
	}

	out, err := reranker.Rank(ctx, query, in, topN)
	if err != nil {
		return fallback(in, err)
	}
	if len(out) == 0 {
		return fallback(in, fmt.Errorf("%w: empty ranking", domain.ErrRerankUnavailable))
	}
	SortByScore(out)
	return RerankOutcome{Items: out}
}

func fallback(items []domain.EvidenceItem, cause error) RerankOutcome {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return lessIdentity(items[i], items[j])
	})
	return RerankOutcome{Items: items, Fallback: true, Cause: cause}
}

// SortByScore orders by effective score, breaking ties by vertical and id.
func SortByScore(items []domain.EvidenceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		si, sj := items[i].EffectiveScore(), items[j].EffectiveScore()
		if si != sj {
			return si > sj
		}
		return lessIdentity(items[i], items[j])
	})
}

func lessIdentity(a, b domain.EvidenceItem) bool {
	if a.Vertical != b.Vertical {
		return a.Vertical < b.Vertical
	}
	return a.ID < b.ID
}
