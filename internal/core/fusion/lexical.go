package fusion

import (
	"context"
	"strings"
	"unicode"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

// LexicalReranker re-scores evidence in process by blending the normalized
// retrieval score with query token overlap. It is used when no cross-encoder
// is configured.
type LexicalReranker struct{}

func (LexicalReranker) Rank(ctx context.Context, query string, items []domain.EvidenceItem, topK int) ([]domain.EvidenceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []domain.EvidenceItem{}, nil
	}
	if topK <= 0 || topK > len(items) {
		topK = len(items)
	}

	out := append([]domain.EvidenceItem(nil), items...)
	queryTokens := toTokenSet(query)

	minScore, maxScore := out[0].Score, out[0].Score
	for _, item := range out[1:] {
		if item.Score < minScore {
			minScore = item.Score
		}
		if item.Score > maxScore {
			maxScore = item.Score
		}
	}
	spread := maxScore - minScore
	normalize := func(v float64) float64 {
		if spread <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / spread
	}

	for i := range out {
		overlap := tokenOverlap(queryTokens, toTokenSet(out[i].Text))
		locatorHit := tokenHit(queryTokens, out[i].Locator+" "+out[i].ID)
		score := 0.60*normalize(out[i].Score) + 0.30*overlap + 0.10*locatorHit
		out[i].RerankScore = &score
	}
	SortByScore(out)
	return out[:topK], nil
}

func tokenOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := text[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func tokenHit(query map[string]struct{}, s string) float64 {
	if len(query) == 0 || strings.TrimSpace(s) == "" {
		return 0
	}
	for token := range toTokenSet(s) {
		if _, ok := query[token]; ok {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}
	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
