// Package fusion merges evidence from several verticals into one ranked list.
package fusion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

// Deduplicate collapses items that share a source (source URI, else id),
// keeping the highest-scored one, then drops items whose text is identical to
// an earlier survivor. Items without text are never dropped by the second
// pass. Output order follows first appearance. The result is idempotent.
func Deduplicate(items []domain.EvidenceItem) []domain.EvidenceItem {
	if len(items) == 0 {
		return []domain.EvidenceItem{}
	}

	best := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	bySource := make([]domain.EvidenceItem, 0, len(items))
	for _, item := range items {
		key := sourceKey(item)
		idx, ok := best[key]
		if !ok {
			best[key] = len(bySource)
			order = append(order, key)
			bySource = append(bySource, item)
			continue
		}
		if item.Score > bySource[idx].Score {
			bySource[idx] = item
		}
	}

	seen := make(map[string]struct{}, len(bySource))
	out := make([]domain.EvidenceItem, 0, len(bySource))
	for _, key := range order {
		item := bySource[best[key]]
		text := strings.TrimSpace(item.Text)
		if text == "" {
			out = append(out, item)
			continue
		}
		hash := contentHash(text)
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		out = append(out, item)
	}
	return out
}

func sourceKey(item domain.EvidenceItem) string {
	if item.SourceURI != "" {
		return "uri:" + item.SourceURI
	}
	return "id:" + item.Vertical + ":" + item.ID
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
