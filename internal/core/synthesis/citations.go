package synthesis

import (
	"regexp"
	"strings"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/fusion"
)

var (
	markerPattern = regexp.MustCompile(`\[([A-Za-z0-9_\-]+):([^\[\]]+)\]`)
	quotePattern  = regexp.MustCompile(`"([^"]{20,200})"`)
)

// ParseCitations resolves every marker in answer to its evidence item.
// Document ids and locators may both contain ':', so the marker body is
// matched against known ids rather than split. Markers naming unknown
// evidence are dropped and repeats collapse to the first occurrence.
func ParseCitations(answer string, evidence []domain.EvidenceItem, snippetChars int) []domain.Citation {
	seen := map[string]struct{}{}
	var out []domain.Citation
	for _, m := range markerPattern.FindAllStringSubmatch(answer, -1) {
		item, ok := resolveMarker(strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), evidence)
		if !ok {
			continue
		}
		key := item.Vertical + "\x00" + item.ID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, citationFor(item, snippetChars))
	}
	return out
}

// resolveMarker finds the item whose id heads body ("id" or "id:locator").
// The named vertical wins; otherwise the id must be unique across verticals.
// The longest matching id is preferred.
func resolveMarker(vertical, body string, evidence []domain.EvidenceItem) (domain.EvidenceItem, bool) {
	var (
		best      domain.EvidenceItem
		bestLen   = -1
		ambiguous bool
	)
	for _, sameVertical := range []bool{true, false} {
		for _, item := range evidence {
			if (item.Vertical == vertical) != sameVertical || !markerNames(body, item.ID) {
				continue
			}
			switch {
			case len(item.ID) > bestLen:
				best, bestLen, ambiguous = item, len(item.ID), false
			case len(item.ID) == bestLen && best.Vertical+"\x00"+best.ID != item.Vertical+"\x00"+item.ID:
				ambiguous = true
			}
		}
		if bestLen >= 0 {
			return best, !ambiguous
		}
	}
	return domain.EvidenceItem{}, false
}

func markerNames(body, id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	return body == id || strings.HasPrefix(body, id+":")
}

func citationFor(item domain.EvidenceItem, snippetChars int) domain.Citation {
	if item.Citation != nil {
		c := *item.Citation
		c.Snippet = fusion.Snippet(c.Snippet, snippetChars)
		return c
	}
	return domain.Citation{
		Vertical:   item.Vertical,
		DocID:      item.ID,
		Locator:    item.Locator,
		Snippet:    fusion.Snippet(item.Text, snippetChars),
		Score:      item.RankingScore(),
		SourceDate: item.SourceDate,
		SourceURI:  item.SourceURI,
	}
}

// ExtractQuotes returns quoted spans of the answer that appear verbatim in
// some evidence item.
func ExtractQuotes(answer string, evidence []domain.EvidenceItem, max int) []domain.EvidenceQuote {
	var out []domain.EvidenceQuote
	for _, m := range quotePattern.FindAllStringSubmatch(answer, -1) {
		if max > 0 && len(out) >= max {
			break
		}
		quote := strings.TrimSpace(m[1])
		needle := strings.ToLower(quote)
		for _, item := range evidence {
			if strings.Contains(strings.ToLower(item.Text), needle) {
				out = append(out, domain.EvidenceQuote{Text: quote, Vertical: item.Vertical, DocID: item.ID})
				break
			}
		}
	}
	return out
}
