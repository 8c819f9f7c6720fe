package fusion

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

type MergeOptions struct {
	TopK int
	// MinPerVertical guarantees each vertical present this many slots; 0 disables it.
	MinPerVertical    int
	BoostExplicitRefs bool
	Boost             float64
	Refs              []string
	SnippetChars      int
}

// Merge selects the final top-K evidence, assigns zero-based ranks and
// attaches citation stubs. Item identity is never changed.
func Merge(items []domain.EvidenceItem, opts MergeOptions) []domain.EvidenceItem {
	if len(items) == 0 {
		return []domain.EvidenceItem{}
	}
	out := append([]domain.EvidenceItem(nil), items...)
	if opts.BoostExplicitRefs {
		out = PrioritizeExplicitRefs(out, opts.Refs, opts.Boost)
	} else {
		SortByScore(out)
	}
	out = EnsureVerticalCoverage(out, opts.TopK, opts.MinPerVertical)

	for i := range out {
		out[i].FinalRank = i
		out[i].Citation = citationStub(out[i], opts.SnippetChars)
	}
	return out
}

// PrioritizeExplicitRefs adds boost for every reference found as a whole
// term (case-insensitive) in an item's text and re-sorts. "GO Ms No 45"
// does not match inside "GO Ms No 450".
func PrioritizeExplicitRefs(items []domain.EvidenceItem, refs []string, boost float64) []domain.EvidenceItem {
	out := append([]domain.EvidenceItem(nil), items...)
	if boost > 0 && len(refs) > 0 {
		patterns := make([]*regexp.Regexp, 0, len(refs))
		for _, ref := range refs {
			if re := refPattern(ref); re != nil {
				patterns = append(patterns, re)
			}
		}
		for i := range out {
			hits := 0
			for _, re := range patterns {
				if re.MatchString(out[i].Text) {
					hits++
				}
			}
			out[i].EntityBoost = float64(hits) * boost
		}
	}
	SortByScore(out)
	return out
}

// refPattern matches ref with flexible inner whitespace. Edges that are a
// letter or digit must not touch another letter or digit.
func refPattern(ref string) *regexp.Regexp {
	fields := strings.Fields(ref)
	if len(fields) == 0 {
		return nil
	}
	trimmed := strings.TrimSpace(ref)
	first, _ := utf8.DecodeRuneInString(trimmed)
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	for i, f := range fields {
		fields[i] = regexp.QuoteMeta(f)
	}
	body := strings.Join(fields, `\s+`)
	expr := `(?i)`
	if isWordRune(first) {
		expr += `(?:^|[^\p{L}\p{N}])`
	}
	expr += body
	if isWordRune(last) {
		expr += `(?:$|[^\p{L}\p{N}])`
	}
	return regexp.MustCompile(expr)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// EnsureVerticalCoverage picks topK items from a score-sorted list, first
// reserving up to minPerVertical slots for every vertical present, then
// filling the rest by score. The result keeps score order.
func EnsureVerticalCoverage(sorted []domain.EvidenceItem, topK, minPerVertical int) []domain.EvidenceItem {
	if topK <= 0 || topK > len(sorted) {
		topK = len(sorted)
	}
	if minPerVertical <= 0 {
		return append([]domain.EvidenceItem(nil), sorted[:topK]...)
	}

	picked := make([]bool, len(sorted))
	taken := 0
	perVertical := map[string]int{}
	var verticals []string
	for _, item := range sorted {
		if _, ok := perVertical[item.Vertical]; !ok {
			perVertical[item.Vertical] = 0
			verticals = append(verticals, item.Vertical)
		}
	}
	for _, v := range verticals {
		for i, item := range sorted {
			if taken >= topK || perVertical[v] >= minPerVertical {
				break
			}
			if item.Vertical == v && !picked[i] {
				picked[i] = true
				perVertical[v]++
				taken++
			}
		}
	}
	for i := range sorted {
		if taken >= topK {
			break
		}
		if !picked[i] {
			picked[i] = true
			taken++
		}
	}

	out := make([]domain.EvidenceItem, 0, taken)
	for i, item := range sorted {
		if picked[i] {
			out = append(out, item)
		}
	}
	return out
}

func citationStub(item domain.EvidenceItem, snippetChars int) *domain.Citation {
	return &domain.Citation{
		Vertical:   item.Vertical,
		DocID:      item.ID,
		Locator:    item.Locator,
		Snippet:    Snippet(item.Text, snippetChars),
		Score:      item.RankingScore(),
		SourceDate: item.SourceDate,
		SourceURI:  item.SourceURI,
	}
}

// Snippet returns at most n runes of text.
func Snippet(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
