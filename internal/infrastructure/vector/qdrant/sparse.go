package qdrant

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	queryBM25K     = 1.2
	maxSparseTerms = 128
)

// Question words carry no lexical signal for statute or order text.
var queryStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "for": {}, "to": {}, "in": {}, "on": {},
	"is": {}, "are": {}, "was": {}, "what": {}, "which": {}, "how": {}, "when": {},
	"who": {}, "does": {}, "do": {}, "under": {}, "and": {}, "or": {}, "by": {},
}

// encodeSparseQuery hashes query terms into a saturated term-frequency
// vector matching the collections' BM25-style sparse index.
func encodeSparseQuery(query string) sparseVector {
	tf := make(map[uint32]float64, 32)
	for _, token := range tokenizeAlphaNum(query) {
		if _, stop := queryStopwords[token]; stop {
			continue
		}
		tf[hashToken(token)]++
	}
	if len(tf) == 0 {
		return sparseVector{}
	}

	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > maxSparseTerms {
		indices = indices[:maxSparseTerms]
	}

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		f := tf[idx]
		values = append(values, float32(f*(queryBM25K+1)/(f+queryBM25K)))
	}
	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	if sum := h.Sum32(); sum != 0 {
		return sum
	}
	return 1
}

func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
