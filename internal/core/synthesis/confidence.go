package synthesis

import (
	"math"
	"regexp"
	"strings"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

// ConfidenceSignals are the inputs of the confidence estimate, each in [0,1].
type ConfidenceSignals struct {
	Density      float64
	AvgScore     float64
	Coverage     float64
	HedgePenalty float64
}

// Score combines the signals with non-negative weights. It is non-decreasing
// in density, average score and coverage and non-increasing in the hedge
// penalty.
func (s ConfidenceSignals) Score(w domain.ConfidenceWeights) float64 {
	v := w.Density*clamp01(s.Density) +
		w.Score*clamp01(s.AvgScore) +
		w.Coverage*clamp01(s.Coverage) +
		w.Hedge*(1-clamp01(s.HedgePenalty))
	return math.Round(clamp01(v)*100) / 100
}

type confidenceEstimator struct {
	policy domain.SynthesisPolicy
	hedges []*regexp.Regexp
}

func newConfidenceEstimator(policy domain.SynthesisPolicy) confidenceEstimator {
	hedges := make([]*regexp.Regexp, 0, len(policy.HedgePhrases))
	for _, phrase := range policy.HedgePhrases {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		hedges = append(hedges, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(phrase)+`\b`))
	}
	return confidenceEstimator{policy: policy, hedges: hedges}
}

func (e confidenceEstimator) signals(answer string, citations []domain.Citation, evidence []domain.EvidenceItem) ConfidenceSignals {
	var s ConfidenceSignals

	words := float64(len(strings.Fields(answer)))
	per100 := math.Max(words/100, 1)
	divisor := e.policy.DensityDivisor
	if divisor <= 0 {
		divisor = 3
	}
	s.Density = math.Min(float64(len(citations))/per100/divisor, 1)

	if len(citations) > 0 {
		total := 0.0
		for _, c := range citations {
			total += clamp01(c.Score)
		}
		s.AvgScore = total / float64(len(citations))
	}

	topN := e.policy.CoverageTopN
	if topN <= 0 {
		topN = 5
	}
	if topN > len(evidence) {
		topN = len(evidence)
	}
	if topN > 0 {
		cited := make(map[string]struct{}, len(citations))
		for _, c := range citations {
			cited[c.Vertical+"\x00"+c.DocID] = struct{}{}
		}
		hits := 0
		for _, item := range evidence[:topN] {
			if _, ok := cited[item.Vertical+"\x00"+item.ID]; ok {
				hits++
			}
		}
		s.Coverage = float64(hits) / float64(topN)
	}

	hits := 0
	for _, re := range e.hedges {
		hits += len(re.FindAllStringIndex(answer, -1))
	}
	s.HedgePenalty = math.Min(float64(hits)*e.policy.HedgeStep, e.policy.HedgeCap)
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
