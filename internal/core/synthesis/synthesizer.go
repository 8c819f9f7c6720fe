// Package synthesis builds the grounded prompt, calls the generator and
// turns its output into a cited answer with a confidence estimate.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
)

type Input struct {
	Query         string
	Features      domain.QueryFeatures
	Evidence      []domain.EvidenceItem
	PlanID        string
	UsedVerticals []string
}

type Synthesizer struct {
	generator    ports.TextGenerator
	policy       domain.SynthesisPolicy
	snippetChars int
	confidence   confidenceEstimator
	now          func() time.Time
}

func NewSynthesizer(generator ports.TextGenerator, table *domain.RoutingTable) *Synthesizer {
	return &Synthesizer{
		generator:    generator,
		policy:       table.Synthesis,
		snippetChars: table.Ranking.SnippetChars,
		confidence:   newConfidenceEstimator(table.Synthesis),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Synthesize never returns an error: empty evidence yields the fixed
// insufficient-evidence answer without calling the generator, and a failed
// generation yields a degraded answer with zero confidence.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) domain.Answer {
	answer := domain.Answer{
		PlanID:        in.PlanID,
		UsedVerticals: in.UsedVerticals,
		Timestamp:     s.now(),
		Citations:     []domain.Citation{},
	}

	if len(in.Evidence) == 0 {
		answer.Text = strings.TrimSpace(s.policy.InsufficientReply)
		return answer
	}
	if s.generator == nil {
		return degrade(answer, fmt.Errorf("generator is not configured"))
	}

	text, err := s.generator.Generate(ctx, buildPrompt(in.Query, in.Features, in.Evidence), domain.GenerationOptions{
		Temperature: s.policy.Temperature,
		MaxTokens:   s.policy.MaxTokens,
	})
	if err != nil {
		return degrade(answer, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return degrade(answer, fmt.Errorf("generator returned empty text"))
	}

	citations := ParseCitations(text, in.Evidence, s.snippetChars)
	answer.Text = text
	answer.Citations = citations
	answer.Confidence = s.confidence.signals(text, citations, in.Evidence).Score(s.policy.Weights)
	answer.Quotes = ExtractQuotes(text, in.Evidence, s.policy.MaxQuotes)
	return answer
}

func degrade(answer domain.Answer, err error) domain.Answer {
	answer.Text = "Unable to generate an answer from the retrieved evidence: " + err.Error()
	answer.Confidence = 0
	answer.Degraded = true
	answer.DegradedReason = string(domain.ReasonSynthesisFailed) + ": " + err.Error()
	return answer
}
