package synthesis

import (
	"fmt"
	"strings"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

// Marker is the citation tag the model must copy into its answer.
func Marker(item domain.EvidenceItem) string {
	return fmt.Sprintf("[%s:%s:%s]", item.Vertical, item.ID, item.Locator)
}

func buildContext(evidence []domain.EvidenceItem) string {
	blocks := make([]string, 0, len(evidence))
	for _, item := range evidence {
		header := Marker(item)
		if item.SourceDate != "" {
			header += " (Date: " + item.SourceDate + ")"
		}
		blocks = append(blocks, header+"\n"+strings.TrimSpace(item.Text))
	}
	return strings.Join(blocks, "\n---\n")
}

func buildPrompt(query string, features domain.QueryFeatures, evidence []domain.EvidenceItem) string {
	jurisdiction := features.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = "the relevant state"
	}
	return fmt.Sprintf(`You answer education policy questions for %s using only the evidence below.

Rules:
1. Support every factual claim with a citation copied exactly from an evidence header, e.g. [gos:GO-45:para 3].
2. Do not use knowledge outside the evidence.
3. If sources conflict, say so and state which one controls (statute over order, later order over earlier, court ruling over both where applicable).
4. If the evidence does not cover part of the question, say what is missing.
5. Keep direct quotes under 200 characters and in double quotes.

Question:
%s

Evidence:
%s
`, jurisdiction, query, buildContext(evidence))
}
