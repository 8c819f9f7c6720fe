package xlsx

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

const (
	resultsSheet = "results"
	summarySheet = "summary"
)

var reportHeader = []any{
	"row", "query", "answer", "confidence", "selected_verticals", "expected_verticals",
	"routing_hit", "citations", "plan_id", "rerank_fallback", "failure_reason", "stage", "processing_ms",
}

// ReadCases loads evaluation cases from the first sheet. The header row must
// contain a "query" column; "jurisdiction", "max_verticals" and
// "expected_verticals" (comma separated) are optional.
func ReadCases(r io.Reader) ([]domain.EvalCase, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read cases", fmt.Errorf("workbook has no sheets"))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read cases", fmt.Errorf("sheet %q is empty", sheets[0]))
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["query"]; !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read cases", fmt.Errorf("missing query column"))
	}

	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]domain.EvalCase, 0, len(rows)-1)
	for i, row := range rows[1:] {
		query := cell(row, "query")
		if query == "" {
			continue
		}
		c := domain.EvalCase{
			Row:          i + 2,
			Query:        query,
			Jurisdiction: cell(row, "jurisdiction"),
		}
		if raw := cell(row, "max_verticals"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, domain.WrapError(domain.ErrInvalidInput, "read cases", fmt.Errorf("row %d: max_verticals %q: %w", c.Row, raw, err))
			}
			c.MaxVerticals = n
		}
		for _, v := range strings.Split(cell(row, "expected_verticals"), ",") {
			if v = strings.TrimSpace(v); v != "" {
				c.ExpectedVerticals = append(c.ExpectedVerticals, v)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// WriteReport writes one results row per case plus a summary sheet.
func WriteReport(w io.Writer, results []domain.EvalResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &reportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetRowStyle(resultsSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	_ = f.SetColWidth(resultsSheet, "B", "C", 60)

	var answered, failed, hits int
	var confidenceSum float64
	for i, res := range results {
		row := reportRow(res)
		switch {
		case res.Err != nil:
			failed++
		default:
			answered++
			confidenceSum += res.Response.Answer.Confidence
			if res.RoutingHit(selectedVerticals(res.Response)) {
				hits++
			}
		}
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, cellName, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	meanConfidence, routingAccuracy := 0.0, 0.0
	if answered > 0 {
		meanConfidence = confidenceSum / float64(answered)
		routingAccuracy = float64(hits) / float64(answered)
	}
	summary := [][]any{
		{"metric", "value"},
		{"cases", len(results)},
		{"answered", answered},
		{"failed", failed},
		{"mean_confidence", round3(meanConfidence)},
		{"routing_accuracy", round3(routingAccuracy)},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	if err := f.SetRowStyle(summarySheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style summary header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func reportRow(res domain.EvalResult) []any {
	expected := strings.Join(res.Case.ExpectedVerticals, ",")
	if res.Err != nil {
		reason, stage := "error", ""
		if se, ok := domain.AsStageError(res.Err); ok {
			reason, stage = string(se.Reason), string(se.Stage)
		}
		return []any{res.Case.Row, res.Case.Query, res.Err.Error(), 0, "", expected, false, 0, "", false, reason, stage, 0}
	}
	resp := res.Response
	selected := selectedVerticals(resp)
	return []any{
		res.Case.Row,
		res.Case.Query,
		resp.Answer.Text,
		round3(resp.Answer.Confidence),
		strings.Join(selected, ","),
		expected,
		res.RoutingHit(selected),
		len(resp.Answer.Citations),
		resp.PlanID,
		resp.RerankFallback,
		"",
		"",
		resp.ProcessingMillis,
	}
}

func selectedVerticals(resp *domain.PolicyResponse) []string {
	out := make([]string, 0, len(resp.Retrieval))
	for v := range resp.Retrieval {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
