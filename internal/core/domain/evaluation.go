package domain

// EvalCase is one row of a batch evaluation sheet.
type EvalCase struct {
	Row               int
	Query             string
	Jurisdiction      string
	MaxVerticals      int
	ExpectedVerticals []string
}

type EvalResult struct {
	Case     EvalCase
	Response *PolicyResponse
	Err      error
}

// RoutingHit reports whether every expected vertical was selected. Cases
// without expectations count as hits.
func (r EvalResult) RoutingHit(selected []string) bool {
	if len(r.Case.ExpectedVerticals) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(selected))
	for _, v := range selected {
		have[v] = struct{}{}
	}
	for _, v := range r.Case.ExpectedVerticals {
		if _, ok := have[v]; !ok {
			return false
		}
	}
	return true
}
