package search

import "strings"

// Character budgets for the embedded texts. Query text stays short so the
// query vector reflects the new decision, not boilerplate; the stored
// search text can afford more room.
const (
	maxQueryTextLen  = 800
	maxSearchTextLen = 2000
)

// SearchTextFields carries everything known about a completed decision that
// should influence future retrieval.
type SearchTextFields struct {
	What          string
	RawInput      string
	Context       string
	Rationale     string
	ExpectedOut   string
	Outcome       string
	Reflection    string
	SuccessDriver string
	FailureReason string
}

// BuildSearchText assembles the text that gets embedded and stored for a
// completed decision. The title is repeated once to weight it in both the
// vector and the trigram index.
func BuildSearchText(f SearchTextFields) string {
	primary := f.What
	if primary == "" {
		primary = f.RawInput
	}
	parts := []string{
		primary,
		primary,
		f.Context,
		f.Rationale,
		f.ExpectedOut,
		f.Outcome,
		f.Reflection,
		f.SuccessDriver,
		f.FailureReason,
	}
	return truncate(joinNonEmpty(parts), maxSearchTextLen)
}

// BuildQueryText assembles the retrieval query for a freshly parsed
// decision, before any outcome exists.
func BuildQueryText(what, context, rationale string) string {
	return truncate(joinNonEmpty([]string{what, context, rationale}), maxQueryTextLen)
}

func joinNonEmpty(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " . ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
