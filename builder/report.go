package builder

import (
	"time"

	"github.com/gofhir/codegen/ir"
)

// Reasons recorded for skipped items.
const (
	ReasonUnknownKind     = "unknown_kind"
	ReasonParseError      = "parse_error"
	ReasonConversionError = "conversion_error"
	ReasonDuplicateType   = "duplicate_type"
	ReasonSearchParameter = "invalid_search_parameter"
)

// SkippedItem is a definition or search parameter left out of the graph.
type SkippedItem struct {
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// ConstraintIssue is an invariant whose expression does not compile.
type ConstraintIssue struct {
	Type       string                `json:"type"`
	Path       string                `json:"path"`
	Key        string                `json:"key"`
	Severity   ir.ConstraintSeverity `json:"severity"`
	Expression string                `json:"expression"`
	Error      string                `json:"error"`
}

// Report lists everything a build dropped or flagged.
type Report struct {
	BuildID          string            `json:"build_id"`
	Duration         time.Duration     `json:"duration"`
	Definitions      int               `json:"definitions"`
	SearchParameters int               `json:"search_parameters"`
	Skipped          []SkippedItem     `json:"skipped,omitempty"`
	ConstraintIssues []ConstraintIssue `json:"constraint_issues,omitempty"`
}

func (r *Report) skip(name, url, reason string, err error) {
	item := SkippedItem{Name: name, URL: url, Reason: reason}
	if err != nil {
		item.Error = err.Error()
	}
	r.Skipped = append(r.Skipped, item)
}

// SkippedByReason returns the skipped items with the given reason.
func (r *Report) SkippedByReason(reason string) []SkippedItem {
	var out []SkippedItem
	for _, s := range r.Skipped {
		if s.Reason == reason {
			out = append(out, s)
		}
	}
	return out
}

// Clean reports whether nothing was skipped or flagged.
func (r *Report) Clean() bool {
	return len(r.Skipped) == 0 && len(r.ConstraintIssues) == 0
}
