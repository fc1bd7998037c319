package core

import (
	"fmt"
	"slices"

	"varianthunter/internal/rowsort"
	"varianthunter/pkg/domain"
)

// TopBottomTitle is the plot title used when no rows are selected and the
// filtered set is large enough to show the extremes.
const TopBottomTitle = `<span style="color:#1b9e77">Top 5 increasing</span> and <span style="color:#d95f02">top 5 decreasing</span> mutations`

// topBottomN rows are taken from each end of the slope ordering.
const topBottomN = 5

// Plot is the row set and title for an analysis chart.
type Plot struct {
	Title string        `json:"title"`
	Rows  []MutationRow `json:"rows"`
}

// AnalysisSummary is the list projection of an analysis.
type AnalysisSummary struct {
	ID      int     `json:"id"`
	Starred bool    `json:"starred"`
	Query   Query   `json:"query"`
	Tag     *string `json:"tag"`
}

// Summary modes filter on whether an analysis selected a lineage.
const (
	ModeLineageIndependent = "li"
	ModeLineageSpecific    = "ls"
)

// SummaryFilter narrows AnalysesSummary. Zero values disable a filter.
type SummaryFilter struct {
	Starred     bool        `json:"starred" form:"starred"`
	Mode        string      `json:"mode" form:"mode" validate:"omitempty,oneof=li ls"`
	Granularity Granularity `json:"granularity" form:"granularity" validate:"omitempty,oneof=continent country region"`
}

// EffectiveOpt resolves the configuration driving an analysis's views: its
// LocalOpt when useLocalOpt is set or it has no tag, else its tag's options.
// A dangling tag resolves to the LocalOpt.
func EffectiveOpt(view domain.RuleView, id int) (Opt, bool) {
	a, ok := view.FindAnalysis(id)
	if !ok {
		return Opt{}, false
	}
	local, ok := view.FindLocalOpt(id)
	if !ok {
		return Opt{}, false
	}
	if local.UseLocalOpt || a.Tag == nil {
		return local.Opt, true
	}
	tag, ok := view.FindTag(*a.Tag)
	if !ok {
		return local.Opt, true
	}
	return tag.Opt, true
}

// FilteredRows keeps the rows matching the effective protein and mutation
// filters, in storage order.
func FilteredRows(view domain.RuleView, id int) ([]MutationRow, bool) {
	a, ok := view.FindAnalysis(id)
	if !ok {
		return nil, false
	}
	opt, ok := EffectiveOpt(view, id)
	if !ok {
		return nil, false
	}
	return filterRows(a.Rows, opt), true
}

func filterRows(rows []MutationRow, opt Opt) []MutationRow {
	muts := keySet(opt.Muts)
	out := make([]MutationRow, 0, len(rows))
	for _, r := range rows {
		if opt.Protein != nil && r.Protein != *opt.Protein {
			continue
		}
		if len(muts) > 0 {
			if _, ok := muts[r.ItemKey()]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// SelectedRows intersects the filtered rows with the manual row selection.
// No selection yields an empty slice.
func SelectedRows(view domain.RuleView, id int) ([]MutationRow, bool) {
	filtered, ok := FilteredRows(view, id)
	if !ok {
		return nil, false
	}
	opt, _ := EffectiveOpt(view, id)
	return selectRows(filtered, opt.RowKeys), true
}

func selectRows(filtered []MutationRow, rowKeys []string) []MutationRow {
	out := []MutationRow{}
	if len(rowKeys) == 0 {
		return out
	}
	keys := keySet(rowKeys)
	for _, r := range filtered {
		if _, ok := keys[r.ItemKey()]; ok {
			out = append(out, r)
		}
	}
	return out
}

// PlotInfo derives the chart rows of an analysis. With a manual selection it
// returns the selected rows in reversed effective sort order; otherwise the
// filtered rows ascending by slope, cut to the five lowest and five highest
// when at least ten are available. ok is false for an unknown id; err reports
// an unsupported sort key.
func PlotInfo(view domain.RuleView, id int) (plot Plot, ok bool, err error) {
	filtered, ok := FilteredRows(view, id)
	if !ok {
		return Plot{}, false, nil
	}
	opt, _ := EffectiveOpt(view, id)
	if len(opt.RowKeys) > 0 {
		sorted, err := rowsort.Sort(selectRows(filtered, opt.RowKeys), opt.SortingIndexes, opt.IsDescSorting)
		if err != nil {
			return Plot{}, true, err
		}
		return Plot{
			Title: fmt.Sprintf("Selected mutations (%d)", len(opt.RowKeys)),
			Rows:  rowsort.Reverse(sorted),
		}, true, nil
	}
	asc, err := rowsort.Sort(filtered, []string{"slope"}, []bool{false})
	if err != nil {
		return Plot{}, true, err
	}
	if len(asc) >= 2*topBottomN {
		rows := make([]MutationRow, 0, 2*topBottomN)
		rows = append(rows, asc[:topBottomN]...)
		rows = append(rows, asc[len(asc)-topBottomN:]...)
		return Plot{Title: TopBottomTitle, Rows: rows}, true, nil
	}
	return Plot{Title: fmt.Sprintf("All mutations (%d)", len(asc)), Rows: asc}, true, nil
}

// SortedRows returns the filtered rows ordered by the effective sort keys.
func SortedRows(view domain.RuleView, id int) ([]MutationRow, bool, error) {
	filtered, ok := FilteredRows(view, id)
	if !ok {
		return nil, false, nil
	}
	opt, _ := EffectiveOpt(view, id)
	sorted, err := rowsort.Sort(filtered, opt.SortingIndexes, opt.IsDescSorting)
	return sorted, true, err
}

// UseLocalOpt reports the scope flag of an analysis.
func UseLocalOpt(view domain.RuleView, id int) (useLocal bool, ok bool) {
	local, ok := view.FindLocalOpt(id)
	if !ok {
		return false, false
	}
	return local.UseLocalOpt, true
}

// AnalysesSummary lists analyses newest first (descending numeric id).
func AnalysesSummary(view domain.RuleView, filter SummaryFilter) []AnalysisSummary {
	analyses := view.ListAnalyses()
	out := make([]AnalysisSummary, 0, len(analyses))
	for _, a := range analyses {
		if filter.Starred && !a.Starred {
			continue
		}
		switch filter.Mode {
		case ModeLineageIndependent:
			if a.Query.LineageSpecific() {
				continue
			}
		case ModeLineageSpecific:
			if !a.Query.LineageSpecific() {
				continue
			}
		}
		if filter.Granularity != "" && a.Query.Granularity != filter.Granularity {
			continue
		}
		out = append(out, AnalysisSummary{ID: a.ID, Starred: a.Starred, Query: a.Query, Tag: a.Tag})
	}
	slices.SortFunc(out, func(x, y AnalysisSummary) int { return y.ID - x.ID })
	return out
}

// CurrentAnalysis returns the analysis the current pointer references.
func CurrentAnalysis(view domain.RuleView) (Analysis, bool) {
	id, ok := view.CurrentAnalysisID()
	if !ok {
		return Analysis{}, false
	}
	return view.FindAnalysis(id)
}

// CurrentOpt returns the LocalOpt of the current analysis.
func CurrentOpt(view domain.RuleView) (LocalOpt, bool) {
	id, ok := view.CurrentAnalysisID()
	if !ok {
		return LocalOpt{}, false
	}
	return view.FindLocalOpt(id)
}

// CurrentTagOpt returns the tag of the current analysis. A missing or
// dangling tag yields ok=false.
func CurrentTagOpt(view domain.RuleView) (Tag, bool) {
	a, ok := CurrentAnalysis(view)
	if !ok || a.Tag == nil {
		return Tag{}, false
	}
	return view.FindTag(*a.Tag)
}

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
