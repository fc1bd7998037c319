// Package rowsort orders mutation rows by a list of named keys.
//
// Keys are resolved to typed field accessors once per call, so an invalid
// key set is rejected before any comparison happens. Sorting is stable and
// never reorders the caller's slice.
package rowsort

import (
	"errors"
	"fmt"
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"varianthunter/pkg/domain"
)

// ErrUnsupportedField is returned when a sort key does not name a numeric
// or textual row field.
var ErrUnsupportedField = errors.New("rowsort: unsupported field")

// Kind is the comparison class of a field.
type Kind int

const (
	// Numeric fields compare by subtraction.
	Numeric Kind = iota
	// Text fields compare with a locale-aware collator.
	Text
)

// Field is a typed accessor over a mutation row.
type Field struct {
	Name string
	Kind Kind
	num  func(domain.MutationRow) float64
	text func(domain.MutationRow) string
}

// DefaultKeys is the fallback when no sort keys are configured.
var (
	DefaultKeys = []string{"slope"}
	DefaultDesc = []bool{true}
)

// fields accepts both the camelCase table column names and the snake_case
// names of the row wire format (mut, item_key, p_value_*).
var fields = map[string]Field{
	"protein":               textField("protein", func(r domain.MutationRow) string { return r.Protein }),
	"mutation":              textField("mutation", func(r domain.MutationRow) string { return r.Mutation }),
	"mut":                   textField("mut", func(r domain.MutationRow) string { return r.Mutation }),
	"itemKey":               textField("itemKey", domain.MutationRow.ItemKey),
	"item_key":              textField("item_key", domain.MutationRow.ItemKey),
	"slope":                 numField("slope", func(r domain.MutationRow) float64 { return r.Slope }),
	"f1":                    numField("f1", func(r domain.MutationRow) float64 { return r.F1 }),
	"f2":                    numField("f2", func(r domain.MutationRow) float64 { return r.F2 }),
	"f3":                    numField("f3", func(r domain.MutationRow) float64 { return r.F3 }),
	"f4":                    numField("f4", func(r domain.MutationRow) float64 { return r.F4 }),
	"w1":                    numField("w1", func(r domain.MutationRow) float64 { return float64(r.W1) }),
	"w2":                    numField("w2", func(r domain.MutationRow) float64 { return float64(r.W2) }),
	"w3":                    numField("w3", func(r domain.MutationRow) float64 { return float64(r.W3) }),
	"w4":                    numField("w4", func(r domain.MutationRow) float64 { return float64(r.W4) }),
	"pValueWithMutation":    numField("pValueWithMutation", func(r domain.MutationRow) float64 { return r.PValueWithMutation }),
	"pValueWithoutMutation": numField("pValueWithoutMutation", func(r domain.MutationRow) float64 { return r.PValueWithoutMutation }),
	"pValueComparative":     numField("pValueComparative", func(r domain.MutationRow) float64 { return r.PValueComparative }),
	"p_value_with_mut":      numField("p_value_with_mut", func(r domain.MutationRow) float64 { return r.PValueWithMutation }),
	"p_value_without_mut":   numField("p_value_without_mut", func(r domain.MutationRow) float64 { return r.PValueWithoutMutation }),
	"p_value_comp":          numField("p_value_comp", func(r domain.MutationRow) float64 { return r.PValueComparative }),
}

func numField(name string, fn func(domain.MutationRow) float64) Field {
	return Field{Name: name, Kind: Numeric, num: fn}
}

func textField(name string, fn func(domain.MutationRow) string) Field {
	return Field{Name: name, Kind: Text, text: fn}
}

// Lookup resolves a key to its field accessor.
func Lookup(name string) (Field, bool) {
	f, ok := fields[name]
	return f, ok
}

// Validate checks that every key names a sortable field.
func Validate(keys []string) error {
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return fmt.Errorf("%w %q", ErrUnsupportedField, k)
		}
	}
	return nil
}

// Sort returns rows ordered by keys, which name row fields as accepted by
// Lookup (for example "slope", "f4", "pValueComparative" or "p_value_comp").
// desc[i] inverts the order of keys[i];
// a missing flag means ascending. With no keys, rows are ordered by slope
// descending. The input slice is left untouched.
func Sort(rows []domain.MutationRow, keys []string, desc []bool) ([]domain.MutationRow, error) {
	if len(keys) == 0 {
		keys, desc = DefaultKeys, DefaultDesc
	}
	resolved := make([]Field, len(keys))
	for i, k := range keys {
		f, ok := fields[k]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnsupportedField, k)
		}
		resolved[i] = f
	}
	out := slices.Clone(rows)
	if len(out) < 2 {
		return out, nil
	}
	col := collate.New(language.English)
	slices.SortStableFunc(out, func(a, b domain.MutationRow) int {
		for i, f := range resolved {
			res := compare(col, f, a, b)
			if res == 0 {
				continue
			}
			if i < len(desc) && desc[i] {
				return -res
			}
			return res
		}
		return 0
	})
	return out, nil
}

// Reverse returns a reversed copy of rows.
func Reverse(rows []domain.MutationRow) []domain.MutationRow {
	out := slices.Clone(rows)
	slices.Reverse(out)
	return out
}

func compare(col *collate.Collator, f Field, a, b domain.MutationRow) int {
	if f.Kind == Text {
		return col.CompareString(f.text(a), f.text(b))
	}
	// A NaN difference falls through both branches and counts as a tie.
	d := f.num(a) - f.num(b)
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}
