package rowsort

import (
	"errors"
	"math"
	"testing"

	"varianthunter/pkg/domain"
)

func row(mut string, slope float64) domain.MutationRow {
	return domain.MutationRow{Protein: "S", Mutation: mut, Slope: slope}
}

func keys(rows []domain.MutationRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ItemKey()
	}
	return out
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSortDescendingBySlope(t *testing.T) {
	rows := []domain.MutationRow{row("A", -1), row("B", 2), row("C", 0)}
	got, err := Sort(rows, []string{"slope"}, []bool{true})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	want := []string{"S_B", "S_C", "S_A"}
	if !equalKeys(keys(got), want) {
		t.Fatalf("expected %v, got %v", want, keys(got))
	}
	if rows[0].Mutation != "A" || rows[1].Mutation != "B" {
		t.Fatalf("input slice must not be reordered: %v", keys(rows))
	}
}

func TestSortEmptyKeysFallsBackToSlopeDescending(t *testing.T) {
	rows := []domain.MutationRow{row("A", 1), row("B", 3), row("C", 2)}
	got, err := Sort(rows, nil, nil)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if !equalKeys(keys(got), []string{"S_B", "S_C", "S_A"}) {
		t.Fatalf("unexpected fallback order %v", keys(got))
	}
}

func TestSortMultiKeyAndMissingDescFlag(t *testing.T) {
	rows := []domain.MutationRow{
		{Protein: "S", Mutation: "A", Slope: 1, W4: 5},
		{Protein: "N", Mutation: "B", Slope: 1, W4: 9},
		{Protein: "S", Mutation: "C", Slope: 2, W4: 1},
	}
	got, err := Sort(rows, []string{"slope", "w4"}, []bool{true})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	want := []string{"S_C", "S_A", "N_B"}
	if !equalKeys(keys(got), want) {
		t.Fatalf("expected %v, got %v", want, keys(got))
	}
}

func TestSortTextFieldsCollate(t *testing.T) {
	rows := []domain.MutationRow{
		{Protein: "orf1a", Mutation: "X"},
		{Protein: "ORF1b", Mutation: "Y"},
		{Protein: "E", Mutation: "Z"},
	}
	got, err := Sort(rows, []string{"protein"}, []bool{false})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	want := []string{"E_Z", "orf1a_X", "ORF1b_Y"}
	if !equalKeys(keys(got), want) {
		t.Fatalf("expected %v, got %v", want, keys(got))
	}
}

func TestSortIsStableAndIdempotent(t *testing.T) {
	rows := []domain.MutationRow{row("A", 1), row("B", 1), row("C", 0), row("D", 1)}
	first, err := Sort(rows, []string{"slope"}, []bool{true})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if !equalKeys(keys(first), []string{"S_A", "S_B", "S_D", "S_C"}) {
		t.Fatalf("ties must keep input order: %v", keys(first))
	}
	second, err := Sort(first, []string{"slope"}, []bool{true})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if !equalKeys(keys(first), keys(second)) {
		t.Fatalf("expected idempotent sort, got %v then %v", keys(first), keys(second))
	}
}

func TestSortAscendingReversedEqualsDescending(t *testing.T) {
	rows := []domain.MutationRow{row("A", 0.5), row("B", -3), row("C", 7), row("D", 2)}
	for _, key := range []string{"slope", "mutation"} {
		asc, err := Sort(rows, []string{key}, []bool{false})
		if err != nil {
			t.Fatalf("sort asc: %v", err)
		}
		desc, err := Sort(rows, []string{key}, []bool{true})
		if err != nil {
			t.Fatalf("sort desc: %v", err)
		}
		if !equalKeys(keys(Reverse(asc)), keys(desc)) {
			t.Fatalf("%s: reversed asc %v != desc %v", key, keys(Reverse(asc)), keys(desc))
		}
	}
}

func TestSortNaNCountsAsTie(t *testing.T) {
	rows := []domain.MutationRow{
		{Protein: "S", Mutation: "A", PValueComparative: math.NaN()},
		{Protein: "S", Mutation: "B", PValueComparative: 0.01},
	}
	got, err := Sort(rows, []string{"pValueComparative"}, []bool{false})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if !equalKeys(keys(got), []string{"S_A", "S_B"}) {
		t.Fatalf("NaN must tie and keep order, got %v", keys(got))
	}
}

func TestSortUnknownFieldFails(t *testing.T) {
	rows := []domain.MutationRow{row("A", 1), row("B", 2)}
	_, err := Sort(rows, []string{"slope", "colour"}, []bool{true, false})
	if !errors.Is(err, ErrUnsupportedField) {
		t.Fatalf("expected ErrUnsupportedField, got %v", err)
	}
	if err := Validate([]string{"f1", "itemKey"}); err != nil {
		t.Fatalf("validate known keys: %v", err)
	}
	if _, ok := Lookup("w3"); !ok {
		t.Fatalf("expected w3 lookup")
	}
}

func TestSortAcceptsWireFieldNames(t *testing.T) {
	rows := []domain.MutationRow{row("A", 0), row("B", 0), row("C", 0)}
	rows[0].PValueComparative = 0.5
	rows[1].PValueComparative = 0.01
	rows[2].PValueComparative = 0.2

	camel, err := Sort(rows, []string{"pValueComparative"}, nil)
	if err != nil {
		t.Fatalf("sort camelCase: %v", err)
	}
	snake, err := Sort(rows, []string{"p_value_comp"}, nil)
	if err != nil {
		t.Fatalf("sort snake_case: %v", err)
	}
	want := []string{"S_B", "S_C", "S_A"}
	if !equalKeys(keys(camel), want) || !equalKeys(keys(snake), want) {
		t.Fatalf("expected %v, got %v and %v", want, keys(camel), keys(snake))
	}
	if err := Validate([]string{"item_key", "mut", "p_value_with_mut", "p_value_without_mut"}); err != nil {
		t.Fatalf("wire names must validate: %v", err)
	}
}
