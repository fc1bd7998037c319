package core_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"varianthunter/internal/color"
	"varianthunter/internal/core"
	"varianthunter/pkg/domain"
)

var fixedNow = time.Date(2021, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...core.Option) *core.Service {
	t.Helper()
	base := []core.Option{
		core.WithClock(func() time.Time { return fixedNow }),
		core.WithColorGenerator(color.NewGenerator(rand.NewPCG(1, 2))),
	}
	return core.NewInMemoryService(core.NewDefaultRulesEngine(), append(base, opts...)...)
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func row(protein, mut string, slope float64) domain.MutationRow {
	return domain.MutationRow{Protein: protein, Mutation: mut, Slope: slope, W1: 1, W2: 2, W3: 3, W4: 4}
}

func input(rows ...domain.MutationRow) core.AnalysisInput {
	return core.AnalysisInput{
		Rows:                rows,
		TotalSequenceCounts: [4]int{10, 20, 30, 40},
		Metadata: core.AnalysisMetadata{
			Location:    domain.Location{Continent: strPtr("Europe"), Country: strPtr("France")},
			Date:        "2021-06-30",
			DatasetInfo: domain.DatasetInfo{"source": "gisaid"},
		},
	}
}

func mustAdd(t *testing.T, svc *core.Service, in core.AnalysisInput) domain.Analysis {
	t.Helper()
	a, _, err := svc.AddAnalysis(context.Background(), in)
	if err != nil {
		t.Fatalf("add analysis: %v", err)
	}
	return a
}

func findTag(tags []domain.Tag, name string) (domain.Tag, bool) {
	for _, t := range tags {
		if t.Name == name {
			return t, true
		}
	}
	return domain.Tag{}, false
}

func isRuleViolation(err error) bool {
	var violation domain.RuleViolationError
	return errors.As(err, &violation) && violation.Result.HasBlocking()
}
