// Package domain defines the session entities, value types, and rule
// evaluation primitives used by varianthunter.
package domain

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the session state.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAnalysis identifies an executed analysis and its rows.
	EntityAnalysis EntityType = "analysis"
	// EntityLocalOpt identifies the per-analysis filter/sort configuration.
	EntityLocalOpt EntityType = "local_opt"
	// EntityTag identifies a shared configuration bundle.
	EntityTag EntityType = "tag"
	// EntitySession identifies session-wide fields (current pointer, working panel, reset flag).
	EntitySession EntityType = "session"
)

// Severity captures rule outcomes.
type Severity string

// Rule severities.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Granularity is the spatial resolution of an analysis query.
type Granularity string

// Supported granularities, coarsest first.
const (
	GranularityContinent Granularity = "continent"
	GranularityCountry   Granularity = "country"
	GranularityRegion    Granularity = "region"
)

// Valid reports whether g is one of the known granularities.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityContinent, GranularityCountry, GranularityRegion:
		return true
	}
	return false
}

// Location references the geographic scope of a query by identifier.
type Location struct {
	Continent *string `json:"continent"`
	Country   *string `json:"country"`
	Region    *string `json:"region"`
}

// Granularity derives the query granularity from the most specific field set.
func (l Location) Granularity() Granularity {
	switch {
	case l.Region != nil:
		return GranularityRegion
	case l.Country != nil:
		return GranularityCountry
	default:
		return GranularityContinent
	}
}

// At returns the location identifier for the given granularity.
func (l Location) At(g Granularity) string {
	var v *string
	switch g {
	case GranularityRegion:
		v = l.Region
	case GranularityCountry:
		v = l.Country
	default:
		v = l.Continent
	}
	if v == nil {
		return ""
	}
	return *v
}

// WeekLabels holds the display label of each of the four 7-day windows,
// oldest first, formatted "YYYY/MM/DD - YYYY/MM/DD".
type WeekLabels struct {
	W1 string `json:"w1"`
	W2 string `json:"w2"`
	W3 string `json:"w3"`
	W4 string `json:"w4"`
}

// DatasetInfo is opaque provenance metadata delivered with results.
type DatasetInfo map[string]any

// Query is the immutable snapshot of what an analysis was run against.
type Query struct {
	Granularity Granularity `json:"granularity"`
	Location    Location    `json:"location"`
	EndDate     string      `json:"endDate"`
	Lineage     *string     `json:"lineage"`
	Weeks       WeekLabels  `json:"weeks"`
	ExecutedAt  time.Time   `json:"executedAt"`
	DatasetInfo DatasetInfo `json:"datasetInfo,omitempty"`
}

// LineageSpecific reports whether the query selected a lineage.
func (q Query) LineageSpecific() bool { return q.Lineage != nil }

// MutationRow is one protein/mutation observation. Rows are immutable once
// attached to an Analysis.
type MutationRow struct {
	Protein               string  `json:"protein"`
	Mutation              string  `json:"mut"`
	Slope                 float64 `json:"slope"`
	F1                    float64 `json:"f1"`
	F2                    float64 `json:"f2"`
	F3                    float64 `json:"f3"`
	F4                    float64 `json:"f4"`
	W1                    int     `json:"w1"`
	W2                    int     `json:"w2"`
	W3                    int     `json:"w3"`
	W4                    int     `json:"w4"`
	PValueWithMutation    float64 `json:"p_value_with_mut"`
	PValueWithoutMutation float64 `json:"p_value_without_mut"`
	PValueComparative     float64 `json:"p_value_comp"`
}

// ItemKey is the stable identity used for filtering and selection.
func (r MutationRow) ItemKey() string { return ItemKey(r.Protein, r.Mutation) }

// ItemKey joins a protein and mutation into a row key.
func ItemKey(protein, mutation string) string { return protein + "_" + mutation }

type mutationRowAlias MutationRow

type mutationRowJSON struct {
	mutationRowAlias
	PValueWithMutation    *float64 `json:"p_value_with_mut"`
	PValueWithoutMutation *float64 `json:"p_value_without_mut"`
	PValueComparative     *float64 `json:"p_value_comp"`
}

// MarshalJSON encodes NaN p-values as null.
func (r MutationRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(mutationRowJSON{
		mutationRowAlias:      mutationRowAlias(r),
		PValueWithMutation:    nanToNil(r.PValueWithMutation),
		PValueWithoutMutation: nanToNil(r.PValueWithoutMutation),
		PValueComparative:     nanToNil(r.PValueComparative),
	})
}

// UnmarshalJSON decodes null or missing p-values as NaN.
func (r *MutationRow) UnmarshalJSON(data []byte) error {
	var aux mutationRowJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = MutationRow(aux.mutationRowAlias)
	r.PValueWithMutation = nilToNaN(aux.PValueWithMutation)
	r.PValueWithoutMutation = nilToNaN(aux.PValueWithoutMutation)
	r.PValueComparative = nilToNaN(aux.PValueComparative)
	return nil
}

func nanToNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func nilToNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Analysis is one executed query and its result set.
type Analysis struct {
	ID                      int           `json:"id"`
	Starred                 bool          `json:"starred"`
	Query                   Query         `json:"query"`
	Tag                     *string       `json:"tag"`
	Notes                   *string       `json:"notes"`
	CharacterizingMutations []string      `json:"characterizingMutations"`
	Rows                    []MutationRow `json:"rows"`
	TotalSequenceCounts     [4]int        `json:"totalSequenceCounts"`
}

// Opt is the filter and sort configuration shared by LocalOpt and Tag.
type Opt struct {
	Protein        *string  `json:"protein"`
	Muts           []string `json:"muts"`
	RowKeys        []string `json:"rowKeys"`
	SortingIndexes []string `json:"sortingIndexes"`
	IsDescSorting  []bool   `json:"isDescSorting"`
}

// DefaultOpt returns the configuration every new analysis and tag starts with.
func DefaultOpt() Opt {
	return Opt{
		Muts:           []string{},
		RowKeys:        []string{},
		SortingIndexes: []string{"slope"},
		IsDescSorting:  []bool{true},
	}
}

// Clone returns a deep copy of the option set.
func (o Opt) Clone() Opt {
	cp := o
	if o.Protein != nil {
		p := *o.Protein
		cp.Protein = &p
	}
	cp.Muts = append([]string{}, o.Muts...)
	cp.RowKeys = append([]string{}, o.RowKeys...)
	cp.SortingIndexes = append([]string{}, o.SortingIndexes...)
	cp.IsDescSorting = append([]bool{}, o.IsDescSorting...)
	return cp
}

// LocalOpt is the per-analysis configuration, keyed by analysis id.
type LocalOpt struct {
	UseLocalOpt bool `json:"useLocalOpt"`
	Opt
}

// DefaultLocalOpt returns the LocalOpt seeded when an analysis is created.
func DefaultLocalOpt() LocalOpt {
	return LocalOpt{UseLocalOpt: true, Opt: DefaultOpt()}
}

// Color is a display color plus its brightness classification.
type Color struct {
	Color  string `json:"color"`
	IsDark bool   `json:"isDark"`
}

// Tag is a named configuration bundle shared by every analysis carrying it.
type Tag struct {
	Name      string    `json:"name"`
	Color     Color     `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
	Opt
}

// NormalizeTagName upper-cases a tag name; tag registry keys are always normalized.
func NormalizeTagName(name string) string { return strings.ToUpper(name) }

// WorkingPanel is the analysis-definition panel state stored alongside the
// session. It is not consumed by any derivation.
type WorkingPanel struct {
	Granularity   *Granularity   `json:"selectedGranularity"`
	Location      *Location      `json:"selectedLocation"`
	Locations     []string       `json:"locations"`
	LocationsInfo map[string]any `json:"locationsInfo"`
	Lineage       *string        `json:"selectedLineage"`
	Lineages      []string       `json:"lineages"`
	Date          *string        `json:"selectedDate"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported operations captured in the change log.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock && v.Message != "" {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
