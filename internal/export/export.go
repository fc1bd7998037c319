// Package export renders analysis rows as downloadable CSV, JSON and YAML
// documents and writes them to a blob store.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"varianthunter/pkg/domain"
)

// Format identifies an export rendering.
type Format string

// Supported export formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Formats lists every supported format.
func Formats() []Format { return []Format{FormatCSV, FormatJSON, FormatYAML} }

// ParseFormat resolves a format name; the empty string selects CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of the rendering.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	default:
		return "text/csv"
	}
}

// Header maps a column title to a record field.
type Header struct {
	Text  string `json:"text" yaml:"text"`
	Value string `json:"value" yaml:"value"`
}

// Record is one processed row: every value already formatted for display.
type Record map[string]string

// Record field names.
const (
	FieldItemKey            = "item_key"
	FieldProtein            = "protein"
	FieldMutation           = "mut"
	FieldSlope              = "slope"
	FieldPValueWithMutation = "p_value_with_mut"
	FieldPValueWithoutMut   = "p_value_without_mut"
	FieldPValueComparative  = "p_value_comp"
)

// DefaultHeaders returns the column layout of an export for the given query;
// weekly frequency columns are titled with the week labels.
func DefaultHeaders(q domain.Query) []Header {
	headers := []Header{
		{Text: "Protein", Value: FieldProtein},
		{Text: "Mutation", Value: FieldMutation},
		{Text: "Slope", Value: FieldSlope},
		{Text: "p-value with mutation", Value: FieldPValueWithMutation},
		{Text: "p-value without mutation", Value: FieldPValueWithoutMut},
		{Text: "p-value comparative", Value: FieldPValueComparative},
	}
	for i, label := range []string{q.Weeks.W1, q.Weeks.W2, q.Weeks.W3, q.Weeks.W4} {
		text := label
		if text == "" {
			text = "Week " + strconv.Itoa(i+1)
		}
		headers = append(headers, Header{Text: text, Value: "f_w" + strconv.Itoa(i+1)})
	}
	return headers
}

// Process formats a mutation row for display. Missing p-values are left out.
func Process(r domain.MutationRow) Record {
	rec := Record{
		FieldItemKey:  r.ItemKey(),
		FieldProtein:  r.Protein,
		FieldMutation: r.Mutation,
		FieldSlope:    Precision(r.Slope, 4),
	}
	for field, p := range map[string]float64{
		FieldPValueWithMutation: r.PValueWithMutation,
		FieldPValueWithoutMut:   r.PValueWithoutMutation,
		FieldPValueComparative:  r.PValueComparative,
	} {
		if !math.IsNaN(p) {
			rec[field] = Exponential(p, 3)
		}
	}
	freqs := [4]float64{r.F1, r.F2, r.F3, r.F4}
	counts := [4]int{r.W1, r.W2, r.W3, r.W4}
	for i := range freqs {
		n := strconv.Itoa(i + 1)
		rec["f_w"+n] = Frequency(freqs[i], counts[i])
		rec["f"+n] = strconv.FormatFloat(freqs[i], 'g', -1, 64)
		rec["w"+n] = strconv.Itoa(counts[i])
	}
	return rec
}

// ProcessRows formats every row, preserving order.
func ProcessRows(rows []domain.MutationRow) []Record {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Process(r))
	}
	return out
}

// CSV renders records as comma separated lines joined by CRLF. The first line
// holds the header texts; every value is emitted as a JSON string literal.
func CSV(records []Record, headers []Header) ([]byte, error) {
	texts := make([]string, len(headers))
	for i, h := range headers {
		texts[i] = h.Text
	}
	lines := make([]string, 0, len(records)+1)
	lines = append(lines, strings.Join(texts, ","))
	cells := make([]string, len(headers))
	for _, rec := range records {
		for i, h := range headers {
			cell, err := quote(rec[h.Value])
			if err != nil {
				return nil, err
			}
			cells[i] = cell
		}
		lines = append(lines, strings.Join(cells, ","))
	}
	return []byte(strings.Join(lines, "\r\n")), nil
}

func quote(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// FileName names export files "<location>_<endDate>[_<lineage>]" where
// location is the query location at its granularity.
func FileName(q domain.Query) string {
	name := q.Location.At(q.Granularity) + "_" + q.EndDate
	if q.Lineage != nil && *q.Lineage != "" {
		name += "_" + *q.Lineage
	}
	return name
}

// Document is the structured rendering used by the JSON and YAML formats.
type Document struct {
	Name        string             `json:"name" yaml:"name"`
	AnalysisID  int                `json:"analysisId" yaml:"analysisId"`
	Granularity domain.Granularity `json:"granularity" yaml:"granularity"`
	Location    string             `json:"location" yaml:"location"`
	EndDate     string             `json:"endDate" yaml:"endDate"`
	Lineage     *string            `json:"lineage" yaml:"lineage"`
	Weeks       domain.WeekLabels  `json:"weeks" yaml:"weeks"`
	Headers     []Header           `json:"headers" yaml:"headers"`
	Rows        []Record           `json:"rows" yaml:"rows"`
}

// NewDocument builds the export document of an analysis over the given rows.
func NewDocument(a domain.Analysis, rows []domain.MutationRow) Document {
	return Document{
		Name:        FileName(a.Query),
		AnalysisID:  a.ID,
		Granularity: a.Query.Granularity,
		Location:    a.Query.Location.At(a.Query.Granularity),
		EndDate:     a.Query.EndDate,
		Lineage:     a.Query.Lineage,
		Weeks:       a.Query.Weeks,
		Headers:     DefaultHeaders(a.Query),
		Rows:        ProcessRows(rows),
	}
}

// Render encodes the document in the requested format.
func Render(doc Document, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return CSV(doc.Rows, doc.Headers)
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}
