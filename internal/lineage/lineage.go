// Package lineage compacts per-lineage frequency rows into star-notation
// summaries such as BA.2.* while keeping dominant lineages expanded.
package lineage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLevel is returned for aggregation levels other than 1 or 2.
var ErrInvalidLevel = errors.New("lineage: level must be 1 or 2")

// KeepThreshold is the weekly frequency (%) at or above which a lineage is
// never folded into a summary row.
const KeepThreshold = 10.0

// Row holds the weekly frequencies and sequence counts of one lineage.
type Row struct {
	Name string  `json:"name"`
	F1   float64 `json:"f1"`
	F2   float64 `json:"f2"`
	F3   float64 `json:"f3"`
	F4   float64 `json:"f4"`
	W1   int     `json:"w1"`
	W2   int     `json:"w2"`
	W3   int     `json:"w3"`
	W4   int     `json:"w4"`
}

// Dominant reports whether any week reaches KeepThreshold.
func (r Row) Dominant() bool {
	return r.F1 >= KeepThreshold || r.F2 >= KeepThreshold ||
		r.F3 >= KeepThreshold || r.F4 >= KeepThreshold
}

// Sequences returns the total count over the four weeks.
func (r Row) Sequences() int { return r.W1 + r.W2 + r.W3 + r.W4 }

func (r *Row) add(o Row) {
	r.F1 += o.F1
	r.F2 += o.F2
	r.F3 += o.F3
	r.F4 += o.F4
	r.W1 += o.W1
	r.W2 += o.W2
	r.W3 += o.W3
	r.W4 += o.W4
}

// Prefix truncates a dotted lineage name to level+1 segments.
func Prefix(name string, level int) string {
	parts := strings.SplitN(name, ".", level+2)
	if len(parts) <= level+1 {
		return name
	}
	return strings.Join(parts[:level+1], ".")
}

type group struct {
	prefix string
	rows   []Row
}

// Compact groups rows by prefix and folds the non-dominant members of each
// group into a "<prefix>.*" row. A prefix that is a strict ancestor of
// another prefix in the set is not aggregated; its members are emitted as-is.
// Groups are emitted in encounter order, summary row first.
func Compact(rows []Row, level int) ([]Row, error) {
	if level != 1 && level != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLevel, level)
	}
	var groups []*group
	index := make(map[string]*group)
	for _, r := range rows {
		p := Prefix(r.Name, level)
		g, ok := index[p]
		if !ok {
			g = &group{prefix: p}
			index[p] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}

	out := make([]Row, 0, len(rows))
	for _, g := range groups {
		if hasDescendant(g.prefix, index) {
			out = append(out, g.rows...)
			continue
		}
		var kept, folded []Row
		for _, r := range g.rows {
			if r.Dominant() {
				kept = append(kept, r)
			} else {
				folded = append(folded, r)
			}
		}
		switch len(folded) {
		case 0:
		case 1:
			out = append(out, folded[0])
		default:
			agg := Row{Name: g.prefix + ".*"}
			for _, r := range folded {
				agg.add(r)
			}
			out = append(out, agg)
		}
		out = append(out, kept...)
	}
	return out, nil
}

func hasDescendant(prefix string, index map[string]*group) bool {
	for other := range index {
		if strings.HasPrefix(other, prefix+".") {
			return true
		}
	}
	return false
}
