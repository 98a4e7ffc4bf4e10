package trial

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gravfit/domain/core"
)

// Column names shared with the ingestion and export layers
const (
	ColSubject = "subj_idx"
	ColGravity = "g_level_corrected"
	ColPosture = "bed_chair"
)

// Row is one record keyed by column header
type Row map[string]string

// Table is an immutable-by-convention tabular input
type Table struct {
	Headers []string
	Rows    []Row
}

// HasColumn reports whether the header row contains name
func (t *Table) HasColumn(name string) bool {
	for _, h := range t.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// Require fails with ErrMissingColumn listing every absent column
func (t *Table) Require(columns ...string) error {
	if t == nil {
		return core.NewMissingColumnError(columns)
	}
	var missing []string
	for _, c := range columns {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return core.NewMissingColumnError(missing)
	}
	return nil
}

// GroupKey identifies a fit group
type GroupKey struct {
	Subject string
	Gravity string
	Posture string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Subject, k.Gravity, k.Posture)
}

// CompareKeys orders by subject, then numeric gravity level, then posture
func CompareKeys(a, b GroupKey) int {
	if a.Subject != b.Subject {
		return strings.Compare(a.Subject, b.Subject)
	}
	if c := CompareLevels(a.Gravity, b.Gravity); c != 0 {
		return c
	}
	return strings.Compare(a.Posture, b.Posture)
}

// CompareLevels compares two factor levels numerically when both parse, lexically otherwise
func CompareLevels(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// NormalizeLevel canonicalizes numeric factor levels so "1", "1.0" and "1.00" group together
func NormalizeLevel(raw string) string {
	s := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return s
}

// Observation is one trial reduced to the fields the fitting stages consume
type Observation struct {
	Key GroupKey
	X   float64
	Y   float64
}

// Group is the set of observations sharing a GroupKey
type Group struct {
	Key GroupKey
	X   []float64
	Y   []float64
}

// Len returns the number of observations in the group
func (g Group) Len() int { return len(g.X) }

// SubjectFilter restricts analyses to listed subjects. An empty filter includes everyone.
type SubjectFilter []string

// IsEmpty reports whether the filter places no restriction
func (f SubjectFilter) IsEmpty() bool {
	return len(f) == 0
}

// Allows reports whether subject passes the filter
func (f SubjectFilter) Allows(subject string) bool {
	if f.IsEmpty() {
		return true
	}
	for _, s := range f {
		if s == subject {
			return true
		}
	}
	return false
}

// ParseSubjectFilter splits a comma-separated list, dropping blanks
func ParseSubjectFilter(s string) SubjectFilter {
	var out SubjectFilter
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Observations extracts typed observations for xCol/yCol. Empty and NaN cells become NaN;
// any other non-numeric cell is an input-shape error.
func Observations(t *Table, xCol, yCol string) ([]Observation, error) {
	if err := t.Require(ColSubject, ColGravity, ColPosture, xCol, yCol); err != nil {
		return nil, err
	}

	out := make([]Observation, 0, len(t.Rows))
	for i, row := range t.Rows {
		x, err := parseCell(row[xCol])
		if err != nil {
			return nil, core.NewBadValueError(xCol, i+1, row[xCol])
		}
		y, err := parseCell(row[yCol])
		if err != nil {
			return nil, core.NewBadValueError(yCol, i+1, row[yCol])
		}
		out = append(out, Observation{
			Key: GroupKey{
				Subject: strings.TrimSpace(row[ColSubject]),
				Gravity: NormalizeLevel(row[ColGravity]),
				Posture: strings.TrimSpace(row[ColPosture]),
			},
			X: x,
			Y: y,
		})
	}
	return out, nil
}

func parseCell(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "na") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// Partition groups observations by key, keeping only subjects the filter allows.
// Groups come back in CompareKeys order; observation order within a group is preserved.
func Partition(obs []Observation, filter SubjectFilter) []Group {
	index := make(map[GroupKey]int)
	var groups []Group
	for _, o := range obs {
		if !filter.Allows(o.Key.Subject) {
			continue
		}
		i, ok := index[o.Key]
		if !ok {
			i = len(groups)
			index[o.Key] = i
			groups = append(groups, Group{Key: o.Key})
		}
		groups[i].X = append(groups[i].X, o.X)
		groups[i].Y = append(groups[i].Y, o.Y)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return CompareKeys(groups[i].Key, groups[j].Key) < 0
	})
	return groups
}

// Select returns the observations of exactly one group, in input order
func Select(obs []Observation, key GroupKey) Group {
	g := Group{Key: key}
	for _, o := range obs {
		if o.Key == key {
			g.X = append(g.X, o.X)
			g.Y = append(g.Y, o.Y)
		}
	}
	return g
}

// Subjects returns the distinct subjects in observation order
func Subjects(obs []Observation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range obs {
		if !seen[o.Key.Subject] {
			seen[o.Key.Subject] = true
			out = append(out, o.Key.Subject)
		}
	}
	return out
}

// Finite drops observation pairs where x or y is NaN or infinite
func (g Group) Finite() Group {
	out := Group{Key: g.Key}
	for i := range g.X {
		if isFinite(g.X[i]) && isFinite(g.Y[i]) {
			out.X = append(out.X, g.X[i])
			out.Y = append(out.Y, g.Y[i])
		}
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
