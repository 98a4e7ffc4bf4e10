// Package descriptives summarizes dependent variables per subject and condition.
package descriptives

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"gravfit/domain/core"
	"gravfit/domain/fit"
	"gravfit/domain/trial"
	"gravfit/internal"
	"gravfit/internal/errors"

	"github.com/montanaflynn/stats"
)

// Summary holds count, mean and sample standard deviation of the non-missing values
type Summary struct {
	Count int
	Mean  float64
	Std   float64
}

// SubjectRow summarizes one subject in one condition
type SubjectRow struct {
	Levels  []string // parallel to Result.GroupVars
	Subject string
	Stats   []Summary // parallel to Result.Variables
}

// GrandRow summarizes subject means in one condition. Count is the number of contributing subjects.
type GrandRow struct {
	Levels []string
	Stats  []Summary
}

// Result is the output of Compute
type Result struct {
	GroupVars []string
	Variables []string
	Subjects  []SubjectRow
	Grand     []GrandRow
}

// Calculator computes descriptive statistics
type Calculator struct {
	logger *internal.Logger
}

// NewCalculator creates a descriptive statistics calculator
func NewCalculator(logger *internal.Logger) *Calculator {
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Calculator{logger: logger.With("descriptives")}
}

type cellKey string

func makeKey(levels []string, subject string) cellKey {
	return cellKey(strings.Join(levels, "\x1f") + "\x1e" + subject)
}

type cell struct {
	levels  []string
	subject string
	values  [][]float64 // per variable
}

// Compute groups trials by groupVars and subject, then aggregates each variable.
// Missing columns fail the stage with an input-shape error.
func (c *Calculator) Compute(t *trial.Table, variables, groupVars []string) (Result, error) {
	required := append(append(append([]string{}, variables...), groupVars...), trial.ColSubject)
	if err := t.Require(required...); err != nil {
		return Result{}, errors.InputShape("descriptive statistics input rejected", err)
	}

	index := make(map[cellKey]*cell)
	var cells []*cell
	for i, row := range t.Rows {
		levels := make([]string, len(groupVars))
		for j, g := range groupVars {
			levels[j] = trial.NormalizeLevel(row[g])
		}
		subject := strings.TrimSpace(row[trial.ColSubject])
		key := makeKey(levels, subject)
		cl, ok := index[key]
		if !ok {
			cl = &cell{levels: levels, subject: subject, values: make([][]float64, len(variables))}
			index[key] = cl
			cells = append(cells, cl)
		}
		for v, name := range variables {
			x, err := parseValue(row[name])
			if err != nil {
				return Result{}, errors.InputShape("descriptive statistics input rejected", core.NewBadValueError(name, i+1, row[name]))
			}
			if !math.IsNaN(x) {
				cl.values[v] = append(cl.values[v], x)
			}
		}
	}

	sort.SliceStable(cells, func(i, j int) bool {
		if cmp := compareLevels(cells[i].levels, cells[j].levels); cmp != 0 {
			return cmp < 0
		}
		return cells[i].subject < cells[j].subject
	})

	result := Result{GroupVars: groupVars, Variables: variables}
	for _, cl := range cells {
		row := SubjectRow{Levels: cl.levels, Subject: cl.subject, Stats: make([]Summary, len(variables))}
		for v := range variables {
			row.Stats[v] = summarize(cl.values[v])
		}
		result.Subjects = append(result.Subjects, row)
	}
	result.Grand = grandMeans(result.Subjects, len(variables))

	c.logger.Debug("computed descriptives for %d variables over %d subject cells", len(variables), len(result.Subjects))
	return result, nil
}

// grandMeans aggregates subject means per condition; rows arrive sorted by levels
func grandMeans(rows []SubjectRow, nvars int) []GrandRow {
	var out []GrandRow
	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && compareLevels(rows[end].Levels, rows[start].Levels) == 0 {
			end++
		}
		g := GrandRow{Levels: rows[start].Levels, Stats: make([]Summary, nvars)}
		for v := 0; v < nvars; v++ {
			var means []float64
			for _, r := range rows[start:end] {
				if !fit.IsMissing(r.Stats[v].Mean) {
					means = append(means, r.Stats[v].Mean)
				}
			}
			g.Stats[v] = summarize(means)
		}
		out = append(out, g)
		start = end
	}
	return out
}

func summarize(values []float64) Summary {
	s := Summary{Count: len(values), Mean: fit.Missing, Std: fit.Missing}
	if len(values) == 0 {
		return s
	}
	if mean, err := stats.Mean(values); err == nil {
		s.Mean = mean
	}
	if len(values) > 1 {
		if std, err := stats.StandardDeviationSample(values); err == nil {
			s.Std = std
		}
	}
	return s
}

func compareLevels(a, b []string) int {
	for i := range a {
		if c := trial.CompareLevels(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func parseValue(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "na") {
		return fit.Missing, nil
	}
	return strconv.ParseFloat(s, 64)
}
