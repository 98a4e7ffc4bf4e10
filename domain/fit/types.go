package fit

import (
	"fmt"
	"math"

	"gravfit/domain/trial"
)

// ParamColumn names the i-th parameter column in exported tables
func ParamColumn(i int) string {
	return fmt.Sprintf("param_%d", i)
}

// Missing is the in-memory representation of an absent numeric value
var Missing = math.NaN()

// IsMissing reports whether v stands for an absent value
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// ParamRow is one attempted fit: a model name tagged with its own parameter list.
// A failed fit keeps its identifiers and carries no parameters.
type ParamRow struct {
	Key     trial.GroupKey
	Model   string
	Params  []float64
	Failure string
}

// Failed reports whether the fit produced no parameters
func (r ParamRow) Failed() bool {
	return len(r.Params) == 0
}

// Param returns the i-th parameter, or false when the row has none at i
func (r ParamRow) Param(i int) (float64, bool) {
	if i < 0 || i >= len(r.Params) {
		return Missing, false
	}
	return r.Params[i], true
}

// ParamTable holds fitted rows for one or more models
type ParamTable struct {
	Rows []ParamRow
}

// Width is the longest parameter vector in the table; shorter rows pad with missing values on export
func (t ParamTable) Width() int {
	w := 0
	for _, r := range t.Rows {
		if len(r.Params) > w {
			w = len(r.Params)
		}
	}
	return w
}

// ForModel returns the rows fitted with the named model
func (t ParamTable) ForModel(model string) []ParamRow {
	var out []ParamRow
	for _, r := range t.Rows {
		if r.Model == model {
			out = append(out, r)
		}
	}
	return out
}

// Models lists distinct model names in first-seen order
func (t ParamTable) Models() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.Rows {
		if !seen[r.Model] {
			seen[r.Model] = true
			out = append(out, r.Model)
		}
	}
	return out
}

// Failures counts rows without parameters
func (t ParamTable) Failures() int {
	n := 0
	for _, r := range t.Rows {
		if r.Failed() {
			n++
		}
	}
	return n
}

// Concat joins tables in order
func Concat(tables ...ParamTable) ParamTable {
	var out ParamTable
	for _, t := range tables {
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out
}

// GOFRow carries goodness-of-fit statistics for one fitted row; either value may be missing
type GOFRow struct {
	Key      trial.GroupKey
	Model    string
	RSquared float64
	RMSE     float64
}
