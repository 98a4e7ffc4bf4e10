// Package rmanova runs two-within-factor repeated-measures ANOVAs over fitted parameters.
package rmanova

import (
	"fmt"
	"math"
	"sort"

	"gravfit/domain/anova"
	"gravfit/domain/core"
	"gravfit/domain/fit"
	"gravfit/domain/trial"
	"gravfit/internal"
	"gravfit/internal/errors"

	"gonum.org/v1/gonum/stat/distuv"
)

// Analyzer tests gravity level, posture and their interaction for each parameter of a model
type Analyzer struct {
	logger *internal.Logger
}

// NewAnalyzer creates an RM-ANOVA analyzer
func NewAnalyzer(logger *internal.Logger) *Analyzer {
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Analyzer{logger: logger.With("rmanova")}
}

// Analyze filters params to model and analyzes every parameter column of the table.
// Columns with missing values or an unbalanced design are skipped with a diagnostic.
// It fails only when the table holds no rows for the model.
func (a *Analyzer) Analyze(params fit.ParamTable, model string) (anova.Result, error) {
	rows := params.ForModel(model)
	result := anova.Result{Model: model}
	if len(rows) == 0 {
		return result, errors.InvalidInput(fmt.Sprintf("no fitted rows for model %q", model))
	}

	a.logger.Info("running repeated measures ANOVA for %s model (%d rows)", model, len(rows))
	for i := 0; i < params.Width(); i++ {
		name := fit.ParamColumn(i)
		table, err := analyzeParameter(rows, i)
		if err != nil {
			if !core.IsAnovaSkip(err) {
				return anova.Result{Model: model}, errors.Wrapf(err, "ANOVA for %s", name)
			}
			a.logger.Info("skipping %s for %s model: %v", name, model, err)
			result.Skipped = append(result.Skipped, anova.Skip{Parameter: name, Reason: err.Error()})
			continue
		}
		table.Parameter = name
		result.Tables = append(result.Tables, table)
	}
	return result, nil
}

// design is a balanced subject × gravity × posture layout
type design struct {
	subjects, gravity, posture []string
	y                          [][][]float64 // [subject][gravity][posture]
}

func analyzeParameter(rows []fit.ParamRow, idx int) (anova.Table, error) {
	for _, r := range rows {
		if _, ok := r.Param(idx); !ok {
			return anova.Table{}, fmt.Errorf("%w: %s %s", core.ErrMissingParameter, r.Key, describeMissing(r))
		}
	}
	d, err := buildDesign(rows, idx)
	if err != nil {
		return anova.Table{}, err
	}
	return d.decompose(), nil
}

func describeMissing(r fit.ParamRow) string {
	if r.Failed() {
		return "(fit failed)"
	}
	return fmt.Sprintf("(model has %d parameters)", len(r.Params))
}

func buildDesign(rows []fit.ParamRow, idx int) (*design, error) {
	subjects := levels(rows, func(k trial.GroupKey) string { return k.Subject }, false)
	gravity := levels(rows, func(k trial.GroupKey) string { return k.Gravity }, true)
	posture := levels(rows, func(k trial.GroupKey) string { return k.Posture }, false)

	if len(subjects) < 2 || len(gravity) < 2 || len(posture) < 2 {
		return nil, fmt.Errorf("%w: %d subjects, %d gravity levels, %d postures",
			core.ErrTooFewLevels, len(subjects), len(gravity), len(posture))
	}

	pos := func(list []string) map[string]int {
		m := make(map[string]int, len(list))
		for i, v := range list {
			m[v] = i
		}
		return m
	}
	si, gi, pi := pos(subjects), pos(gravity), pos(posture)

	d := &design{subjects: subjects, gravity: gravity, posture: posture}
	counts := make([][][]int, len(subjects))
	d.y = make([][][]float64, len(subjects))
	for s := range subjects {
		counts[s] = make([][]int, len(gravity))
		d.y[s] = make([][]float64, len(gravity))
		for g := range gravity {
			counts[s][g] = make([]int, len(posture))
			d.y[s][g] = make([]float64, len(posture))
		}
	}
	for _, r := range rows {
		s, g, p := si[r.Key.Subject], gi[r.Key.Gravity], pi[r.Key.Posture]
		counts[s][g][p]++
		d.y[s][g][p] = r.Params[idx]
	}
	for s := range subjects {
		for g := range gravity {
			for p := range posture {
				if counts[s][g][p] != 1 {
					cell := gravity[g] + "|" + posture[p]
					return nil, core.NewUnbalancedError(subjects[s], cell, counts[s][g][p])
				}
			}
		}
	}
	return d, nil
}

func levels(rows []fit.ParamRow, get func(trial.GroupKey) string, numeric bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		v := get(r.Key)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if numeric {
			return trial.CompareLevels(out[i], out[j]) < 0
		}
		return out[i] < out[j]
	})
	return out
}

// decompose partitions the within-subject variance; each effect is tested against its
// interaction with subjects
func (d *design) decompose() anova.Table {
	n, a, b := len(d.subjects), len(d.gravity), len(d.posture)
	fn, fa, fb := float64(n), float64(a), float64(b)

	var gm, sumSq float64
	mS := make([]float64, n)
	mA := make([]float64, a)
	mB := make([]float64, b)
	mSA := grid(n, a)
	mSB := grid(n, b)
	mAB := grid(a, b)
	for s := 0; s < n; s++ {
		for i := 0; i < a; i++ {
			for j := 0; j < b; j++ {
				y := d.y[s][i][j]
				gm += y
				sumSq += y * y
				mS[s] += y / (fa * fb)
				mA[i] += y / (fn * fb)
				mB[j] += y / (fn * fa)
				mSA[s][i] += y / fb
				mSB[s][j] += y / fa
				mAB[i][j] += y / fn
			}
		}
	}
	gm /= fn * fa * fb

	var ssA, ssB, ssAB, ssAS, ssBS, ssABS float64
	for i := 0; i < a; i++ {
		ssA += sq(mA[i] - gm)
	}
	ssA *= fn * fb
	for j := 0; j < b; j++ {
		ssB += sq(mB[j] - gm)
	}
	ssB *= fn * fa
	for i := 0; i < a; i++ {
		for j := 0; j < b; j++ {
			ssAB += sq(mAB[i][j] - mA[i] - mB[j] + gm)
		}
	}
	ssAB *= fn
	for s := 0; s < n; s++ {
		for i := 0; i < a; i++ {
			ssAS += sq(mSA[s][i] - mS[s] - mA[i] + gm)
		}
		for j := 0; j < b; j++ {
			ssBS += sq(mSB[s][j] - mS[s] - mB[j] + gm)
		}
		for i := 0; i < a; i++ {
			for j := 0; j < b; j++ {
				ssABS += sq(d.y[s][i][j] - mSA[s][i] - mSB[s][j] - mAB[i][j] + mS[s] + mA[i] + mB[j] - gm)
			}
		}
	}
	ssAS *= fb
	ssBS *= fa

	// sums of squares below this are rounding residue, e.g. for a constant parameter
	tol := zeroTolerance * sumSq
	return anova.Table{
		Subjects: n,
		Rows: []anova.EffectRow{
			effect(anova.EffectGravity, ssA, ssAS, fa-1, (fa-1)*(fn-1), tol),
			effect(anova.EffectPosture, ssB, ssBS, fb-1, (fb-1)*(fn-1), tol),
			effect(anova.EffectInteraction, ssAB, ssABS, (fa-1)*(fb-1), (fa-1)*(fb-1)*(fn-1), tol),
		},
	}
}

// zeroTolerance is relative to Σy² over all cells. Rounding residue is of order ε²·Σy²,
// so this sits well above it while keeping real spread of 1e-10·|y| and up.
const zeroTolerance = 1e-20

// effect builds one ANOVA line; an error term at or below tol leaves F and p missing
func effect(name anova.Effect, ss, ssErr, df, dfErr, tol float64) anova.EffectRow {
	row := anova.EffectRow{Effect: name, NumDF: df, DenDF: dfErr, SS: ss, SSErr: ssErr, F: fit.Missing, PValue: fit.Missing}
	if ssErr <= tol {
		return row
	}
	row.F = (ss / df) / (ssErr / dfErr)
	row.PValue = FTestPValue(row.F, df, dfErr)
	return row
}

// FTestPValue is the upper-tail probability of the F distribution
func FTestPValue(f, df1, df2 float64) float64 {
	if df1 <= 0 || df2 <= 0 || math.IsNaN(f) {
		return fit.Missing
	}
	p := 1 - distuv.F{D1: df1, D2: df2}.CDF(f)
	return math.Min(1, math.Max(0, p))
}

func grid(r, c int) [][]float64 {
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
	}
	return out
}

func sq(v float64) float64 { return v * v }
