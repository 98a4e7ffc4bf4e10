package curvefit

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"

	"gravfit/domain/core"
	"gravfit/domain/trial"
	"gravfit/internal"
	"gravfit/internal/errors"
	"gravfit/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	xCol = "turn_displacement"
	yCol = "indicated_displacement"
)

// trialTable builds a table with one row per (subject, g, posture, x, y)
func trialTable(rows [][]string) *trial.Table {
	t := &trial.Table{Headers: []string{trial.ColSubject, trial.ColGravity, trial.ColPosture, xCol, yCol}}
	for _, r := range rows {
		row := trial.Row{}
		for i, h := range t.Headers {
			row[h] = r[i]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func groupRows(subject, g, posture string, xs, ys []float64) [][]string {
	var out [][]string
	for i := range xs {
		out = append(out, []string{subject, g, posture,
			strconv.FormatFloat(xs[i], 'g', -1, 64),
			strconv.FormatFloat(ys[i], 'g', -1, 64)})
	}
	return out
}

func newEngine(t *testing.T, mutate func(*Settings)) *Engine {
	t.Helper()
	s := DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	e, err := NewEngine(models.NewRegistry(), s, internal.NopLogger())
	require.NoError(t, err)
	return e
}

func TestFit_LinearScenario(t *testing.T) {
	table := trialTable(groupRows("S1", "1.0", "V", []float64{0, 10, 20, 30}, []float64{0, 9, 22, 29}))

	out, err := newEngine(t, nil).Fit(context.Background(), table, trial.SubjectFilter{"S1"}, xCol, yCol, "linear")
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)

	row := out.Rows[0]
	assert.Equal(t, trial.GroupKey{Subject: "S1", Gravity: "1", Posture: "V"}, row.Key)
	assert.Equal(t, "linear", row.Model)
	require.Len(t, row.Params, 2)
	assert.InDelta(t, 0.0, row.Params[0], 1e-4)
	assert.InDelta(t, 1.0, row.Params[1], 1e-6)
}

func TestFit_QuarticOnFourPointsFails(t *testing.T) {
	table := trialTable(groupRows("S1", "1.0", "V", []float64{0, 10, 20, 30}, []float64{0, 9, 22, 29}))

	out, err := newEngine(t, nil).Fit(context.Background(), table, nil, xCol, yCol, "quartic")
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)

	row := out.Rows[0]
	assert.True(t, row.Failed())
	assert.Equal(t, "quartic", row.Model)
	assert.Equal(t, "S1", row.Key.Subject)
	assert.Contains(t, row.Failure, core.ErrInsufficientData.Error())
	assert.Equal(t, 1, out.Failures())
	assert.Equal(t, 0, out.Width())
}

func TestFit_RecoversPolynomials(t *testing.T) {
	xs := []float64{0, 5, 10, 15, 20, 25, 30, 35}
	tests := []struct {
		model  string
		params []float64
	}{
		{"linear", []float64{3, -0.5}},
		{"quadratic", []float64{2, 0.5, -0.01}},
		{"cubic", []float64{1, 0.2, 0.03, -0.0005}},
		{"quartic", []float64{-1, 0.4, 0.01, -0.0002, 0.000003}},
	}
	reg := models.NewRegistry()
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			m, err := reg.Lookup(tt.model)
			require.NoError(t, err)
			ys := m.Eval(xs, tt.params)

			out, err := newEngine(t, nil).Fit(context.Background(), trialTable(groupRows("S1", "0", "bed", xs, ys)), nil, xCol, yCol, tt.model)
			require.NoError(t, err)
			require.Len(t, out.Rows, 1)
			require.Len(t, out.Rows[0].Params, m.Arity, out.Rows[0].Failure)

			fitted := m.Eval(xs, out.Rows[0].Params)
			for i := range ys {
				assert.InDelta(t, ys[i], fitted[i], 1e-6)
			}
		})
	}
}

func TestFit_DegenerateXFails(t *testing.T) {
	xs := []float64{10, 10, 10, 10, 10}
	ys := []float64{1, 2, 3, 4, 5}

	out, err := newEngine(t, nil).Fit(context.Background(), trialTable(groupRows("S1", "1", "bed", xs, ys)), nil, xCol, yCol, "linear")
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.True(t, out.Rows[0].Failed())
	assert.Contains(t, out.Rows[0].Failure, core.ErrDegenerateData.Error())
}

func TestFit_FailureDoesNotStopOtherGroups(t *testing.T) {
	var rows [][]string
	rows = append(rows, groupRows("S1", "1", "bed", []float64{0, 10}, []float64{1, 2})...)
	rows = append(rows, groupRows("S1", "1", "chair", []float64{0, 10, 20, 30}, []float64{1, 3, 4, 8})...)
	rows = append(rows, groupRows("S2", "0", "bed", []float64{0, 10, 20}, []float64{0, 5, 9})...)

	out, err := newEngine(t, nil).Fit(context.Background(), trialTable(rows), nil, xCol, yCol, "quadratic")
	require.NoError(t, err)
	require.Len(t, out.Rows, 3)

	// deterministic order: subject, gravity level, posture
	assert.Equal(t, "S1|1|bed", out.Rows[0].Key.String())
	assert.Equal(t, "S1|1|chair", out.Rows[1].Key.String())
	assert.Equal(t, "S2|0|bed", out.Rows[2].Key.String())

	assert.True(t, out.Rows[0].Failed())
	assert.Len(t, out.Rows[1].Params, 3)
	assert.Len(t, out.Rows[2].Params, 3)
	assert.Equal(t, 3, out.Width())
}

func TestFit_SubjectFilter(t *testing.T) {
	var rows [][]string
	for _, s := range []string{"S1", "S2", "S3"} {
		rows = append(rows, groupRows(s, "1", "bed", []float64{0, 10, 20}, []float64{0, 11, 19})...)
	}
	e := newEngine(t, nil)

	out, err := e.Fit(context.Background(), trialTable(rows), trial.SubjectFilter{"S1", "S3"}, xCol, yCol, "linear")
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "S1", out.Rows[0].Key.Subject)
	assert.Equal(t, "S3", out.Rows[1].Key.Subject)

	all, err := e.Fit(context.Background(), trialTable(rows), nil, xCol, yCol, "linear")
	require.NoError(t, err)
	assert.Len(t, all.Rows, 3)
}

func TestFit_DropsNonFiniteObservations(t *testing.T) {
	rows := groupRows("S1", "1", "bed", []float64{0, 10, 20, 30}, []float64{0, 10, 20, 30})
	rows = append(rows, []string{"S1", "1", "bed", "40", ""})

	out, err := newEngine(t, nil).Fit(context.Background(), trialTable(rows), nil, xCol, yCol, "linear")
	require.NoError(t, err)
	require.Len(t, out.Rows[0].Params, 2)
	assert.InDelta(t, 1.0, out.Rows[0].Params[1], 1e-6)
}

func TestFit_InputErrors(t *testing.T) {
	e := newEngine(t, nil)
	table := trialTable(groupRows("S1", "1", "bed", []float64{0, 1}, []float64{0, 1}))

	_, err := e.Fit(context.Background(), table, nil, xCol, "missing_dv", "linear")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInputShape, errors.GetCode(err))
	assert.True(t, stderrors.Is(err, core.ErrMissingColumn))

	_, err = e.Fit(context.Background(), table, nil, xCol, yCol, "sigmoid")
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnknownModel, errors.GetCode(err))

	bad := trialTable([][]string{{"S1", "1", "bed", "ten", "1"}})
	_, err = e.Fit(context.Background(), bad, nil, xCol, yCol, "linear")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, core.ErrBadValue))
}

func TestFit_CustomModelWithoutGradient(t *testing.T) {
	reg := models.NewRegistry()
	require.NoError(t, reg.Register(models.Model{
		Name:  "power",
		Arity: 2,
		Func:  func(x float64, p []float64) float64 { return p[0] * math.Pow(x, p[1]) },
	}))
	e, err := NewEngine(reg, DefaultSettings(), internal.NopLogger())
	require.NoError(t, err)

	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 2 * math.Sqrt(x)
	}

	out, err := e.Fit(context.Background(), trialTable(groupRows("S1", "1", "bed", xs, ys)), nil, xCol, yCol, "power")
	require.NoError(t, err)
	require.Len(t, out.Rows[0].Params, 2, out.Rows[0].Failure)
	assert.InDelta(t, 2.0, out.Rows[0].Params[0], 1e-4)
	assert.InDelta(t, 0.5, out.Rows[0].Params[1], 1e-4)
}

func TestFit_WorkersDoNotChangeResults(t *testing.T) {
	var rows [][]string
	for s := 1; s <= 4; s++ {
		for _, g := range []string{"0", "1", "1.8"} {
			for _, posture := range []string{"bed", "chair"} {
				xs := []float64{0, 10, 20, 30, 40}
				ys := make([]float64, len(xs))
				for i, x := range xs {
					ys[i] = float64(s) + 0.9*x + 0.01*x*x*float64(len(posture)) + float64(i%2)
				}
				rows = append(rows, groupRows(fmt.Sprintf("S%d", s), g, posture, xs, ys)...)
			}
		}
	}
	table := trialTable(rows)

	serial, err := newEngine(t, nil).Fit(context.Background(), table, nil, xCol, yCol, "quadratic")
	require.NoError(t, err)
	parallel, err := newEngine(t, func(s *Settings) { s.Workers = 4 }).Fit(context.Background(), table, nil, xCol, yCol, "quadratic")
	require.NoError(t, err)

	require.Len(t, serial.Rows, 24)
	assert.Equal(t, serial, parallel)
}

func TestFit_GonumMethods(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4, 5}
	ys := []float64{1, 3, 5, 7, 9, 11}
	table := trialTable(groupRows("S1", "1", "bed", xs, ys))

	for _, method := range []string{MethodNelderMead} {
		t.Run(method, func(t *testing.T) {
			e := newEngine(t, func(s *Settings) {
				s.Method = method
				s.MaxIter = 5000
			})
			out, err := e.Fit(context.Background(), table, nil, xCol, yCol, "linear")
			require.NoError(t, err)
			require.Len(t, out.Rows[0].Params, 2, out.Rows[0].Failure)
			assert.InDelta(t, 1.0, out.Rows[0].Params[0], 1e-2)
			assert.InDelta(t, 2.0, out.Rows[0].Params[1], 1e-2)
		})
	}
}

func TestFit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	table := trialTable(groupRows("S1", "1", "bed", []float64{0, 1, 2}, []float64{0, 1, 2}))

	_, err := newEngine(t, nil).Fit(ctx, table, nil, xCol, yCol, "linear")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.Canceled))
}

func TestSettings(t *testing.T) {
	assert.Equal(t, MethodLevenbergMarquardt, ParseMethod(""))
	assert.Equal(t, MethodNelderMead, ParseMethod(" Simplex "))
	assert.Equal(t, MethodLBFGS, ParseMethod("L-BFGS"))

	s := DefaultSettings()
	assert.NoError(t, s.Validate())
	s.Method = "gauss-newton"
	assert.Error(t, s.Validate())

	_, err := NewEngine(models.NewRegistry(), Settings{Method: MethodLevenbergMarquardt}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
	assert.True(t, strings.Contains(err.Error(), "max iterations"))
}
