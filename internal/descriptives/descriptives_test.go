package descriptives

import (
	"math"
	"testing"

	"gravfit/domain/trial"
	"gravfit/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(rows ...[]string) *trial.Table {
	headers := []string{"subj_idx", "g_level_corrected", "bed_chair", "dv"}
	t := &trial.Table{Headers: headers}
	for _, r := range rows {
		row := trial.Row{}
		for i, h := range headers {
			row[h] = r[i]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func TestCompute_SubjectAndGrandMeans(t *testing.T) {
	tbl := table(
		[]string{"S2", "1.0", "bed", "4"},
		[]string{"S1", "1", "bed", "1"},
		[]string{"S1", "1", "bed", "3"},
		[]string{"S2", "1", "bed", "6"},
		[]string{"S1", "0", "bed", "10"},
		[]string{"S1", "1", "bed", ""},
	)

	res, err := NewCalculator(nil).Compute(tbl, []string{"dv"}, []string{"g_level_corrected", "bed_chair"})
	require.NoError(t, err)
	require.Len(t, res.Subjects, 3)

	// sorted by numeric gravity then subject
	assert.Equal(t, []string{"0", "bed"}, res.Subjects[0].Levels)
	assert.Equal(t, "S1", res.Subjects[0].Subject)
	assert.Equal(t, 1, res.Subjects[0].Stats[0].Count)
	assert.True(t, math.IsNaN(res.Subjects[0].Stats[0].Std))

	s1 := res.Subjects[1]
	assert.Equal(t, "S1", s1.Subject)
	assert.Equal(t, 2, s1.Stats[0].Count)
	assert.InDelta(t, 2.0, s1.Stats[0].Mean, 1e-12)
	assert.InDelta(t, math.Sqrt2, s1.Stats[0].Std, 1e-12)

	s2 := res.Subjects[2]
	assert.Equal(t, "S2", s2.Subject)
	assert.InDelta(t, 5.0, s2.Stats[0].Mean, 1e-12)

	require.Len(t, res.Grand, 2)
	g := res.Grand[1]
	assert.Equal(t, []string{"1", "bed"}, g.Levels)
	assert.Equal(t, 2, g.Stats[0].Count)
	assert.InDelta(t, 3.5, g.Stats[0].Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(4.5), g.Stats[0].Std, 1e-12)
}

func TestCompute_AllMissingVariable(t *testing.T) {
	tbl := table([]string{"S1", "1", "bed", "nan"})
	res, err := NewCalculator(nil).Compute(tbl, []string{"dv"}, []string{"bed_chair"})
	require.NoError(t, err)
	require.Len(t, res.Subjects, 1)
	assert.Equal(t, 0, res.Subjects[0].Stats[0].Count)
	assert.True(t, math.IsNaN(res.Subjects[0].Stats[0].Mean))
	assert.Equal(t, 0, res.Grand[0].Stats[0].Count)
}

func TestCompute_InputErrors(t *testing.T) {
	calc := NewCalculator(nil)

	_, err := calc.Compute(table(), []string{"missing_dv"}, []string{"bed_chair"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInputShape, errors.GetCode(err))
	assert.Contains(t, err.Error(), "missing_dv")

	_, err = calc.Compute(table([]string{"S1", "1", "bed", "abc"}), []string{"dv"}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInputShape, errors.GetCode(err))
}
