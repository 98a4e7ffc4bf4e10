package excel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gravfit/domain/core"
	"gravfit/domain/trial"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeXLSX(t *testing.T, path string, rows [][]interface{}) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDataReader_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.csv")
	writeFile(t, path, "\ufeffsubj_idx, g_level_corrected ,dv\nS1,1,0.5\n,,\nS2,0\n")

	tbl, err := NewDataReader(path, nil).ReadData()
	require.NoError(t, err)
	assert.Equal(t, []string{"subj_idx", "g_level_corrected", "dv"}, tbl.Headers)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "0.5", tbl.Rows[0]["dv"])
	assert.Equal(t, "", tbl.Rows[1]["dv"])
}

func TestDataReader_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.xlsx")
	writeXLSX(t, path, [][]interface{}{
		{"csvfile", "turn_displacement", "g_level_corrected"},
		{"/data/S07_run-v_3.csv", -30, 1.8},
		{"/data/S08_run-r_1.csv", 45, 0},
	})

	tbl, err := NewDataReader(path, nil).ReadData()
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "-30", tbl.Rows[0]["turn_displacement"])
	assert.Equal(t, "1.8", tbl.Rows[0]["g_level_corrected"])
}

func TestDataReader_MissingFile(t *testing.T) {
	_, err := NewDataReader(filepath.Join(t.TempDir(), "nope.csv"), nil).ReadData()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPathDerivations(t *testing.T) {
	tests := []struct {
		path, subject, posture string
	}{
		{"/raw/flight1/S07_run-v_3.csv", "S07", "v"},
		{"S12_block-2-r_10.csv", "S12", "r"},
		{"plain.csv", "plain.csv", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.subject, SubjectFromPath(tt.path))
			assert.Equal(t, tt.posture, PostureFromPath(tt.path))
		})
	}
}

func TestDeriveVariables(t *testing.T) {
	tbl := &trial.Table{
		Headers: []string{ColCSVFile, "turn_displacement", "intended_abs_peak_velocity"},
		Rows: []trial.Row{
			{ColCSVFile: "/x/S01_a-v_1.csv", "turn_displacement": "-30", "intended_abs_peak_velocity": "42.9"},
			{ColCSVFile: "/x/S02_a-r_1.csv", "turn_displacement": "", "intended_abs_peak_velocity": "nan"},
		},
	}
	DeriveVariables(tbl)

	assert.True(t, tbl.HasColumn(trial.ColSubject))
	assert.True(t, tbl.HasColumn(trial.ColPosture))
	assert.Equal(t, "S01", tbl.Rows[0][trial.ColSubject])
	assert.Equal(t, "r", tbl.Rows[1][trial.ColPosture])
	assert.Equal(t, "30", tbl.Rows[0]["abs_turn_displacement"])
	assert.Equal(t, "", tbl.Rows[1]["abs_turn_displacement"])
	assert.Equal(t, "42", tbl.Rows[0]["intended_abs_peak_velocity_cat"])
	assert.Equal(t, "", tbl.Rows[1]["intended_abs_peak_velocity_cat"])
}

func TestCleaner_ReadGroup(t *testing.T) {
	raw := t.TempDir()
	group := TrialGroup{Folder: "flight_xls_pointback", Name: "d_ml_trials"}
	base := filepath.Join(raw, group.Folder)

	writeXLSX(t, filepath.Join(base, "flight1", "S01.xlsx"), [][]interface{}{
		{"csvfile", "turn_displacement"},
		{"/d/S01_t-v_1.csv", 30},
	})
	writeFile(t, filepath.Join(base, "flight2", "S02.csv"), "csvfile,extra\n/d/S02_t-r_1.csv,x\n")
	writeFile(t, filepath.Join(base, "flight2", ".DS_Store"), "junk")
	writeFile(t, filepath.Join(base, "flight2", "broken.xlsx"), "not a workbook")
	writeFile(t, filepath.Join(base, "notes.txt"), "top-level files are not flights")

	tbl, err := NewCleaner(nil).ReadGroup(raw, group)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []string{"csvfile", "turn_displacement", ColFlight, ColSourceFolder, ColTrialGroup, "extra"}, tbl.Headers)

	byFlight := map[string]trial.Row{}
	for _, r := range tbl.Rows {
		byFlight[r[ColFlight]] = r
	}
	assert.Equal(t, "d_ml_trials", byFlight["flight1"][ColTrialGroup])
	assert.Equal(t, "", byFlight["flight1"]["extra"])
	assert.Equal(t, "", byFlight["flight2"]["turn_displacement"])
	assert.Equal(t, group.Folder, byFlight["flight2"][ColSourceFolder])
}

func TestCleaner_ReadGroupErrors(t *testing.T) {
	raw := t.TempDir()
	c := NewCleaner(nil)

	_, err := c.ReadGroup(raw, DefaultTrialGroups[0])
	require.Error(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(raw, DefaultTrialGroups[0].Folder, "flight1"), 0o755))
	_, err = c.ReadGroup(raw, DefaultTrialGroups[0])
	assert.ErrorIs(t, err, core.ErrEmptyTable)
}

func TestReduceAndKeepList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars_to_keep.csv")
	writeFile(t, path, "subj_idx\n\nbed_chair\nnot_present\n")

	keep, err := ReadKeepList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"subj_idx", "bed_chair", "not_present"}, keep)

	tbl := &trial.Table{
		Headers: []string{"bed_chair", "noise", "subj_idx"},
		Rows:    []trial.Row{{"bed_chair": "v", "noise": "1", "subj_idx": "S1"}},
	}
	reduced, err := Reduce(tbl, keep)
	require.NoError(t, err)
	assert.Equal(t, []string{"subj_idx", "bed_chair"}, reduced.Headers)
	_, hasNoise := reduced.Rows[0]["noise"]
	assert.False(t, hasNoise)

	_, err = Reduce(tbl, []string{"absent"})
	assert.ErrorIs(t, err, core.ErrMissingColumn)

	empty := filepath.Join(t.TempDir(), "empty.csv")
	writeFile(t, empty, "\n")
	_, err = ReadKeepList(empty)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no variables"))
}
