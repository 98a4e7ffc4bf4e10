package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gravfit/domain/anova"
	"gravfit/domain/fit"
	"gravfit/domain/trial"
	"gravfit/internal/descriptives"
	"gravfit/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleParams() fit.ParamTable {
	k1 := trial.GroupKey{Subject: "S1", Gravity: "1", Posture: "bed"}
	k2 := trial.GroupKey{Subject: "S1", Gravity: "1.8", Posture: "chair"}
	return fit.ParamTable{Rows: []fit.ParamRow{
		{Key: k1, Model: "linear", Params: []float64{0.5, -1.25}},
		{Key: k2, Model: "linear", Failure: "insufficient data"},
		{Key: k1, Model: "quadratic", Params: []float64{1e-9, 2, 3}},
	}}
}

func TestWriteParams_PadsWithEmptyCells(t *testing.T) {
	e := NewExporter(t.TempDir(), nil, nil)
	path, err := e.WriteParams("fitted_parameters_dv", sampleParams())
	require.NoError(t, err)
	assert.Equal(t, "fitted_parameters_dv.csv", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "subj_idx,g_level_corrected,bed_chair,model,param_0,param_1,param_2", lines[0])
	assert.Equal(t, "S1,1,bed,linear,0.5,-1.25,", lines[1])
	assert.Equal(t, "S1,1.8,chair,linear,,,", lines[2])
	assert.Equal(t, "S1,1,bed,quadratic,1e-09,2,3", lines[3])
}

func TestParams_RoundTripAllCodecs(t *testing.T) {
	for _, name := range []string{"none", "gzip", "zstd"} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			require.NoError(t, err)
			e := NewExporter(t.TempDir(), codec, nil)

			path, err := e.WriteParams("params", sampleParams())
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(path, ".csv"+codec.Extension()))

			got, err := ReadParams(path)
			require.NoError(t, err)
			want := sampleParams()
			require.Len(t, got.Rows, len(want.Rows))
			for i := range want.Rows {
				assert.Equal(t, want.Rows[i].Key, got.Rows[i].Key)
				assert.Equal(t, want.Rows[i].Model, got.Rows[i].Model)
				assert.Equal(t, want.Rows[i].Params, got.Rows[i].Params)
			}
			assert.True(t, got.Rows[1].Failed())
			assert.Equal(t, 3, got.Width())
		})
	}
}

func TestParseParams_Rejects(t *testing.T) {
	_, err := ParseParams(&trial.Table{Headers: []string{"subj_idx", "model"}})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInputShape, errors.GetCode(err))

	headers := []string{"subj_idx", "g_level_corrected", "bed_chair", "model", "param_0", "param_1"}
	gap := &trial.Table{Headers: headers, Rows: []trial.Row{
		{"subj_idx": "S1", "g_level_corrected": "1", "bed_chair": "v", "model": "linear", "param_0": "", "param_1": "2"},
	}}
	_, err = ParseParams(gap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gap")

	bad := &trial.Table{Headers: headers, Rows: []trial.Row{
		{"subj_idx": "S1", "g_level_corrected": "1", "bed_chair": "v", "model": "linear", "param_0": "x"},
	}}
	_, err = ParseParams(bad)
	require.Error(t, err)
}

func TestWriteGOFAndAnova(t *testing.T) {
	e := NewExporter(t.TempDir(), nil, nil)
	key := trial.GroupKey{Subject: "S2", Gravity: "0", Posture: "v"}

	path, err := e.WriteGOF("goodness_of_fit_dv", []fit.GOFRow{
		{Key: key, Model: "linear", RSquared: 0.75, RMSE: 1.5},
		{Key: key, Model: "cubic", RSquared: fit.Missing, RMSE: fit.Missing},
	})
	require.NoError(t, err)
	tbl, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"subj_idx", "g_level_corrected", "bed_chair", "model", "R_squared", "RMSE"}, tbl.Headers)
	assert.Equal(t, "0.75", tbl.Rows[0][ColRSquared])
	assert.Equal(t, "", tbl.Rows[1][ColRMSE])

	result := anova.Result{
		Model: "linear",
		Tables: []anova.Table{{
			Parameter: "param_0",
			Rows: []anova.EffectRow{
				{Effect: anova.EffectGravity, NumDF: 2, DenDF: 4, F: 3.5, PValue: 0.13},
				{Effect: anova.EffectPosture, NumDF: 1, DenDF: 2, F: fit.Missing, PValue: fit.Missing},
			},
		}},
		Skipped: []anova.Skip{{Parameter: "param_1", Reason: "missing"}},
	}
	path, err = e.WriteAnova("anova_results_dv_linear", result)
	require.NoError(t, err)
	tbl, err = ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"parameter", "effect", "num_df", "den_df", "F", "p_value"}, tbl.Headers)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "g_level_corrected", tbl.Rows[0][ColEffect])
	assert.Equal(t, "3.5", tbl.Rows[0][ColF])
	assert.Equal(t, "", tbl.Rows[1][ColPValue])
}

func TestWriteDescriptives(t *testing.T) {
	e := NewExporter(t.TempDir(), nil, nil)
	res := descriptives.Result{
		GroupVars: []string{"g_level_corrected", "bed_chair"},
		Variables: []string{"dv"},
		Subjects: []descriptives.SubjectRow{
			{Levels: []string{"1", "v"}, Subject: "S1", Stats: []descriptives.Summary{{Count: 1, Mean: 2, Std: fit.Missing}}},
		},
		Grand: []descriptives.GrandRow{
			{Levels: []string{"1", "v"}, Stats: []descriptives.Summary{{Count: 1, Mean: 2, Std: fit.Missing}}},
		},
	}

	path, err := e.WriteSubjectStats("subj_stats_dv", res)
	require.NoError(t, err)
	tbl, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"g_level_corrected", "bed_chair", "subj_idx", "dv_count", "dv_mean", "dv_std"}, tbl.Headers)
	assert.Equal(t, "1", tbl.Rows[0]["dv_count"])

	path, err = e.WriteGrandMeans("grand_means_dv", res)
	require.NoError(t, err)
	tbl, err = ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"g_level_corrected", "bed_chair", "dv_mean", "dv_std"}, tbl.Headers)
}

func TestCodecs(t *testing.T) {
	_, err := NewCodec("lz4")
	require.Error(t, err)

	assert.Equal(t, "gzip", CodecForPath("x.csv.gz").Name())
	assert.Equal(t, "zstd", CodecForPath("x.csv.zst").Name())
	assert.Equal(t, "none", CodecForPath("x.csv").Name())

	payload := []byte(strings.Repeat("subj_idx,g_level_corrected\n", 100))
	for _, c := range []Codec{GzipCodec{}, ZstdCodec{}} {
		packed, err := c.Compress(payload)
		require.NoError(t, err)
		assert.Less(t, len(packed), len(payload))
		unpacked, err := c.Decompress(packed)
		require.NoError(t, err)
		assert.Equal(t, payload, unpacked)
	}

	_, err = GzipCodec{}.Decompress([]byte("not gzip"))
	assert.Error(t, err)
}

func TestWriteTable(t *testing.T) {
	e := NewExporter(t.TempDir(), GzipCodec{}, nil)
	path, err := e.WriteTable("d_ml_trials_cleaned_allsubj", &trial.Table{
		Headers: []string{"b", "a"},
		Rows:    []trial.Row{{"a": "1", "b": "2"}},
	})
	require.NoError(t, err)

	tbl, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, tbl.Headers)
	assert.Equal(t, "1", tbl.Rows[0]["a"])
}
