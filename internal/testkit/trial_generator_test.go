package testkit

import (
	"os"
	"testing"

	"gravfit/domain/trial"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrialDataGenerator_Deterministic(t *testing.T) {
	cfg := DefaultTrialConfig()
	a := NewTrialDataGenerator(cfg).Generate()
	b := NewTrialDataGenerator(cfg).Generate()
	assert.Equal(t, a, b)

	cfg.Seed = 7
	c := NewTrialDataGenerator(cfg).Generate()
	assert.NotEqual(t, a.Rows[0][cfg.YColumn], c.Rows[0][cfg.YColumn])
}

func TestTrialDataGenerator_Shape(t *testing.T) {
	cfg := DefaultTrialConfig()
	cfg.TrialsPerX = 2
	g := NewTrialDataGenerator(cfg)
	table := g.Generate()

	assert.Len(t, table.Rows, 3*3*2*6*2)
	require.NoError(t, table.Require(trial.ColSubject, trial.ColGravity, trial.ColPosture, cfg.XColumn, cfg.YColumn))
	assert.Equal(t, "1.8", table.Rows[len(table.Rows)-1][trial.ColGravity])
	assert.InDelta(t, 2.3, g.TrueSlope(1.8), 1e-12)

	obs, err := trial.Observations(table, cfg.XColumn, cfg.YColumn)
	require.NoError(t, err)
	assert.Len(t, trial.Partition(obs, nil), 18)
}

func TestWriteCSV(t *testing.T) {
	table := &trial.Table{
		Headers: []string{"a", "b"},
		Rows:    []trial.Row{{"a": "1", "b": "x,y"}},
	}
	path, err := WriteCSV(t.TempDir()+"/nested", "t.csv", table)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,\"x,y\"\n", string(raw))
}
