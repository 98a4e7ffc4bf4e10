// Package testkit generates synthetic trial datasets for tests.
package testkit

import (
	"encoding/csv"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"gravfit/domain/trial"
)

// TrialGeneratorConfig configures the trial data generator. The response is
//
//	y = Intercept + PostureShift[posture] + SubjectSD·u_s + (Slope + GravitySlope·g)·x + NoiseSD·ε
//
// with one u_s per subject and one ε per trial.
type TrialGeneratorConfig struct {
	Subjects      []string
	GravityLevels []float64
	Postures      []string
	XValues       []float64
	TrialsPerX    int

	XColumn string
	YColumn string

	Intercept    float64
	Slope        float64
	GravitySlope float64
	PostureShift map[string]float64
	SubjectSD    float64
	NoiseSD      float64
	Seed         int64
}

// DefaultTrialConfig returns a balanced 3 subject × 3 gravity × 2 posture design
func DefaultTrialConfig() TrialGeneratorConfig {
	return TrialGeneratorConfig{
		Subjects:      []string{"S1", "S2", "S3"},
		GravityLevels: []float64{0, 1, 1.8},
		Postures:      []string{"v", "r"},
		XValues:       []float64{1, 2, 3, 4, 5, 6},
		TrialsPerX:    1,
		XColumn:       "intended_abs_peak_velocity",
		YColumn:       "indicated_displacement",
		Intercept:     2,
		Slope:         0.5,
		GravitySlope:  1,
		PostureShift:  map[string]float64{"v": 1},
		SubjectSD:     0.3,
		NoiseSD:       0.02,
		Seed:          42,
	}
}

// TrialDataGenerator produces the same table for the same seed
type TrialDataGenerator struct {
	config TrialGeneratorConfig
	rng    *rand.Rand
}

// NewTrialDataGenerator creates a new trial data generator
func NewTrialDataGenerator(config TrialGeneratorConfig) *TrialDataGenerator {
	if config.TrialsPerX <= 0 {
		config.TrialsPerX = 1
	}
	return &TrialDataGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate builds the table in subject, gravity, posture, x order
func (g *TrialDataGenerator) Generate() *trial.Table {
	c := g.config
	t := &trial.Table{Headers: []string{trial.ColSubject, trial.ColGravity, trial.ColPosture, c.XColumn, c.YColumn}}
	for _, subject := range c.Subjects {
		offset := g.rng.NormFloat64() * c.SubjectSD
		for _, level := range c.GravityLevels {
			for _, posture := range c.Postures {
				for _, x := range c.XValues {
					for k := 0; k < c.TrialsPerX; k++ {
						y := c.Intercept + c.PostureShift[posture] + offset +
							g.TrueSlope(level)*x + g.rng.NormFloat64()*c.NoiseSD
						t.Rows = append(t.Rows, trial.Row{
							trial.ColSubject: subject,
							trial.ColGravity: format(level),
							trial.ColPosture: posture,
							c.XColumn:        format(x),
							c.YColumn:        format(y),
						})
					}
				}
			}
		}
	}
	return t
}

// TrueSlope is the noiseless slope at a gravity level
func (g *TrialDataGenerator) TrueSlope(level float64) float64 {
	return g.config.Slope + g.config.GravitySlope*level
}

// WriteCSV writes t to dir/name, creating dir
func WriteCSV(dir, name string, t *trial.Table) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		return "", err
	}
	for _, row := range t.Rows {
		rec := make([]string, len(t.Headers))
		for i, h := range t.Headers {
			rec[i] = row[h]
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
