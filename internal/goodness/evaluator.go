// Package goodness recomputes model predictions from stored parameters and scores them.
package goodness

import (
	"math"

	"gravfit/domain/fit"
	"gravfit/domain/trial"
	"gravfit/internal"
	"gravfit/internal/errors"
	"gravfit/internal/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Evaluator scores fitted parameter rows against the trials they were fitted to
type Evaluator struct {
	registry *models.Registry
	logger   *internal.Logger
}

// NewEvaluator creates a goodness-of-fit evaluator
func NewEvaluator(registry *models.Registry, logger *internal.Logger) *Evaluator {
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Evaluator{registry: registry, logger: logger.With("goodness")}
}

// Evaluate computes R² and RMSE for every row of modelName. Rows of other models are skipped;
// failed fits and degenerate groups yield missing statistics, never errors.
func (e *Evaluator) Evaluate(trials *trial.Table, xCol, yCol, modelName string, rows []fit.ParamRow) ([]fit.GOFRow, error) {
	model, err := e.registry.Lookup(modelName)
	if err != nil {
		return nil, errors.UnknownModel(modelName, err)
	}
	obs, err := trial.Observations(trials, xCol, yCol)
	if err != nil {
		return nil, errors.InputShape("goodness-of-fit input rejected", err)
	}

	var out []fit.GOFRow
	missing := 0
	for _, row := range rows {
		if row.Model != model.Name {
			continue
		}
		g := trial.Select(obs, row.Key).Finite()
		r2, rmse := Score(model, g, row.Params)
		if fit.IsMissing(r2) || fit.IsMissing(rmse) {
			missing++
		}
		out = append(out, fit.GOFRow{Key: row.Key, Model: row.Model, RSquared: r2, RMSE: rmse})
	}
	e.logger.Info("%s: evaluated %d rows (%d with missing statistics)", model.Name, len(out), missing)
	return out, nil
}

// Score evaluates the model at the group's x values using only model.Arity parameters.
// R² is missing when y has zero variance; both are missing without parameters or data.
func Score(model models.Model, g trial.Group, params []float64) (rSquared, rmse float64) {
	if len(params) < model.Arity || g.Len() == 0 {
		return fit.Missing, fit.Missing
	}
	pred := model.Eval(g.X, params)

	resid := make([]float64, len(g.Y))
	floats.SubTo(resid, g.Y, pred)
	ssRes := floats.Dot(resid, resid)

	mean := stat.Mean(g.Y, nil)
	dev := append([]float64(nil), g.Y...)
	floats.AddConst(-mean, dev)
	ssTot := floats.Dot(dev, dev)

	rmse = math.Sqrt(ssRes / float64(len(g.Y)))
	// constant y up to rounding
	if ssTot <= 1e-20*floats.Dot(g.Y, g.Y) {
		return fit.Missing, rmse
	}
	return 1 - ssRes/ssTot, rmse
}
