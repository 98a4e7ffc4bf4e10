// Package curvefit fits registered models to each (subject, gravity level, posture) group
// by nonlinear least squares.
package curvefit

import (
	"context"
	"fmt"

	"gravfit/domain/core"
	"gravfit/domain/fit"
	"gravfit/domain/trial"
	"gravfit/internal"
	"gravfit/internal/errors"
	"gravfit/internal/models"

	"golang.org/x/sync/errgroup"
)

// Engine fits models from a registry under fixed optimizer settings
type Engine struct {
	registry *models.Registry
	settings Settings
	logger   *internal.Logger
}

// NewEngine creates a fitting engine
func NewEngine(registry *models.Registry, settings Settings, logger *internal.Logger) (*Engine, error) {
	if registry == nil {
		return nil, errors.InvalidInput("curvefit: nil model registry")
	}
	if err := settings.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Engine{registry: registry, settings: settings, logger: logger.With("curvefit")}, nil
}

// Fit fits modelName to every fit group of trials, restricted to subjects when the filter is non-empty.
// Missing columns and unknown models abort the stage; per-group failures are recorded in the rows.
func (e *Engine) Fit(ctx context.Context, trials *trial.Table, subjects trial.SubjectFilter, xCol, yCol, modelName string) (fit.ParamTable, error) {
	model, err := e.registry.Lookup(modelName)
	if err != nil {
		return fit.ParamTable{}, errors.UnknownModel(modelName, err)
	}

	obs, err := trial.Observations(trials, xCol, yCol)
	if err != nil {
		return fit.ParamTable{}, errors.InputShape("curve fitting input rejected", err)
	}

	if subjects.IsEmpty() {
		e.logger.Warn("subject filter is empty; fitting all %d subjects", len(trial.Subjects(obs)))
	}
	groups := trial.Partition(obs, subjects)
	e.logger.Info("fitting %s model (%d params) to %d groups of %s ~ %s", model.Name, model.Arity, len(groups), yCol, xCol)

	rows := make([]fit.ParamRow, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.Workers)
	for i := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = e.FitGroup(model, groups[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fit.ParamTable{}, errors.Wrap(err, "curve fitting interrupted")
	}

	table := fit.ParamTable{Rows: rows}
	if failed := table.Failures(); failed > 0 {
		e.logger.Warn("%s: %d of %d groups failed to fit", model.Name, failed, len(rows))
	}
	return table, nil
}

// FitGroup fits one model to one group. It never returns an error: failures are recorded on the row.
func (e *Engine) FitGroup(model models.Model, group trial.Group) fit.ParamRow {
	row := fit.ParamRow{Key: group.Key, Model: model.Name}

	data := group.Finite()
	if dropped := group.Len() - data.Len(); dropped > 0 {
		e.logger.Debug("%s: dropped %d non-finite observations", group.Key, dropped)
	}

	if data.Len() < model.Arity {
		err := fmt.Errorf("%w: %d observations for %d parameters", core.ErrInsufficientData, data.Len(), model.Arity)
		e.logger.Warn("curve fitting failed for %s (%s): %v", group.Key, model.Name, err)
		row.Failure = err.Error()
		return row
	}

	p0 := make([]float64, model.Arity)
	for i := range p0 {
		p0[i] = 1
	}

	params, err := solve(problem{model: model, x: data.X, y: data.Y}, p0, e.settings)
	if err != nil {
		e.logger.Warn("curve fitting failed for %s (%s): %v", group.Key, model.Name, err)
		row.Failure = err.Error()
		return row
	}
	e.logger.Trace("%s (%s): params=%v", group.Key, model.Name, params)
	row.Params = params
	return row
}
