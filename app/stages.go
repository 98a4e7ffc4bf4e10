package app

import (
	"context"
	stderrors "errors"
	"io/fs"
	"strings"

	"gravfit/adapters/excel"
	"gravfit/adapters/export"
	"gravfit/domain/core"
	"gravfit/domain/fit"
	"gravfit/domain/trial"
	"gravfit/internal/errors"
)

// Clean combines the raw per-flight files of each trial group into the cleaned datasets the
// analysis reads. Groups without raw data are skipped with a warning.
func (p *Pipeline) Clean(ctx context.Context) ([]string, error) {
	cc := p.cfg.Cleaning
	keep, err := excel.ReadKeepList(cc.VarsToKeep)
	if err != nil {
		return nil, errors.IOError("read variables to keep", err)
	}

	cleaner := excel.NewCleaner(p.logger)
	// cleaned datasets stay plain CSV; the analysis reads them directly
	exp := export.NewExporter(cc.OutputDir, export.NoopCodec{}, p.logger)

	var paths []string
	for _, group := range excel.DefaultTrialGroups {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		p.logger.Info("processing %s", group.Folder)
		t, err := cleaner.ReadGroup(cc.RawDataDir, group)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, core.ErrEmptyTable) {
				p.logger.Warn("skipping %s: %v", group.Folder, err)
				continue
			}
			return paths, errors.IOError("read "+group.Folder, err)
		}
		excel.DeriveVariables(t)
		reduced, err := excel.Reduce(t, keep)
		if err != nil {
			return paths, errors.InputShape("reduce "+group.Name, err)
		}
		path, err := exp.WriteTable(strings.TrimSuffix(excel.CleanedFileName(group.Name), ".csv"), reduced)
		if err != nil {
			return paths, err
		}
		p.logger.Info("saved %s (%d rows, %d columns)", path, len(reduced.Rows), len(reduced.Headers))
		paths = append(paths, path)
	}
	return paths, nil
}

// FitStage fits every configured model for depVar and writes fitted_parameters_<dv>
func (p *Pipeline) FitStage(ctx context.Context, depVar string) (string, error) {
	modelNames, err := p.Models()
	if err != nil {
		return "", err
	}
	trials, err := p.datasetFor(depVar)
	if err != nil {
		return "", err
	}
	params, err := p.fitModels(ctx, trials, depVar, modelNames)
	if err != nil {
		return "", err
	}
	return p.exporter(depVar).WriteParams("fitted_parameters_"+depVar, params)
}

// GOFStage scores previously written parameters of depVar and writes goodness_of_fit_<dv>
func (p *Pipeline) GOFStage(ctx context.Context, depVar string) (string, error) {
	modelNames, err := p.Models()
	if err != nil {
		return "", err
	}
	trials, err := p.datasetFor(depVar)
	if err != nil {
		return "", err
	}
	params, err := p.readParams(depVar)
	if err != nil {
		return "", err
	}
	gof, err := p.evaluateModels(trials, depVar, modelNames, params)
	if err != nil {
		return "", err
	}
	return p.exporter(depVar).WriteGOF("goodness_of_fit_"+depVar, gof)
}

// AnovaStage analyzes previously written parameters of depVar, one file per model
func (p *Pipeline) AnovaStage(ctx context.Context, depVar string) ([]string, error) {
	modelNames, err := p.Models()
	if err != nil {
		return nil, err
	}
	params, err := p.readParams(depVar)
	if err != nil {
		return nil, err
	}
	exp := p.exporter(depVar)
	var paths []string
	for _, name := range modelNames {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		result, ok, err := p.analyzeModel(params, name)
		if err != nil {
			return paths, err
		}
		if !ok {
			continue
		}
		path, err := exp.WriteAnova(anovaFileName(depVar, name), result)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (p *Pipeline) datasetFor(depVar string) (*trial.Table, error) {
	dataset, ok := DatasetFor(depVar)
	if !ok {
		return nil, errors.InvalidInput("dependent variable not recognized: " + depVar)
	}
	t, path, err := p.loadDataset(nil, dataset)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.IOError("dataset file missing: "+path, err)
		}
		return nil, err
	}
	return t, nil
}

func (p *Pipeline) readParams(depVar string) (fit.ParamTable, error) {
	return export.ReadParams(p.exporter(depVar).Path("fitted_parameters_" + depVar))
}

func (p *Pipeline) exporter(depVar string) *export.Exporter {
	return export.NewExporter(p.depVarDir(depVar), p.codec, p.logger)
}
