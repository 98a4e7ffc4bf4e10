package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gravfit/adapters/charts"
	"gravfit/adapters/excel"
	"gravfit/adapters/export"
	"gravfit/adapters/report"
	"gravfit/domain/anova"
	"gravfit/domain/core"
	"gravfit/domain/fit"
	"gravfit/domain/run"
	"gravfit/domain/trial"
	"gravfit/internal"
	"gravfit/internal/config"
	"gravfit/internal/curvefit"
	"gravfit/internal/descriptives"
	"gravfit/internal/errors"
	"gravfit/internal/goodness"
	"gravfit/internal/models"
	"gravfit/internal/rmanova"
)

// Version is stamped into run fingerprints; overridden at link time
var Version = "dev"

// ResultStore persists result tables keyed by run id
type ResultStore interface {
	SaveRun(ctx context.Context, m *run.Manifest) error
	SaveParams(ctx context.Context, id core.RunID, depVar string, table fit.ParamTable) error
	SaveGOF(ctx context.Context, id core.RunID, depVar string, rows []fit.GOFRow) error
	SaveAnova(ctx context.Context, id core.RunID, depVar string, result anova.Result) error
}

// Pipeline runs descriptives, fitting, goodness of fit and ANOVA for each dependent variable
type Pipeline struct {
	cfg       *config.Config
	registry  *models.Registry
	engine    *curvefit.Engine
	evaluator *goodness.Evaluator
	analyzer  *rmanova.Analyzer
	stats     *descriptives.Calculator
	codec     export.Codec
	store     ResultStore
	logger    *internal.Logger

	datasets map[string]*trial.Table
	now      func() time.Time
}

// NewPipeline wires the analysis components from configuration. store may be nil.
func NewPipeline(cfg *config.Config, store ResultStore, logger *internal.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.InvalidInput("pipeline: nil configuration")
	}
	if logger == nil {
		logger = internal.NopLogger()
	}

	registry := models.NewRegistry()
	engine, err := curvefit.NewEngine(registry, cfg.FitSettings(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fitting engine")
	}
	codec, err := export.NewCodec(cfg.Output.Compression)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}

	return &Pipeline{
		cfg:       cfg,
		registry:  registry,
		engine:    engine,
		evaluator: goodness.NewEvaluator(registry, logger),
		analyzer:  rmanova.NewAnalyzer(logger),
		stats:     descriptives.NewCalculator(logger),
		codec:     codec,
		store:     store,
		logger:    logger.With("pipeline"),
		datasets:  make(map[string]*trial.Table),
		now:       time.Now,
	}, nil
}

// Models returns the configured curve functions that exist in the registry; unknown names are warned about and dropped
func (p *Pipeline) Models() ([]string, error) {
	var out []string
	for _, name := range p.cfg.Analysis.CurveFunctions {
		if _, err := p.registry.Lookup(name); err != nil {
			p.logger.Warn("model %s not found in registry; skipping", name)
			continue
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, errors.ConfigInvalid(fmt.Sprintf("none of CURVE_FUNCTIONS %v are known models", p.cfg.Analysis.CurveFunctions))
	}
	return out, nil
}

// Run executes the full analysis and writes the run manifest. Optional cleaning runs first.
func (p *Pipeline) Run(ctx context.Context) (*run.Manifest, error) {
	modelNames, err := p.Models()
	if err != nil {
		return nil, err
	}
	m := run.NewManifest(modelNames, p.cfg.Analysis.DepVars, p.now())
	p.logger.Info("starting run %s: %d dependent variables, models %v", m.RunID, len(m.DepVars), modelNames)

	if p.cfg.Cleaning.Enabled {
		paths, err := p.Clean(ctx)
		if err != nil {
			return m, errors.Wrap(err, "data cleaning failed")
		}
		for _, path := range paths {
			m.AddOutput("", run.StageCleaning, path)
		}
	}

	resultsDir := p.cfg.Paths.ResultsDir
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return m, errors.IOError("create results directory", err)
	}

	var sections []report.Section
	for _, depVar := range p.cfg.Analysis.DepVars {
		if err := ctx.Err(); err != nil {
			return m, errors.Wrap(err, "run cancelled")
		}
		section, summary, err := p.analyze(ctx, m, depVar, modelNames)
		if err != nil {
			return m, errors.Wrapf(err, "analysis of %s failed", depVar)
		}
		m.Summaries = append(m.Summaries, summary)
		sections = append(sections, section)
	}

	m.Finish(p.settingsEcho(), Version, p.now())

	if p.cfg.Output.ReportEnabled {
		paths, err := report.NewWriter(resultsDir, p.logger).Write(m, sections)
		if err != nil {
			return m, errors.IOError("write report", err)
		}
		for _, path := range paths {
			m.AddOutput("", run.StageReport, path)
		}
	}

	if err := p.writeManifest(ctx, m); err != nil {
		return m, err
	}
	p.logger.Info("analysis complete; results saved in %s", resultsDir)
	return m, nil
}

// analyze runs every stage for one dependent variable. Unknown variables and missing datasets
// are recorded as skipped rather than failing the run.
func (p *Pipeline) analyze(ctx context.Context, m *run.Manifest, depVar string, modelNames []string) (report.Section, run.DepVarSummary, error) {
	section := report.Section{DepVar: depVar}
	summary := run.DepVarSummary{
		DepVar:       depVar,
		FitFailures:  make(map[string]int),
		AnovaSkipped: make(map[string]int),
	}
	skip := func(reason string) (report.Section, run.DepVarSummary, error) {
		section.Skipped = reason
		summary.Skipped = reason
		return section, summary, nil
	}

	dataset, ok := DatasetFor(depVar)
	if !ok {
		p.logger.Warn("dependent variable %s not recognized; skipping", depVar)
		return skip("dependent variable not recognized")
	}
	trials, path, err := p.loadDataset(m, dataset)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			p.logger.Error("expected dataset file missing: %s", path)
			return skip("dataset file missing: " + filepath.Base(path))
		}
		return section, summary, err
	}
	section.Dataset = filepath.Base(path)
	summary.Dataset = section.Dataset

	dir := p.depVarDir(depVar)
	exp := export.NewExporter(dir, p.codec, p.logger)
	record := func(stage run.Stage, path string) {
		m.AddOutput(depVar, stage, path)
	}

	p.logger.Info("computing descriptive statistics for %s", depVar)
	desc, err := p.stats.Compute(trials, []string{depVar}, p.cfg.Analysis.GroupVars)
	if err != nil {
		return section, summary, err
	}
	path, err = exp.WriteSubjectStats("subj_stats_"+depVar, desc)
	if err != nil {
		return section, summary, err
	}
	record(run.StageDescriptives, path)
	path, err = exp.WriteGrandMeans("grand_means_"+depVar, desc)
	if err != nil {
		return section, summary, err
	}
	record(run.StageDescriptives, path)

	p.logger.Info("performing curve fitting for %s", depVar)
	params, err := p.fitModels(ctx, trials, depVar, modelNames)
	if err != nil {
		return section, summary, err
	}
	for _, name := range modelNames {
		summary.FitFailures[name] = fit.ParamTable{Rows: params.ForModel(name)}.Failures()
	}
	summary.Groups = len(params.ForModel(modelNames[0]))
	path, err = exp.WriteParams("fitted_parameters_"+depVar, params)
	if err != nil {
		return section, summary, err
	}
	record(run.StageFit, path)
	if p.store != nil {
		if err := p.store.SaveParams(ctx, m.RunID, depVar, params); err != nil {
			return section, summary, err
		}
	}

	p.logger.Info("computing goodness-of-fit for %s", depVar)
	gof, err := p.evaluateModels(trials, depVar, modelNames, params)
	if err != nil {
		return section, summary, err
	}
	path, err = exp.WriteGOF("goodness_of_fit_"+depVar, gof)
	if err != nil {
		return section, summary, err
	}
	record(run.StageGOF, path)
	if p.store != nil {
		if err := p.store.SaveGOF(ctx, m.RunID, depVar, gof); err != nil {
			return section, summary, err
		}
	}
	if p.cfg.Output.ChartsEnabled {
		paths, err := charts.NewRenderer(p.cfg.Paths.ResultsDir, p.logger).GOFComparison(gof, depVar)
		if err != nil {
			p.logger.Warn("goodness-of-fit charts for %s failed: %v", depVar, err)
		}
		for _, path := range paths {
			record(run.StageCharts, path)
		}
	}

	p.logger.Info("running ANOVAs for each model's parameters, %s", depVar)
	for _, name := range modelNames {
		result, ok, err := p.analyzeModel(params, name)
		if err != nil {
			return section, summary, err
		}
		if !ok {
			continue
		}
		summary.AnovaSkipped[name] = len(result.Skipped)
		path, err := exp.WriteAnova(anovaFileName(depVar, name), result)
		if err != nil {
			return section, summary, err
		}
		record(run.StageAnova, path)
		if p.store != nil {
			if err := p.store.SaveAnova(ctx, m.RunID, depVar, result); err != nil {
				return section, summary, err
			}
		}
		if p.cfg.Output.ChartsEnabled {
			paths, err := charts.NewRenderer(dir, p.logger).ParamMeans(params, result, depVar)
			if err != nil {
				p.logger.Warn("parameter charts for %s %s failed: %v", depVar, name, err)
			}
			for _, path := range paths {
				record(run.StageCharts, path)
			}
		}
		section.Anova = append(section.Anova, result)
	}

	section.Params = params
	section.GOF = gof
	return section, summary, nil
}

// fitModels fits each model and concatenates the per-model tables in model order
func (p *Pipeline) fitModels(ctx context.Context, trials *trial.Table, depVar string, modelNames []string) (fit.ParamTable, error) {
	tables := make([]fit.ParamTable, 0, len(modelNames))
	for _, name := range modelNames {
		t, err := p.engine.Fit(ctx, trials, p.cfg.Analysis.Subjects, p.cfg.Analysis.XVar, depVar, name)
		if err != nil {
			return fit.ParamTable{}, err
		}
		tables = append(tables, t)
	}
	return fit.Concat(tables...), nil
}

func (p *Pipeline) evaluateModels(trials *trial.Table, depVar string, modelNames []string, params fit.ParamTable) ([]fit.GOFRow, error) {
	var out []fit.GOFRow
	for _, name := range modelNames {
		rows, err := p.evaluator.Evaluate(trials, p.cfg.Analysis.XVar, depVar, name, params.Rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// analyzeModel runs the ANOVA for one model. ok is false when the table holds no rows for it.
func (p *Pipeline) analyzeModel(params fit.ParamTable, name string) (anova.Result, bool, error) {
	result, err := p.analyzer.Analyze(params, name)
	if err != nil {
		if errors.GetCode(err) == errors.CodeInvalidInput {
			p.logger.Warn("no fitted parameters for %s; skipping ANOVA", name)
			return result, false, nil
		}
		return result, false, err
	}
	return result, true, nil
}

// loadDataset reads a cleaned dataset once per run and records its hash on the manifest
func (p *Pipeline) loadDataset(m *run.Manifest, dataset string) (*trial.Table, string, error) {
	path := filepath.Join(p.cfg.Paths.DataDirCleaned, DatasetFile(dataset))
	if t, ok := p.datasets[path]; ok {
		return t, path, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, path, err
	}

	t, err := excel.NewDataReader(path, p.logger).ReadData()
	if err != nil {
		return nil, path, errors.IOError("read dataset "+dataset, err)
	}
	if m != nil {
		hash, err := core.HashFile(path)
		if err != nil {
			return nil, path, errors.IOError("hash dataset "+dataset, err)
		}
		m.AddInput(run.Input{Name: dataset, Path: path, Hash: hash})
	}
	p.logger.Debug("loaded %s: %d rows, %d columns", dataset, len(t.Rows), len(t.Headers))
	p.datasets[path] = t
	return t, path, nil
}

func (p *Pipeline) writeManifest(ctx context.Context, m *run.Manifest) error {
	if err := m.Validate(); err != nil {
		return errors.WithCode(errors.CodeInternalError, err)
	}
	data, err := m.Marshal()
	if err != nil {
		return errors.IOError("encode run manifest", err)
	}
	path := filepath.Join(p.cfg.Paths.ResultsDir, run.ManifestFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.IOError("write run manifest", err)
	}
	if p.store != nil {
		if err := p.store.SaveRun(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// settingsEcho is the configuration that determines the run's results
func (p *Pipeline) settingsEcho() map[string]string {
	a := p.cfg.Analysis
	return map[string]string{
		"x_var":           a.XVar,
		"group_vars":      strings.Join(a.GroupVars, ","),
		"dep_vars":        strings.Join(a.DepVars, ","),
		"curve_functions": strings.Join(a.CurveFunctions, ","),
		"subj_to_keep":    strings.Join(a.Subjects, ","),
		"fit_method":      p.cfg.Fit.Method,
		"fit_max_iter":    strconv.Itoa(p.cfg.Fit.MaxIter),
	}
}

func (p *Pipeline) depVarDir(depVar string) string {
	return filepath.Join(p.cfg.Paths.ResultsDir, depVar)
}

func anovaFileName(depVar, model string) string {
	return fmt.Sprintf("anova_results_%s_%s", depVar, model)
}
