package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gravfit/domain/anova"
	"gravfit/domain/core"
	"gravfit/domain/fit"
	"gravfit/domain/run"
	"gravfit/domain/trial"
	"gravfit/internal/errors"

	"github.com/jmoiron/sqlx"
)

type paramRecord struct {
	RunID   string `db:"run_id"`
	DepVar  string `db:"dependent_var"`
	Subject string `db:"subj_idx"`
	Gravity string `db:"g_level"`
	Posture string `db:"posture"`
	Model   string `db:"model"`
	Params  string `db:"params"`
	Failure string `db:"failure"`
}

type gofRecord struct {
	RunID    string          `db:"run_id"`
	DepVar   string          `db:"dependent_var"`
	Subject  string          `db:"subj_idx"`
	Gravity  string          `db:"g_level"`
	Posture  string          `db:"posture"`
	Model    string          `db:"model"`
	RSquared sql.NullFloat64 `db:"r_squared"`
	RMSE     sql.NullFloat64 `db:"rmse"`
}

type effectRecord struct {
	RunID     string          `db:"run_id"`
	DepVar    string          `db:"dependent_var"`
	Model     string          `db:"model"`
	Parameter string          `db:"parameter"`
	Effect    string          `db:"effect"`
	NumDF     float64         `db:"num_df"`
	DenDF     float64         `db:"den_df"`
	F         sql.NullFloat64 `db:"f_value"`
	PValue    sql.NullFloat64 `db:"p_value"`
}

func nullable(v float64) sql.NullFloat64 {
	if fit.IsMissing(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return fit.Missing
	}
	return v.Float64
}

// SaveRun inserts or replaces the manifest of a run
func (s *Store) SaveRun(ctx context.Context, m *run.Manifest) error {
	payload, err := m.Marshal()
	if err != nil {
		return errors.StoreError("marshal run manifest", err)
	}
	return s.inTx(ctx, "save run", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM runs WHERE run_id = ?`), m.RunID.String()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO runs (run_id, started_at, finished_at, fingerprint, manifest) VALUES (?, ?, ?, ?, ?)`),
			m.RunID.String(), m.StartedAt.Format(time.RFC3339Nano), m.FinishedAt.Format(time.RFC3339Nano),
			m.Fingerprint.Hash.String(), string(payload))
		return err
	})
}

// LoadRun reads back a stored manifest
func (s *Store) LoadRun(ctx context.Context, id core.RunID) (*run.Manifest, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, s.db.Rebind(`SELECT manifest FROM runs WHERE run_id = ?`), id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.StoreError(fmt.Sprintf("run not found: %s", id), err)
		}
		return nil, errors.StoreError("load run", err)
	}
	var m run.Manifest
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, errors.StoreError("decode run manifest", err)
	}
	return &m, nil
}

// SaveParams replaces the fitted parameters of one dependent variable
func (s *Store) SaveParams(ctx context.Context, id core.RunID, depVar string, table fit.ParamTable) error {
	return s.inTx(ctx, "save fitted parameters", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM fitted_params WHERE run_id = ? AND dependent_var = ?`), id.String(), depVar); err != nil {
			return err
		}
		for _, r := range table.Rows {
			params := r.Params
			if params == nil {
				params = []float64{}
			}
			encoded, err := json.Marshal(params)
			if err != nil {
				return err
			}
			rec := paramRecord{
				RunID: id.String(), DepVar: depVar,
				Subject: r.Key.Subject, Gravity: r.Key.Gravity, Posture: r.Key.Posture,
				Model: r.Model, Params: string(encoded), Failure: r.Failure,
			}
			if _, err := tx.NamedExecContext(ctx, `INSERT INTO fitted_params
				(run_id, dependent_var, subj_idx, g_level, posture, model, params, failure)
				VALUES (:run_id, :dependent_var, :subj_idx, :g_level, :posture, :model, :params, :failure)`, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadParams returns the stored parameters ordered by model and group key
func (s *Store) LoadParams(ctx context.Context, id core.RunID, depVar string) (fit.ParamTable, error) {
	var records []paramRecord
	err := s.db.SelectContext(ctx, &records, s.db.Rebind(`SELECT run_id, dependent_var, subj_idx, g_level, posture, model, params, failure
		FROM fitted_params WHERE run_id = ? AND dependent_var = ?`), id.String(), depVar)
	if err != nil {
		return fit.ParamTable{}, errors.StoreError("load fitted parameters", err)
	}

	out := fit.ParamTable{Rows: make([]fit.ParamRow, 0, len(records))}
	for _, rec := range records {
		var params []float64
		if err := json.Unmarshal([]byte(rec.Params), &params); err != nil {
			return fit.ParamTable{}, errors.StoreError("decode fitted parameters", err)
		}
		if len(params) == 0 {
			params = nil
		}
		out.Rows = append(out.Rows, fit.ParamRow{
			Key:     trial.GroupKey{Subject: rec.Subject, Gravity: rec.Gravity, Posture: rec.Posture},
			Model:   rec.Model,
			Params:  params,
			Failure: rec.Failure,
		})
	}
	sortParamRows(out.Rows)
	return out, nil
}

// SaveGOF replaces the goodness-of-fit rows of one dependent variable
func (s *Store) SaveGOF(ctx context.Context, id core.RunID, depVar string, rows []fit.GOFRow) error {
	return s.inTx(ctx, "save goodness of fit", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM goodness_of_fit WHERE run_id = ? AND dependent_var = ?`), id.String(), depVar); err != nil {
			return err
		}
		for _, r := range rows {
			rec := gofRecord{
				RunID: id.String(), DepVar: depVar,
				Subject: r.Key.Subject, Gravity: r.Key.Gravity, Posture: r.Key.Posture,
				Model: r.Model, RSquared: nullable(r.RSquared), RMSE: nullable(r.RMSE),
			}
			if _, err := tx.NamedExecContext(ctx, `INSERT INTO goodness_of_fit
				(run_id, dependent_var, subj_idx, g_level, posture, model, r_squared, rmse)
				VALUES (:run_id, :dependent_var, :subj_idx, :g_level, :posture, :model, :r_squared, :rmse)`, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadGOF returns stored goodness-of-fit rows; NULLs come back missing
func (s *Store) LoadGOF(ctx context.Context, id core.RunID, depVar string) ([]fit.GOFRow, error) {
	var records []gofRecord
	err := s.db.SelectContext(ctx, &records, s.db.Rebind(`SELECT run_id, dependent_var, subj_idx, g_level, posture, model, r_squared, rmse
		FROM goodness_of_fit WHERE run_id = ? AND dependent_var = ? ORDER BY model, subj_idx, g_level, posture`), id.String(), depVar)
	if err != nil {
		return nil, errors.StoreError("load goodness of fit", err)
	}
	out := make([]fit.GOFRow, 0, len(records))
	for _, rec := range records {
		out = append(out, fit.GOFRow{
			Key:      trial.GroupKey{Subject: rec.Subject, Gravity: rec.Gravity, Posture: rec.Posture},
			Model:    rec.Model,
			RSquared: fromNullable(rec.RSquared),
			RMSE:     fromNullable(rec.RMSE),
		})
	}
	return out, nil
}

// SaveAnova replaces the ANOVA effects of one model for a dependent variable
func (s *Store) SaveAnova(ctx context.Context, id core.RunID, depVar string, result anova.Result) error {
	return s.inTx(ctx, "save ANOVA", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM anova_effects WHERE run_id = ? AND dependent_var = ? AND model = ?`),
			id.String(), depVar, result.Model); err != nil {
			return err
		}
		for _, t := range result.Tables {
			for _, r := range t.Rows {
				rec := effectRecord{
					RunID: id.String(), DepVar: depVar, Model: result.Model,
					Parameter: t.Parameter, Effect: string(r.Effect),
					NumDF: r.NumDF, DenDF: r.DenDF, F: nullable(r.F), PValue: nullable(r.PValue),
				}
				if _, err := tx.NamedExecContext(ctx, `INSERT INTO anova_effects
					(run_id, dependent_var, model, parameter, effect, num_df, den_df, f_value, p_value)
					VALUES (:run_id, :dependent_var, :model, :parameter, :effect, :num_df, :den_df, :f_value, :p_value)`, rec); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadAnova returns the stored effect rows of one model grouped by parameter
func (s *Store) LoadAnova(ctx context.Context, id core.RunID, depVar, model string) (anova.Result, error) {
	var records []effectRecord
	err := s.db.SelectContext(ctx, &records, s.db.Rebind(`SELECT run_id, dependent_var, model, parameter, effect, num_df, den_df, f_value, p_value
		FROM anova_effects WHERE run_id = ? AND dependent_var = ? AND model = ? ORDER BY parameter`), id.String(), depVar, model)
	if err != nil {
		return anova.Result{}, errors.StoreError("load ANOVA", err)
	}

	result := anova.Result{Model: model}
	byParam := make(map[string]int)
	for _, rec := range records {
		i, ok := byParam[rec.Parameter]
		if !ok {
			i = len(result.Tables)
			byParam[rec.Parameter] = i
			result.Tables = append(result.Tables, anova.Table{Parameter: rec.Parameter})
		}
		result.Tables[i].Rows = append(result.Tables[i].Rows, anova.EffectRow{
			Effect: anova.Effect(rec.Effect),
			NumDF:  rec.NumDF, DenDF: rec.DenDF,
			F: fromNullable(rec.F), PValue: fromNullable(rec.PValue),
		})
	}
	for i := range result.Tables {
		sortEffects(result.Tables[i].Rows)
	}
	return result, nil
}

func sortParamRows(rows []fit.ParamRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Model != rows[j].Model {
			return rows[i].Model < rows[j].Model
		}
		return trial.CompareKeys(rows[i].Key, rows[j].Key) < 0
	})
}

// sortEffects restores gravity, posture, interaction order
func sortEffects(rows []anova.EffectRow) {
	rank := make(map[anova.Effect]int, len(anova.Effects))
	for i, e := range anova.Effects {
		rank[e] = i
	}
	sort.SliceStable(rows, func(i, j int) bool { return rank[rows[i].Effect] < rank[rows[j].Effect] })
}

func (s *Store) inTx(ctx context.Context, what string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.StoreError(what, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return errors.StoreError(what, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.StoreError(what, err)
	}
	return nil
}
