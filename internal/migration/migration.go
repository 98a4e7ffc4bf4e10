package migration

import (
	"context"

	"gravfit/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the results schema. Every statement is idempotent and portable
// between SQLite and PostgreSQL.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the schema version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all migrations in order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	steps := []struct {
		name string
		fn   func(context.Context, *sqlx.DB) error
	}{
		{"runs table", r.createRunsTable},
		{"fitted_params table", r.createFittedParamsTable},
		{"goodness_of_fit table", r.createGoodnessOfFitTable},
		{"anova_effects table", r.createAnovaEffectsTable},
		{"indexes", r.createIndexes},
	}
	for _, step := range steps {
		if err := step.fn(ctx, db); err != nil {
			return errors.StoreError("failed to create "+step.name, err)
		}
	}
	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			manifest    TEXT NOT NULL
		)
	`)
	return err
}

// params holds a JSON array so models of any arity share the table
func (r *MigrationRunner) createFittedParamsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fitted_params (
			run_id        TEXT NOT NULL,
			dependent_var TEXT NOT NULL,
			subj_idx      TEXT NOT NULL,
			g_level       TEXT NOT NULL,
			posture       TEXT NOT NULL,
			model         TEXT NOT NULL,
			params        TEXT NOT NULL,
			failure       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, dependent_var, subj_idx, g_level, posture, model)
		)
	`)
	return err
}

func (r *MigrationRunner) createGoodnessOfFitTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS goodness_of_fit (
			run_id        TEXT NOT NULL,
			dependent_var TEXT NOT NULL,
			subj_idx      TEXT NOT NULL,
			g_level       TEXT NOT NULL,
			posture       TEXT NOT NULL,
			model         TEXT NOT NULL,
			r_squared     DOUBLE PRECISION,
			rmse          DOUBLE PRECISION,
			PRIMARY KEY (run_id, dependent_var, subj_idx, g_level, posture, model)
		)
	`)
	return err
}

func (r *MigrationRunner) createAnovaEffectsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS anova_effects (
			run_id        TEXT NOT NULL,
			dependent_var TEXT NOT NULL,
			model         TEXT NOT NULL,
			parameter     TEXT NOT NULL,
			effect        TEXT NOT NULL,
			num_df        DOUBLE PRECISION NOT NULL,
			den_df        DOUBLE PRECISION NOT NULL,
			f_value       DOUBLE PRECISION,
			p_value       DOUBLE PRECISION,
			PRIMARY KEY (run_id, dependent_var, model, parameter, effect)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_fitted_params_model ON fitted_params(run_id, dependent_var, model)`,
		`CREATE INDEX IF NOT EXISTS idx_gof_model ON goodness_of_fit(run_id, dependent_var, model)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
