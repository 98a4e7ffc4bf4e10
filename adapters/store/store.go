// Package store persists run results in a relational database.
package store

import (
	"context"
	"fmt"

	"gravfit/internal"
	"gravfit/internal/errors"
	"gravfit/internal/migration"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know; queries are written with ?
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store wraps a database holding run results
type Store struct {
	db     *sqlx.DB
	logger *internal.Logger
}

// Open connects to the database and creates the schema when absent
func Open(ctx context.Context, driver, dsn string, logger *internal.Logger) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unsupported results database driver %q", driver))
	}
	if logger == nil {
		logger = internal.NopLogger()
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.StoreError("connect to results database", err)
	}
	if driver == DriverSQLite {
		// in-memory databases are per connection
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, logger: logger.With("store")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("results database ready (%s)", driver)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	runner := migration.NewRunner()
	if err := runner.Run(ctx, s.db); err != nil {
		return err
	}
	s.logger.Trace("results schema at version %s", runner.Version())
	return nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}
