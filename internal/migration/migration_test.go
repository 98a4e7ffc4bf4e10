package migration

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestRunner_CreatesSchemaIdempotently(t *testing.T) {
	ctx := context.Background()
	db, err := sqlx.ConnectContext(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	r := NewRunner()
	assert.Equal(t, "1.0.0", r.Version())
	require.NoError(t, r.Run(ctx, db))
	require.NoError(t, r.Run(ctx, db))

	var tables []string
	require.NoError(t, db.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`))
	assert.Equal(t, []string{"anova_effects", "fitted_params", "goodness_of_fit", "runs"}, tables)
}
