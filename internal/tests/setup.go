// Package tests holds end-to-end tests running the HTTP stack against a
// real PostgreSQL database.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/opina/server/internal/db"
)

var (
	containerOnce sync.Once
	container     *postgres.PostgresContainer
	containerDSN  string
	containerErr  error
)

// databaseURL returns DATABASE_URL when set, otherwise the DSN of a
// throwaway PostgreSQL container shared by the package.
func databaseURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	if testing.Short() {
		t.Skip("DATABASE_URL not set")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	containerOnce.Do(func() {
		ctx := context.Background()
		container, containerErr = postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("opina_test"),
			postgres.WithUsername("opina"),
			postgres.WithPassword("opina"),
			postgres.BasicWaitStrategies(),
		)
		if containerErr != nil {
			return
		}
		containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("postgres container unavailable: %v", containerErr)
	}
	return containerDSN
}

// terminateContainer stops the shared container, if one was started.
func terminateContainer() {
	if container != nil {
		_ = container.Terminate(context.Background())
	}
}

// OpenTestDB connects to the test database, applies migrations and empties
// every table.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, databaseURL(t))
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database), "migrations must run successfully")
	require.NoError(t, TruncateTables(ctx, database))
	return database
}

// TruncateTables empties every application table for a clean test state.
func TruncateTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `TRUNCATE TABLE tokens_validation, votes, options_sondage, sondages, categories, utilisateurs RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
