//go:build integration

// Package pgtest provides a migrated Postgres for integration tests. It uses
// TEST_DATABASE_URL when set and otherwise starts a throwaway container.
package pgtest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"clubattendance/internal/store"
)

// Open returns a migrated database that is closed when t finishes.
func Open(t *testing.T) *store.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		container, err := tcpostgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:16-alpine"),
			tcpostgres.WithDatabase("club"),
			tcpostgres.WithUsername("club"),
			tcpostgres.WithPassword("club"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		require.NoError(t, err, "start postgres container")
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := store.NewDB(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

// Truncate empties tables between tests.
func Truncate(t *testing.T, db *store.DB, tables ...string) {
	t.Helper()
	_, err := db.Client.ExecContext(context.Background(), "TRUNCATE "+strings.Join(tables, ", "))
	require.NoError(t, err)
}
