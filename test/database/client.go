// Package database provides the shared testcontainers-backed PostgreSQL
// client used by every pkg/store and pkg/taskbus integration test.
package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/database"
)

// NewTestClient creates a test database client: an external PostgreSQL
// service when CI_DATABASE_URL is set, otherwise a disposable
// testcontainers-go container. database.NewClient applies every embedded
// migration before returning, so callers see a ready schema. The
// container/connection is torn down automatically via t.Cleanup.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("CI_DATABASE_URL")
	if dsn != "" {
		t.Log("using external PostgreSQL from CI_DATABASE_URL")
	} else {
		t.Log("using testcontainers for PostgreSQL")
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("destiny_test"),
			postgres.WithUsername("destiny_test"),
			postgres.WithPassword("destiny_test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(container); err != nil {
				t.Logf("failed to terminate postgres container: %v", err)
			}
		})

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	cfg := config.DefaultDatabaseConfig()
	cfg.DSN = dsn

	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}
