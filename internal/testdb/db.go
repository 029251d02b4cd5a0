// Package testdb provides a PostgreSQL database for integration tests.
//
// Open uses VIDGEN_TEST_DATABASE_URL or DATABASE_URL when one is set. Otherwise, when TEST_INTEGRATION is
// set, it starts a disposable postgres container with testcontainers. With
// neither, the calling test is skipped.
package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/vidgen/internal/ciutil"
	"github.com/phrazzld/vidgen/internal/platform/postgres"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestTimeout bounds connection setup and migrations.
const TestTimeout = 60 * time.Second

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error

	migrateMu sync.Mutex
	migrated  = map[string]bool{}
)

// DatabaseURL resolves the URL integration tests should use. An empty result
// means integration tests must be skipped.
func DatabaseURL(ctx context.Context) (string, error) {
	if url := ciutil.TestDatabaseURL(slog.Default()); url != "" {
		return url, nil
	}
	if !ciutil.IntegrationEnabled() {
		return "", nil
	}

	// The container lives for the whole test binary; the testcontainers reaper
	// removes it when the process exits.
	containerOnce.Do(func() {
		container, err := tcpostgres.Run(ctx,
			"docker.io/postgres:17-alpine",
			tcpostgres.WithDatabase("vidgen_test"),
			tcpostgres.WithUsername("vidgen"),
			tcpostgres.WithPassword("test-password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}
		containerURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})

	return containerURL, containerErr
}

// Open returns a migrated database connection, or skips t when no database is
// configured. The connection is closed when the test ends.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	url, err := DatabaseURL(ctx)
	require.NoError(t, err)
	if url == "" {
		t.Skip("no test database configured and TEST_INTEGRATION not set - skipping integration test")
	}

	db, err := postgres.Open(ctx, url)
	require.NoError(t, err, "failed to connect to test database")
	t.Cleanup(func() {
		if err := db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			t.Logf("failed to close test database: %v", err)
		}
	})

	migrateMu.Lock()
	defer migrateMu.Unlock()
	if !migrated[url] {
		quiet := slog.New(slog.NewJSONHandler(io.Discard, nil))
		require.NoError(t, postgres.Migrate(ctx, db, quiet, "up"), "failed to run migrations")
		migrated[url] = true
	}

	return db
}
