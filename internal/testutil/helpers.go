// internal/testutil/helpers.go
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/temmyjay001/payments-core/internal/config"
	"github.com/temmyjay001/payments-core/internal/storage"
)

// SetupTestDB returns a migrated database. It uses TEST_DATABASE_URL when set
// and otherwise starts a throwaway Postgres container.
func SetupTestDB(t *testing.T) *storage.DB {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		databaseURL = startPostgres(t)
	}

	require.NoError(t, storage.Migrate(databaseURL), "Failed to migrate test database")

	cfg := &config.Config{
		DatabaseURL:            databaseURL,
		DatabaseMaxConnections: 5,
		DatabaseMaxIdleTime:    time.Minute * 5,
	}

	db, err := storage.NewPostgresDB(cfg)
	require.NoError(t, err, "Failed to connect to test database")

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "payments_test"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://postgres:secret@%s:%s/payments_test?sslmode=disable", host, port.Port())
}

// CleanupTables empties the given tables between tests.
func CleanupTables(t *testing.T, db *storage.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		_, err := db.Exec(context.Background(), "TRUNCATE TABLE "+table+" CASCADE")
		require.NoError(t, err)
	}
}

// RandomRef generates a unique gateway-style reference for testing
func RandomRef(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

// SkipIfShort skips integration tests in -short mode
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
