package storage_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opencircle/insights-core/internal/storage"
)

// Shared testcontainer across this package's tests, grounded on the
// teacher's test/util/database.go shared-container pattern — started
// once, migrated once via our own golang-migrate runner instead of
// ent's Schema.Create.
var (
	sharedCfg      storage.Config
	containerOnce  sync.Once
	containerErr   error
)

func requirePostgres(t *testing.T) storage.Config {
	t.Helper()
	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := tcpostgres.Run(ctx,
			"postgres:17-alpine",
			tcpostgres.WithDatabase("insights_core_test"),
			tcpostgres.WithUsername("insights"),
			tcpostgres.WithPassword("insights"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("starting postgres container: %w", err)
			return
		}
		host, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = err
			return
		}
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = err
			return
		}
		sharedCfg = storage.Config{
			Host: host, Port: port.Int(), User: "insights", Password: "insights",
			Database: "insights_core_test", SSLMode: "disable",
			MaxOpenConns: 5, MaxIdleConns: 2,
			ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
		}
		if err := storage.Migrate(sharedCfg); err != nil {
			containerErr = fmt.Errorf("running migrations: %w", err)
		}
	})
	require.NoError(t, containerErr, "postgres testcontainer setup")
	return sharedCfg
}

func openTestPool(t *testing.T) *storage.Pool {
	t.Helper()
	cfg := requirePostgres(t)
	pool, err := storage.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
