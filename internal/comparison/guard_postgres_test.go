package comparison_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opencircle/insights-core/internal/comparison"
	"github.com/opencircle/insights-core/internal/storage"
)

// openPostgresGuardPool starts a throwaway Postgres container for the
// advisory-lock fallback path — unlike the RedisGuard tests this needs
// a real server, since pg_advisory_xact_lock is a server-side primitive
// with no in-memory equivalent in the pack.
func openPostgresGuardPool(t *testing.T) *storage.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("insights_core_guard_test"),
		tcpostgres.WithUsername("insights"),
		tcpostgres.WithPassword("insights"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := storage.Config{
		Host: host, Port: port.Int(), User: "insights", Password: "insights",
		Database: "insights_core_guard_test", SSLMode: "disable",
		MaxOpenConns: 5, MaxIdleConns: 2,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	}
	pool, err := storage.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresGuard_AcquireRelease_RoundTrips(t *testing.T) {
	pool := openPostgresGuardPool(t)
	guard := comparison.NewPostgresGuard(pool)
	key := comparison.NewKey("tenant-a", "a1", "a2", "gpt-4o")

	lease, err := guard.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))

	lease2, err := guard.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, lease2.Release(context.Background()))
}

func TestPostgresGuard_SecondAcquireBlocksUntilFirstCommits(t *testing.T) {
	pool := openPostgresGuardPool(t)
	guard := comparison.NewPostgresGuard(pool)
	key := comparison.NewKey("tenant-a", "a1", "a2", "gpt-4o")

	first, err := guard.Acquire(context.Background(), key)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		lease, err := guard.Acquire(context.Background(), key)
		require.NoError(t, err)
		require.NoError(t, lease.Release(context.Background()))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Acquire returned before the first lease committed")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, first.Release(context.Background()))
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("second Acquire never succeeded after the first lease committed")
	}
}
