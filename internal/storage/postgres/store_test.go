package postgres

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"expensegrid/internal/storage"
	"expensegrid/internal/storage/storagetest"
)

// startPostgres runs a throwaway server and returns its connection string.
// Tests are skipped when no container runtime is reachable.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("expensegrid"),
		tcpostgres.WithUsername("expensegrid"),
		tcpostgres.WithPassword("expensegrid"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestStoreContract(t *testing.T) {
	dsn := startPostgres(t)

	// Each subtest gets its own database so ids and rows start from scratch.
	n := 0
	storagetest.Run(t, func(t *testing.T) storage.Store {
		n++
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		admin, err := New(ctx, Config{URL: dsn}, nil)
		require.NoError(t, err)
		name := fmt.Sprintf("contract_%d", n)
		_, err = admin.pool.Exec(ctx, "CREATE DATABASE "+name)
		admin.Close()
		require.NoError(t, err)

		s, err := New(ctx, Config{URL: replaceDatabase(t, dsn, name)}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "postgres://%zz"}, nil)
	require.Error(t, err)
}

func replaceDatabase(t *testing.T, dsn, name string) string {
	t.Helper()
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	u.Path = "/" + name
	return u.String()
}
