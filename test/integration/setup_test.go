//go:build integration

// Package integration runs the facility registry and booking repository
// against real Postgres and MongoDB servers. Run with
//
//	go test -tags integration ./test/integration/...
//
// TEST_DATABASE_URL and TEST_MONGO_URL point the suite at existing servers;
// otherwise it starts throwaway containers with docker.
package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bedalloc/bedalloc/internal/domain/allocation"
	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/db"
	"github.com/bedalloc/bedalloc/internal/platform/mongostore"
	"github.com/bedalloc/bedalloc/migrations"
)

// testStores holds the shared database infrastructure, initialized once in TestMain.
type testStores struct {
	Pool  *pgxpool.Pool
	Mongo *mongostore.Store
}

var globalDB *testStores

func TestMain(m *testing.M) {
	ctx := context.Background()

	stores, cleanup, err := setupStores(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up integration stores: %v\n", err)
		os.Exit(1)
	}

	globalDB = stores
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupStores(ctx context.Context) (*testStores, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	pgURL := os.Getenv("TEST_DATABASE_URL")
	if pgURL == "" {
		url, stop, err := startPostgres(ctx)
		if err != nil {
			return nil, nil, err
		}
		pgURL = url
		cleanups = append(cleanups, stop)
	}
	pool, err := db.NewPool(ctx, pgURL, db.PoolOptions{MaxConns: 20, ConnectTimeout: 10 * time.Second})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, pool.Close)
	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	mongoURL := os.Getenv("TEST_MONGO_URL")
	if mongoURL == "" {
		url, stop, err := startMongo(ctx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		mongoURL = url
		cleanups = append(cleanups, stop)
	}
	st, err := mongostore.Connect(ctx, mongoURL, "bedalloc_integration_"+uuid.NewString()[:8])
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, func() {
		st.Database().Drop(context.Background())
		st.Close(context.Background())
	})
	if err := st.EnsureIndexes(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	return &testStores{Pool: pool, Mongo: st}, cleanup, nil
}

// backend is one store implementation under test.
type backend struct {
	name     string
	registry facility.Registry
	bookings allocation.Repository
}

func backends() []backend {
	return []backend{
		{"postgres", facility.NewRegistryPG(globalDB.Pool), allocation.NewRepoPG(globalDB.Pool)},
		{"mongo", facility.NewRegistryMongo(globalDB.Mongo.Database()), allocation.NewRepoMongo(globalDB.Mongo.Database())},
	}
}

// uniqueName keeps tests independent without truncating shared tables.
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s %s", prefix, uuid.NewString()[:8])
}

func provision(t *testing.T, ctx context.Context, reg facility.Registry, f *facility.Facility) {
	t.Helper()
	created, err := reg.Provision(ctx, f)
	if err != nil {
		t.Fatalf("provision %s: %v", f.Name, err)
	}
	if !created {
		t.Fatalf("provision %s: expected a new record", f.Name)
	}
}

func mustGet(t *testing.T, ctx context.Context, reg facility.Registry, name string) *facility.Facility {
	t.Helper()
	f, err := reg.GetByName(ctx, name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	if err := f.CheckInvariant(); err != nil {
		t.Fatalf("invariant: %v", err)
	}
	return f
}
