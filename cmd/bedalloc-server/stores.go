package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/config"
	"github.com/bedalloc/bedalloc/internal/domain/allocation"
	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/db"
	"github.com/bedalloc/bedalloc/internal/platform/mongostore"
	"github.com/bedalloc/bedalloc/migrations"
)

// stores bundles the two repositories of the selected backend.
type stores struct {
	registry facility.Registry
	bookings allocation.Repository
	checks   []db.Check
	migrator *db.Migrator
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
			MaxConns:       cfg.DBMaxConns,
			MinConns:       cfg.DBMinConns,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("backend", cfg.StoreBackend).Msg("connected to database")
		return &stores{
			registry: facility.NewRegistryPG(pool),
			bookings: allocation.NewRepoPG(pool),
			checks:   []db.Check{db.PoolCheck(pool)},
			migrator: db.NewMigrator(pool, migrations.FS),
			close:    pool.Close,
		}, nil

	case config.BackendMongo:
		st, err := mongostore.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureIndexes(ctx); err != nil {
			st.Close(context.Background())
			return nil, err
		}
		fixed, err := st.BackfillRosterBookingIDs(ctx)
		if err != nil {
			st.Close(context.Background())
			return nil, err
		}
		if fixed > 0 {
			logger.Warn().Int("entries", fixed).Msg("assigned booking ids to roster entries that had none")
		}
		logger.Info().Str("backend", cfg.StoreBackend).Str("database", cfg.MongoDatabase).Msg("connected to database")
		return &stores{
			registry: facility.NewRegistryMongo(st.Database()),
			bookings: allocation.NewRepoMongo(st.Database()),
			checks:   []db.Check{{Name: "mongo", Pinger: st}},
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				st.Close(ctx)
			},
		}, nil

	case config.BackendMemory:
		logger.Warn().Msg("using in-memory store, all state is lost on exit")
		return memoryStores(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func memoryStores() *stores {
	return &stores{
		registry: facility.NewMemoryRegistry(nil),
		bookings: allocation.NewMemoryRepository(),
		close:    func() {},
	}
}
