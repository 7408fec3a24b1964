package bootstrap

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/speechquota/adapters/memory"
	"github.com/artpar/speechquota/adapters/postgres"
	"github.com/artpar/speechquota/adapters/redis"
	"github.com/artpar/speechquota/adapters/sqlite"
	"github.com/artpar/speechquota/config"
	"github.com/artpar/speechquota/ports"
)

// Store bundles the storage adapters selected by configuration.
type Store struct {
	Driver        string
	Ledger        ports.Ledger
	Subscriptions ports.SubscriptionStore // nil when the backend has no subscription table
	Pruner        ports.LedgerPruner
	health        func(context.Context) error
	closers       []func() error
}

// HealthCheck reports whether the backing store is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health(ctx)
}

// Close releases every resource opened for the store, newest first.
func (s *Store) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// OpenStore connects the configured backend and runs its migrations.
func OpenStore(ctx context.Context, cfg *config.Config, clk ports.Clock, logger zerolog.Logger) (*Store, error) {
	st := &Store{Driver: cfg.Storage.Driver}

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		ledger := memory.NewLedger(memory.LedgerConfig{Clock: clk})
		st.Ledger = ledger
		st.Pruner = ledger
		st.Subscriptions = memory.NewSubscriptionStore()
		st.closers = append(st.closers, ledger.Close)

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		ledger := sqlite.NewLedger(db, clk)
		st.Ledger = ledger
		st.Pruner = ledger
		st.Subscriptions = sqlite.NewSubscriptionStore(db)
		st.health = db.HealthCheck
		st.closers = append(st.closers, db.Close)

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig(cfg.Storage.DSN)
		pgCfg.MaxOpenConns = cfg.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = cfg.Postgres.ConnMaxLifetime
		pgCfg.ConnMaxIdleTime = cfg.Postgres.ConnMaxIdleTime

		db, err := postgres.Open(pgCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		ledger := postgres.NewLedger(db, clk)
		st.Ledger = ledger
		st.Pruner = ledger
		st.Subscriptions = postgres.NewSubscriptionStore(db)
		st.health = db.HealthCheck
		st.closers = append(st.closers, db.Close)

	case config.DriverRedis:
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}

		ledger := redis.NewLedger(rdb, redis.LedgerConfig{KeyPrefix: cfg.Redis.KeyPrefix, Clock: clk})
		st.Ledger = ledger
		st.Pruner = ledger
		st.health = ledger.HealthCheck
		st.closers = append(st.closers, rdb.Close)

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	logger.Info().Str("driver", st.Driver).Msg("usage ledger initialized")
	return st, nil
}
