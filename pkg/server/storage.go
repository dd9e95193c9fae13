package server

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/acesso/pkg/config"
	"github.com/platinummonkey/acesso/pkg/observability"
	"github.com/platinummonkey/acesso/pkg/storage"
	"github.com/platinummonkey/acesso/pkg/storage/sqlstore"
)

// sqlDrivers maps configured driver names to database/sql driver names.
// The drivers themselves are registered by the binaries.
var sqlDrivers = map[string]string{
	"postgres": "postgres",
	"sqlite":   "sqlite3",
}

// Store is an opened document store and its resources
type Store struct {
	storage.DocumentStore
	closers []func() error
}

// Close releases connections in reverse order of opening
func (s *Store) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenStore opens the configured document store, wrapped by the Redis cache
// when enabled. Checks for every backend are added to health if non-nil.
func OpenStore(ctx context.Context, cfg *config.Config, logger *observability.Logger, health *observability.HealthChecker) (*Store, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	store := &Store{}

	switch cfg.Storage.Driver {
	case "memory", "":
		logger.Warn("using in-memory storage, data is lost on restart")
		store.DocumentStore = storage.NewMemoryStore()
	default:
		driver, ok := sqlDrivers[cfg.Storage.Driver]
		if !ok {
			return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
		}
		db, err := sqlstore.Open(ctx, sqlstore.ConnectionConfig{
			Driver:      driver,
			DSN:         cfg.Storage.DSN,
			MaxConns:    cfg.Storage.MaxConns,
			MinConns:    cfg.Storage.MinConns,
			Timeout:     cfg.Storage.Timeout,
			MaxLifetime: cfg.Storage.MaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		store.closers = append(store.closers, db.Close)

		sqlStore, err := sqlstore.New(db)
		if err != nil {
			store.Close() //nolint:errcheck
			return nil, err
		}
		store.DocumentStore = sqlStore
		if health != nil {
			health.AddDatabase(cfg.Storage.Driver, db)
		}
		logger.WithField("driver", cfg.Storage.Driver).Info("connected to document store")
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close() //nolint:errcheck
			store.Close()  //nolint:errcheck
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store.closers = append(store.closers, client.Close)

		// Overrides and audit entries must be read fresh; only the
		// employee directory is shared through Redis.
		store.DocumentStore = storage.NewCachedStore(store.DocumentStore, client, storage.CacheOptions{
			TTL:         cfg.Redis.CacheTTL,
			Collections: []string{storage.CollectionEmployees},
			Logger:      logger,
		})
		if health != nil {
			health.AddRedis("redis", client)
		}
		logger.WithField("addr", cfg.Redis.Addr).Info("redis document cache enabled")
	}

	return store, nil
}
