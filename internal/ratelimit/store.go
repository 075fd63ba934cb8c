package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"reviewgate/internal/models"
)

// NewStore instantiates the counter store selected by cfg.Type.
// Supported types:
//   - memory: per-process maps, counters lost on restart
//   - redis: shared across instances, windows expire by TTL
//   - postgres: shared across instances, pruned by the Janitor
//   - sqlite: single instance, durable, pruned by the Janitor
func NewStore(ctx context.Context, cfg models.StorageConfig) (Store, error) {
	switch cfg.Type {
	case models.StorageTypeMemory, "":
		return NewMemoryStore(), nil
	case models.StorageTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		store := NewRedisStore(client, cfg.Redis.KeyPrefix)
		if err := store.Ping(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return store, nil
	case models.StorageTypePostgres:
		return NewPostgresStore(ctx, cfg.Database)
	case models.StorageTypeSQLite:
		return NewSQLiteStore(ctx, cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// SupportedStores lists every value accepted for storage.type.
func SupportedStores() []string {
	return []string{models.StorageTypeMemory, models.StorageTypeRedis, models.StorageTypePostgres, models.StorageTypeSQLite}
}
