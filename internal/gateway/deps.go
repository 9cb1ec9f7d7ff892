package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/haasonsaas/tandem/internal/config"
	"github.com/haasonsaas/tandem/internal/realtime"
	"github.com/haasonsaas/tandem/internal/store"
)

// OpenStore builds the resource store selected by database.driver and
// applies its schema.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.Driver == "" || cfg.Driver == config.DatabaseMemory {
		return store.NewMemoryStore(), nil
	}
	st, err := store.Open(ctx, store.Config{
		Driver:          cfg.Driver,
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxConnections,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close() //nolint:errcheck
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// OpenVersionStore builds the version store selected by
// realtime.version_backend. The returned closer releases the Redis client.
func OpenVersionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (realtime.VersionStore, func() error, error) {
	if cfg.Realtime.VersionBackend != config.VersionBackendRedis {
		return realtime.NewMemoryVersionStore(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	if logger != nil {
		logger.Info("using redis version store", "addr", cfg.Redis.Addr)
	}
	return realtime.NewRedisVersionStore(client), client.Close, nil
}
