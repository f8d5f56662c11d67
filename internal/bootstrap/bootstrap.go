// Package bootstrap builds infrastructure shared by the server and scentctl from config.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/scentmatch/backend/config"
	"github.com/scentmatch/backend/internal/domain"
	"github.com/scentmatch/backend/internal/infrastructure/cache"
	"github.com/scentmatch/backend/internal/infrastructure/embedding"
	"github.com/scentmatch/backend/internal/infrastructure/storage/sqlstore"
)

// OpenStore connects to the configured database and applies migrations
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, sqlstore.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}, logger)
}

// Closer is a cache that owns resources
type Closer interface {
	domain.CacheRepository
	Close() error
}

// NewCache builds the configured search result cache
func NewCache(cfg config.CacheConfig) (Closer, error) {
	switch cfg.Type {
	case "redis":
		c, err := cache.NewRedisCache(cache.RedisConfig{URL: cfg.RedisURL})
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		return c, nil
	default:
		return cache.NewMemoryCache(cache.MemoryConfig{}), nil
	}
}

// NewEmbedder builds a failover embedder over the configured providers.
// It returns nil when no provider is configured, which disables semantic matching.
func NewEmbedder(cfg config.EmbeddingConfig, logger zerolog.Logger) (*embedding.Failover, error) {
	if len(cfg.Providers) == 0 {
		return nil, nil
	}

	providers := make([]embedding.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		provider, err := embedding.NewProvider(embedding.ProviderSpec{
			Name:           p.Name,
			Kind:           p.Kind,
			BaseURL:        p.BaseURL,
			APIKey:         p.APIKey,
			Model:          p.Model,
			Dimensions:     p.Dimensions,
			Timeout:        cfg.Timeout,
			RequestsPerSec: cfg.RequestsPerSec,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}

	return embedding.NewFailover(providers, embedding.FailoverConfig{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		Timeout:          cfg.Timeout,
	}, logger), nil
}
