// Package store persists the relay state document: accounts, proxy bindings,
// proxy health, and settings. Backends hold one document as a whole; the
// Cache wrapper in this package is the process-wide authority over it.
package store

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/chat-relay/internal/config"
	"github.com/fairyhunter13/chat-relay/internal/domain"
)

// New selects a backend from configuration.
func New(cfg config.Config) (domain.StateStore, error) {
	switch cfg.StoreBackend {
	case domain.StoreBackendMemory:
		return NewMemoryStore(), nil
	case domain.StoreBackendFile:
		return NewFileStore(cfg.StoreFilePath), nil
	case domain.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, cfg.RedisKey), nil
	default:
		return nil, fmt.Errorf("op=store.new: unknown backend %q: %w", cfg.StoreBackend, domain.ErrInvalidArgument)
	}
}
