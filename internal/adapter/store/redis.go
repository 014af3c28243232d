package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/chat-relay/internal/domain"
)

// RedisStore persists the state document under a single key in an external
// key-value cache.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore constructs a RedisStore over the given client and key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Name identifies the backend.
func (s *RedisStore) Name() string { return domain.StoreBackendRedis }

// Load fetches and decodes the document. A missing key maps to ErrNotFound,
// an undecodable payload to ErrStoreCorrupt.
func (s *RedisStore) Load(ctx domain.Context) (domain.StateDocument, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.StateDocument{}, fmt.Errorf("op=store.redis.load key=%s: %w", s.key, domain.ErrNotFound)
		}
		return domain.StateDocument{}, fmt.Errorf("op=store.redis.load key=%s: %w", s.key, err)
	}
	var doc domain.StateDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.StateDocument{}, fmt.Errorf("op=store.redis.load key=%s: %v: %w", s.key, err, domain.ErrStoreCorrupt)
	}
	doc.Normalize()
	return doc, nil
}

// Save serializes the document and replaces the key, no expiry.
func (s *RedisStore) Save(ctx domain.Context, doc domain.StateDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("op=store.redis.save: %w", err)
	}
	if err := s.client.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("op=store.redis.save key=%s: %w", s.key, err)
	}
	return nil
}

// Ping probes the backing server for readiness checks.
func (s *RedisStore) Ping(ctx domain.Context) error {
	return s.client.Ping(ctx).Err()
}
