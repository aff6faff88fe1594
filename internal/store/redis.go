package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
)

// RedisStore keeps one key per tab and lets Redis enforce the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

var _ schemas.ResultStore = (*RedisStore)(nil)

// OpenRedis connects to the configured server and verifies the connection.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisStore(client, ttl, logger), nil
}

// NewRedisStore wraps an existing client. The store owns the client and
// closes it on Close.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, ttl: ttl, log: logger.Named("store.redis")}
}

// Save replaces the tab's stored result. A zero TTL keeps the key forever.
func (s *RedisStore) Save(ctx context.Context, result *schemas.ScanResult) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, schemas.ResultKey(result.TabID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write scan result to redis: %w", err)
	}
	return nil
}

// Get returns the tab's live result or (nil, nil).
func (s *RedisStore) Get(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	return absentAsNil(s.load(ctx, tab))
}

func (s *RedisStore) load(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	data, err := s.client.Get(ctx, schemas.ResultKey(tab)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, schemas.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scan result from redis: %w", err)
	}
	return decodeResult(data)
}

// Close releases the client.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		s.log.Warn("Error closing redis client.", zap.Error(err))
		return err
	}
	return nil
}
