// Package store persists the last ScanResult of every tab. Four backends
// share one contract: a write replaces the tab's previous result wholesale,
// a read of an absent or expired result yields (nil, nil), and an optional
// TTL evicts results the way an ephemeral browser session would.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// New opens the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.ResultStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend := strings.ToLower(cfg.Backend)
	logger.Debug("Opening result store.", zap.String("backend", backend), zap.Duration("ttl", cfg.TTL))

	switch backend {
	case config.BackendMemory:
		return NewMemoryStore(cfg.TTL), nil
	case config.BackendRedis:
		return OpenRedis(ctx, cfg.Redis, cfg.TTL, logger)
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.Postgres.URL, cfg.TTL, logger)
	case config.BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLite.Path, cfg.TTL, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

func encodeResult(result *schemas.ScanResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("cannot store a nil scan result")
	}
	if result.TabID == "" {
		return nil, fmt.Errorf("cannot store a scan result without a tab id")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scan result: %w", err)
	}
	return data, nil
}

func decodeResult(data []byte) (*schemas.ScanResult, error) {
	var result schemas.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode stored scan result: %w", err)
	}
	return &result, nil
}

// absentAsNil folds ErrResultNotFound into the (nil, nil) lookup contract.
func absentAsNil(result *schemas.ScanResult, err error) (*schemas.ScanResult, error) {
	if errors.Is(err, schemas.ErrResultNotFound) {
		return nil, nil
	}
	return result, err
}

// expiry returns the instant a result written at now stops being readable,
// or the zero time when ttl disables eviction.
func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
