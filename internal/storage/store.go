package storage

import (
	"context"
	"fmt"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
)

// Store is the persistence surface used by the license, privacy and
// identity components
type Store interface {
	// Get returns the value or an error wrapping ErrNotFound
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Open builds the store selected by the configuration. The returned close
// function releases backend resources and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), noop, nil
	case "file":
		fs, err := NewFileStore(cfg.Path, cfg.EncryptionKey)
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	case "redis":
		rs, err := NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			return nil, noop, err
		}
		return rs, rs.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func notFound(key string) error {
	return fmt.Errorf("key %q: %w", key, apperrors.ErrNotFound)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrStorageUnavailable, err)
}
