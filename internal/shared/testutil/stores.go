package testutil

import (
	"context"
	"fmt"

	apperrors "pulse/internal/errors"
)

// FailingStore is a key-value store whose every call fails, standing in
// for disabled or full browser storage
type FailingStore struct{}

func (FailingStore) Get(_ context.Context, key string) (string, error) {
	return "", fmt.Errorf("get %q: %w", key, apperrors.ErrStorageUnavailable)
}

func (FailingStore) Set(_ context.Context, key, _ string) error {
	return fmt.Errorf("set %q: %w", key, apperrors.ErrStorageUnavailable)
}

func (FailingStore) Delete(_ context.Context, key string) error {
	return fmt.Errorf("delete %q: %w", key, apperrors.ErrStorageUnavailable)
}
