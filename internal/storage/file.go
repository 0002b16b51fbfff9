package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pulse/internal/security"
)

// FileStore persists all keys as one JSON document. With an encryption key
// the document is sealed with AES-GCM before it touches the disk.
type FileStore struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
	crypto     *security.EncryptionConfig
	data       map[string]string
}

// FileOption configures a FileStore
type FileOption func(*FileStore)

// WithEncryptionConfig overrides the key derivation parameters
func WithEncryptionConfig(cfg *security.EncryptionConfig) FileOption {
	return func(f *FileStore) { f.crypto = cfg }
}

// NewFileStore loads path if it exists. An empty encryptionKey stores
// plain JSON.
func NewFileStore(path, encryptionKey string, opts ...FileOption) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}

	fs := &FileStore{
		path:   path,
		crypto: security.DefaultEncryptionConfig(),
		data:   make(map[string]string),
	}
	if encryptionKey != "" {
		fs.passphrase = []byte(encryptionKey)
	}
	for _, opt := range opts {
		opt(fs)
	}

	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.data[key]
	if !ok {
		return "", notFound(key)
	}
	return v, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.data[key]
	f.data[key] = value
	if err := f.persist(); err != nil {
		if existed {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return unavailable("file store set", err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.data[key]
	if !existed {
		return nil
	}
	delete(f.data, key)
	if err := f.persist(); err != nil {
		f.data[key] = prev
		return unavailable("file store delete", err)
	}
	return nil
}

func (f *FileStore) load() error {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return unavailable("file store load", err)
	}
	if len(raw) == 0 {
		return nil
	}

	if f.passphrase != nil {
		var payload security.EncryptedPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("parse encrypted store %s: %w", f.path, err)
		}
		raw, err = security.Decrypt(&payload, f.passphrase, f.crypto)
		if err != nil {
			return fmt.Errorf("decrypt store %s: %w", f.path, err)
		}
	}

	if err := json.Unmarshal(raw, &f.data); err != nil {
		return fmt.Errorf("parse store %s: %w", f.path, err)
	}
	return nil
}

// persist writes through a temp file and rename so readers never observe a
// partial document
func (f *FileStore) persist() error {
	raw, err := json.Marshal(f.data)
	if err != nil {
		return err
	}

	if f.passphrase != nil {
		payload, err := security.Encrypt(raw, f.passphrase, f.crypto)
		if err != nil {
			return err
		}
		if raw, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".pulse-store-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
