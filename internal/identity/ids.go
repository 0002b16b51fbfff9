package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
)

const (
	sessionPrefix        = "ps_"
	eventPrefix          = "pe_"
	visitorPrefix        = "pv_"
	sessionVisitorPrefix = "pv_session_"

	sessionRandomLen = 12
	eventRandomLen   = 8
)

// NewSessionID returns "ps_<unix ms>_<12 random chars>". Session ids live
// for one page load and are never persisted.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("%s%d_%s", sessionPrefix, now.UnixMilli(), randomBase36(sessionRandomLen))
}

// NewEventID returns "pe_<unix ms>_<8 random chars>"
func NewEventID(now time.Time) string {
	return fmt.Sprintf("%s%d_%s", eventPrefix, now.UnixMilli(), randomBase36(eventRandomLen))
}

// VisitorIDFor derives a new visitor id from a fingerprint and creation time
func VisitorIDFor(fp Fingerprint, created time.Time) string {
	return fmt.Sprintf("%s%s_%d", visitorPrefix, Hash(fp.JSON()), created.UnixMilli())
}

// SessionVisitorID is the visitor id used when storage is unavailable
func SessionVisitorID(sessionID string) string {
	return sessionVisitorPrefix + sessionID
}

// IsSessionScoped reports whether a visitor id is the storage-less fallback
func IsSessionScoped(visitorID string) bool {
	return strings.HasPrefix(visitorID, sessionVisitorPrefix)
}

// KVStore is the subset of storage.Store needed here
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Visitor is the outcome of visitor resolution
type Visitor struct {
	ID string
	// Returning is true when the id was already stored before this session
	Returning bool
	// Persisted is false for the session-scoped fallback
	Persisted bool
}

// ResolveVisitor loads the stored visitor id of a site or creates and stores
// a new one. Any storage failure yields the session-scoped fallback id.
func ResolveVisitor(ctx context.Context, store KVStore, siteID string, fp Fingerprint, sessionID string, now time.Time) (Visitor, error) {
	fallback := Visitor{ID: SessionVisitorID(sessionID)}
	if store == nil {
		return fallback, apperrors.ErrStorageUnavailable
	}

	key := config.VisitorKey(siteID)

	existing, err := store.Get(ctx, key)
	switch {
	case err == nil && existing != "":
		return Visitor{ID: existing, Returning: true, Persisted: true}, nil
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return fallback, err
	}

	id := VisitorIDFor(fp, now)
	if err := store.Set(ctx, key, id); err != nil {
		return fallback, err
	}
	return Visitor{ID: id, Persisted: true}, nil
}
