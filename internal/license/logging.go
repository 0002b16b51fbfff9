package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"pulse/internal/infrastructure"
)

// logAction logs a license action with trace correlation and mirrors it as
// a span event
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	infrastructure.AddSpanEvent(ctx, "license."+action,
		attribute.String("action", action),
		attribute.String("result", result),
	)

	all := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}
	if traceID := infrastructure.TraceIDFromContext(ctx); traceID != "" {
		all = append(all, slog.String("otel_trace_id", traceID))
	}
	all = append(all, attrs...)

	m.logger.LogAttrs(ctx, level, result, all...)
}

func (m *Manager) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// keyAttrs identifies a license in logs without exposing the key
func keyAttrs(siteID, key string) []slog.Attr {
	return []slog.Attr{
		slog.String("site_id", siteID),
		slog.String("license_key_masked", MaskKey(key)),
		slog.String("license_key_hash", hashLicenseKey(key)),
	}
}

// MaskKey keeps the first and last four characters of a license key
func MaskKey(key string) string { return infrastructure.MaskSecret(key) }

// hashLicenseKey is a short audit correlation hash of the key
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}
