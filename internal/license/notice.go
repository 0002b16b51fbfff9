package license

import (
	"context"
	"log/slog"
	"time"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
)

// Notice is a time-limited, user-visible license message
type Notice struct {
	Kind    apperrors.LicenseErrorKind `json:"kind"`
	Title   string                     `json:"title"`
	Message string                     `json:"message"`
	// TTL is how long the host should keep the notice on screen
	TTL time.Duration `json:"ttl"`
}

// Notifier displays license notices to the end user
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// LogNotifier writes notices to a logger, for hosts without a UI
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, n.Title,
		slog.String("kind", string(n.Kind)),
		slog.String("message", n.Message),
		slog.Duration("ttl", n.TTL))
}

// NoticeFor returns the notice shown for a failure kind. Domain mismatches
// and unknown failures have no user-visible notice.
func NoticeFor(kind apperrors.LicenseErrorKind) (Notice, bool) {
	switch kind {
	case apperrors.LicenseErrorExpired:
		return Notice{
			Kind:    kind,
			Title:   "Pulse License Expired",
			Message: "Please renew your license to continue tracking.",
			TTL:     config.LicenseNoticeTTL,
		}, true
	case apperrors.LicenseErrorQuotaExceeded:
		return Notice{
			Kind:    kind,
			Title:   "Monthly Quota Reached",
			Message: "Upgrade your plan to continue tracking events.",
			TTL:     config.LicenseNoticeTTL,
		}, true
	default:
		return Notice{}, false
	}
}
