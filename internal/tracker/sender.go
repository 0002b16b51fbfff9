package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
)

// Sender delivers one batch
type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(ctx context.Context, p Payload) error

func (f SenderFunc) Send(ctx context.Context, p Payload) error { return f(ctx, p) }

// HTTPSender posts batches to {endpoint}/events
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSender(endpoint string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	return &HTTPSender{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Send succeeds on any 2xx answer
func (s *HTTPSender) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+config.EventsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build events request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(config.HeaderLicense, p.LicenseKey)
	req.Header.Set(config.HeaderSite, p.SiteID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrNetworkError, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d: %s", apperrors.ErrNetworkError, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}
