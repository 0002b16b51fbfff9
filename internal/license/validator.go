package license

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

// Validator performs one remote license validation
type Validator interface {
	Validate(ctx context.Context, req ValidationRequest) (*ValidationResponse, error)
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(ctx context.Context, req ValidationRequest) (*ValidationResponse, error)

func (f ValidatorFunc) Validate(ctx context.Context, req ValidationRequest) (*ValidationResponse, error) {
	return f(ctx, req)
}

// StatusError is returned for non-2xx validation answers. Message carries
// the server's error text when the body had one.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap classifies every status failure as a network error
func (e *StatusError) Unwrap() error {
	return apperrors.ErrNetworkError
}

// HTTPValidator posts to {endpoint}/validate
type HTTPValidator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPValidator creates a validator for the given license endpoint
func NewHTTPValidator(endpoint string, timeout time.Duration) *HTTPValidator {
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	return &HTTPValidator{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient replaces the underlying client
func (v *HTTPValidator) WithHTTPClient(c *http.Client) *HTTPValidator {
	v.client = c
	return v
}

// Validate implements Validator
func (v *HTTPValidator) Validate(ctx context.Context, req ValidationRequest) (*ValidationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode validation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint+config.ValidatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build validation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(config.HeaderLicense, req.LicenseKey)
	httpReq.Header.Set(config.HeaderSite, req.SiteID)
	httpReq.Header.Set(config.HeaderDomain, req.Domain)

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", apperrors.ErrNetworkError, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: serverMessage(raw)}
	}

	var out ValidationResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", apperrors.ErrNetworkError, err)
	}
	return &out, nil
}

// serverMessage extracts "error" or the problem "detail" from a body
func serverMessage(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Detail
}
