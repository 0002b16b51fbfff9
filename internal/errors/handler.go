package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// ErrorHandler renders errors as RFC 7807 problems
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	problem := ErrorToProblem(err, r.URL.Path)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", problem.Status),
	)
	respond(w, r, problem)
}

// ErrorToProblem maps an error onto problem details. Problems pass through
// unchanged; sentinels get their dedicated type.
func ErrorToProblem(err error, instance string) *ProblemDetails {
	var problem *ProblemDetails
	if errors.As(err, &problem) {
		if problem.Instance == "" {
			problem.Instance = instance
		}
		return problem
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout,
			"Request Timeout", "The request took too long to process and was cancelled", instance)
	case errors.Is(err, ErrLicenseExpired):
		return NewProblemDetails(http.StatusForbidden, TypeLicenseExpired,
			"License Expired", err.Error(), instance).
			WithExtension("error_type", string(LicenseErrorExpired))
	case errors.Is(err, ErrDomainMismatch):
		return NewProblemDetails(http.StatusForbidden, TypeLicenseDomain,
			"Domain Mismatch", err.Error(), instance).
			WithExtension("error_type", string(LicenseErrorDomainMismatch))
	case errors.Is(err, ErrQuotaExceeded):
		return NewProblemDetails(http.StatusTooManyRequests, TypeLicenseQuota,
			"Monthly Quota Reached", err.Error(), instance).
			WithExtension("error_type", string(LicenseErrorQuotaExceeded))
	case errors.Is(err, ErrLicenseInvalid), errors.Is(err, ErrUnlicensed):
		return NewProblemDetails(http.StatusUnauthorized, TypeLicenseInvalid,
			"Invalid License", err.Error(), instance)
	case errors.Is(err, ErrFeatureDisabled):
		return NewProblemDetails(http.StatusForbidden, TypeFeature,
			"Feature Not Available", err.Error(), instance)
	case errors.Is(err, ErrNotFound):
		return NewProblemDetails(http.StatusNotFound, TypeNotFound,
			"Resource Not Found", err.Error(), instance)
	default:
		return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", "An unexpected error occurred while processing your request", instance)
	}
}

// respond renders a problem tagged with the request id
func respond(w http.ResponseWriter, r *http.Request, problem *ProblemDetails) {
	problem.WithExtension("trace_id", middleware.GetReqID(r.Context()))
	_ = render.Render(w, r, problem)
}

// BadRequest renders a validation problem
func (h *ErrorHandler) BadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	respond(w, r, NewProblemDetails(http.StatusBadRequest, TypeValidation, "Validation Failed", detail, r.URL.Path))
}

// HandlePanic logs a recovered panic with its stack and answers 500. The
// panic value and stack are only exposed when includeStack is set.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered any) {
	stack := string(debug.Stack())
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", stack),
	)

	problem := NewProblemDetails(http.StatusInternalServerError, TypeInternal,
		"Internal Server Error", "An unexpected error occurred", r.URL.Path)
	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprint(recovered)).WithExtension("stack", stack)
	}
	respond(w, r, problem)
}

func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	respond(w, r, NewProblemDetails(http.StatusNotFound, TypeNotFound,
		"Not Found", "No collector endpoint at "+r.URL.Path, r.URL.Path))
}

func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respond(w, r, NewProblemDetails(http.StatusMethodNotAllowed, TypeValidation,
		"Method Not Allowed", fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path), r.URL.Path))
}
