// Package http implements the handlers of the reference collector. The
// handlers are thin: they bind and validate requests, delegate to
// internal/services and render results with go-chi/render. Failures are
// answered as RFC 7807 problems through errors.ErrorHandler.
//
// Routes, relative to the collector root:
//
//	POST /validate  license validation used by the tracker's license manager
//	POST /events    event batches posted by the tracker
//	GET  /geo       privacy region of the caller
//	GET  /export    stored events as CSV or XLSX (exportData feature)
//	GET  /ws        live event stream (realTimeAnalytics feature)
//	GET  /healthz   liveness
package http
