// Package app wires the reference collector: configuration, logging,
// telemetry, the license registry, the event log, the live hub and the
// HTTP server, with graceful shutdown.
package app
