// Package services holds the business logic of the reference collector.
// HTTP handlers in internal/transport/http stay thin and delegate here.
//
// LicenseRegistry answers license validation requests from a YAML file of
// issued licenses and keeps the per-site monthly usage. EventLog stores the
// batches posted by trackers and fans them out to live subscribers.
// HealthService reports collector liveness.
package services
