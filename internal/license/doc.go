// Package license decides whether a site may track and how much.
//
// A Manager validates a site id and license key against the remote
// validation endpoint, keeps the returned configuration, caches it in the
// key-value store for offline use and re-validates on a fixed interval.
//
// # Validity
//
// A configuration is valid only while the current time is strictly before
// its expiry. There is no separate active or suspended state, and an
// expired configuration disables every feature even if its flags are set.
//
// # Failure handling
//
// A failed initial validation leaves the manager unlicensed (fail closed)
// and surfaces a Notice classified as expired, quota exceeded or domain
// mismatch. Transport failures and non-2xx answers fall back to the cached
// configuration while it is unexpired. Periodic re-validation failures are
// logged and otherwise ignored.
//
// # Usage
//
// The monthly usage counter is process-local and approximate. CanTrackEvent
// turns false once the counter reaches the plan's monthly event limit.
package license
