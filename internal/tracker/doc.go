// Package tracker batches tracking events and delivers them to the
// collector.
//
// A Tracker is embedded in a host described by Environment. Start runs
// the initialisation sequence and fails closed: Do-Not-Track and an
// invalid license each leave the tracker refusing every event. Once
// started, host interactions arrive through the Handle methods and
// TrackEvent.
//
// Every event is gated by the license quota, by feature flags for
// conversion and custom events and, when a consent source is wired, by
// analytics consent. Accepted events enter a bounded queue. When the queue
// is full the oldest low-priority event is evicted. Flushes take up to
// BatchSize events from the head; a failed batch goes back to the head in
// order and automatic flushes back off exponentially.
package tracker
