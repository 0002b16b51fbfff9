// Package identity derives the privacy-safe identifiers attached to every
// tracking event: the per-load session id, the persisted visitor id, event
// ids, the coarse device fingerprint and UTM attribution.
//
// None of these values is meant to identify a person. The fingerprint
// carries only non-unique device traits, and its hash exists for grouping.
package identity
