// Package storage provides the key-value stores that stand in for browser
// local storage: an in-memory map, a JSON file (optionally encrypted at
// rest) and Redis for stores shared between processes.
//
// Values are opaque strings. A missing key is reported as errors.ErrNotFound;
// any other error means the store itself is unavailable and callers fall
// back to session-scoped state.
package storage
