// Package shared holds helpers used by more than one Pulse package.
//
// The testutil subpackage provides a capturing slog handler, a failing
// key-value store and a fake license validation server. It must not import
// the packages it helps test.
package shared
