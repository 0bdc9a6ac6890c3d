// Package security provides the pure validation functions every filesystem
// and shell operation passes through before it runs: path canonicalization
// with boundary enforcement, atomic file I/O, and shell command allow-list
// checks.
//
// Functions here are session-independent; the session runtime scopes them to
// its own project root.
package security

import "errors"

var (
	// ErrEscapesBoundary is returned when a path's canonical form is not a
	// descendant of the project root. Requests producing it are never
	// retried.
	ErrEscapesBoundary = errors.New("path escapes project boundary")

	// ErrNotFound is returned when the project root (or a file being read)
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotAllowed is returned when a shell command references an
	// executable outside the allow-list.
	ErrNotAllowed = errors.New("command not allowed")
)
