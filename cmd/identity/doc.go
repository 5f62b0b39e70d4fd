// Package identity defines the identity record and its persistence boundary.
//
// It owns the user's credential and session state: unique username/email,
// the password hash, and the single trusted refresh-token slot. Stores expose
// an atomic compare-and-set on that slot; it is the concurrency anchor for
// refresh rotation.
//
// This package is intentionally dependency-light and security-first.
package identity
