// Package session implements the credential and session lifecycle: register,
// login, refresh rotation, logout, and password change.
//
// The model is single-active-refresh-token: each identity trusts exactly one
// refresh token at a time. Login overwrites the slot, refresh rotates it with
// an atomic compare-and-set, logout clears it. A refresh token that loses the
// compare-and-set is treated as reuse and the whole slot is revoked.
package session
