// Package token provides hashing primitives for server-stored token material.
//
// The plaintext refresh token lives only on the client; the credential store
// keeps a 64-char hex digest produced here. Two modes:
// - SHA-256(token) when no HMAC key is configured (dev/back-compat).
// - HMAC-SHA256(token, key) when VIDTUBE_TOKEN_HMAC_KEY is set.
//
// The digest is deterministic per token value, so compare-and-set over digests
// preserves exact-equality semantics on the stored slot.
package token
