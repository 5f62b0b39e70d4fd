// Package password provides password hashing and verification.
//
// It implements Argon2id over a PHC-style encoded string and includes:
// - Configurable Argon2id work factors (via environment variables)
// - Password length policy
// - Strict hash decoding and verification with anti-DoS bounds
//
// Security notes:
// - Hash strings are untrusted input during Verify and are validated as such.
// - Verification refuses hashes whose parameters exceed reasonable bounds.
package password
