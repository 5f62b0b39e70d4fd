// Package token issues and verifies the two session token kinds.
//
// Access tokens are short-lived and carry the public identity snapshot for
// request authentication. Refresh tokens are longer-lived, carry only the
// subject id, and are signed with an independent secret so one kind can never
// stand in for the other. The issuer holds no per-token state; everything
// needed to verify a token is the token itself plus configuration.
package token
