// Package authapi exposes the credential and session lifecycle over HTTP:
// registration with avatar upload, login, refresh rotation, logout, password
// change, and authenticated profile endpoints.
//
// Browsers get the refresh token as an HttpOnly cookie with a double-submit
// CSRF cookie; other clients carry tokens in the JSON body and Authorization
// header. Domain errors are translated to HTTP status codes in exactly one
// place (writeDomainError) so handlers stay declarative.
package authapi
