// Package session implements the credential and session lifecycle.
//
// Access tokens are short-lived HS256 JWTs carried in a cookie. Refresh tokens
// are long-lived HS256 JWTs signed with a distinct secret and recorded in a
// Ledger that holds at most one live entry per principal.
//
// The Issuer mints sessions on signup and login. The Verifier resolves every
// protected request to a subject, transparently minting a new access token
// when the old one has expired and the refresh token is still on the ledger.
// Cookie handling lives in the HTTP layer.
package session
